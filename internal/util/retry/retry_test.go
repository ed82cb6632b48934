package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestWithExponentialBackoff_Success(t *testing.T) {
	t.Parallel()
	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	err := WithExponentialBackoff(context.Background(), operation)

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_SuccessAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	err := WithExponentialBackoff(context.Background(), operation, WithInitialDelay(10*time.Millisecond))

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_MaxRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	operation := func() error {
		attempts++
		return errors.New("persistent error")
	}

	maxRetries := 3
	err := WithExponentialBackoff(context.Background(), operation,
		WithMaxRetries(maxRetries),
		WithInitialDelay(10*time.Millisecond))

	if err == nil {
		t.Error("Expected error after max retries, got nil")
	}
	// MaxRetries counts retries after the first attempt.
	expectedAttempts := maxRetries + 1
	if attempts != expectedAttempts {
		t.Errorf("Expected %d attempts (1 + %d retries), got: %d", expectedAttempts, maxRetries, attempts)
	}
}

func TestWithExponentialBackoff_FatalError(t *testing.T) {
	t.Parallel()
	attempts := 0
	fatalErr := errors.New("bad input")
	operation := func() error {
		attempts++
		return Fatal(fatalErr)
	}

	err := WithExponentialBackoff(context.Background(), operation, WithInitialDelay(10*time.Millisecond))

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, fatalErr) {
		t.Errorf("Expected wrapped fatal error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for fatal error, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	t.Parallel()
	attempts := 0
	operation := func() error {
		attempts++
		return errors.New("keep going")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithExponentialBackoff(ctx, operation, WithInitialDelay(time.Hour))

	if err == nil {
		t.Fatal("Expected error after cancellation, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got: %d", attempts)
	}
}

func TestWithExponentialBackoff_DelayCapped(t *testing.T) {
	t.Parallel()
	attempts := 0
	start := time.Now()
	operation := func() error {
		attempts++
		return fmt.Errorf("attempt %d", attempts)
	}

	err := WithExponentialBackoff(context.Background(), operation,
		WithMaxRetries(4),
		WithInitialDelay(time.Millisecond),
		WithMaxDelay(2*time.Millisecond),
		WithMultiplier(10))

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	// 4 delays at most 2ms each; generous upper bound for slow CI.
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Backoff not capped, took %v", elapsed)
	}
}

func TestIsFatal(t *testing.T) {
	t.Parallel()
	if IsFatal(errors.New("plain")) {
		t.Error("plain error reported fatal")
	}
	if !IsFatal(Fatal(errors.New("fatal"))) {
		t.Error("fatal error not reported fatal")
	}
	if !IsFatal(fmt.Errorf("wrapped: %w", Fatal(errors.New("fatal")))) {
		t.Error("wrapped fatal error not reported fatal")
	}
	if Fatal(nil) != nil {
		t.Error("Fatal(nil) should be nil")
	}
}
