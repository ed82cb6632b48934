package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformaws "amipub/internal/platform/aws"
)

func completedSnapshot(region string) SnapshotHandle {
	return SnapshotHandle{ID: "snap-1", Region: region, State: SnapshotCompleted}
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()
	var registered platformaws.RegisterImageOpts
	mock := &platformaws.MockClient{
		RegisterImageFunc: func(_ context.Context, _ string, opts platformaws.RegisterImageOpts) (string, error) {
			registered = opts
			return "ami-1", nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)

	assert.Equal(t, "ami-1", handle.ID)
	assert.Equal(t, "us-west-2", handle.Region)
	assert.Equal(t, ImageAvailable, handle.State)

	assert.Equal(t, "snap-1", registered.SnapshotID)
	assert.Equal(t, "x86_64", registered.Architecture)
	assert.Equal(t, "legacy-bios", registered.BootMode)
	assert.Equal(t, int32(2), registered.RootVolumeSizeGiB, "2 GiB image rounds to a 2 GiB root volume")

	assert.Equal(t, 1, mock.Calls("CreateTags"))
}

func TestRegister_RootVolumeSizeRoundsUp(t *testing.T) {
	t.Parallel()
	spec := testSpec()
	spec.VirtualSizeBytes = bytesInGiB + 1

	var registered platformaws.RegisterImageOpts
	mock := &platformaws.MockClient{
		RegisterImageFunc: func(_ context.Context, _ string, opts platformaws.RegisterImageOpts) (string, error) {
			registered = opts
			return "ami-1", nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	_, err := r.Register(context.Background(), completedSnapshot("us-west-2"), spec)
	require.NoError(t, err)
	assert.Equal(t, int32(2), registered.RootVolumeSizeGiB)
}

func TestRegister_RootVolumeSizeOverride(t *testing.T) {
	t.Parallel()
	spec := testSpec()
	spec.RootVolumeSizeGiB = 16

	var registered platformaws.RegisterImageOpts
	mock := &platformaws.MockClient{
		RegisterImageFunc: func(_ context.Context, _ string, opts platformaws.RegisterImageOpts) (string, error) {
			registered = opts
			return "ami-1", nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	_, err := r.Register(context.Background(), completedSnapshot("us-west-2"), spec)
	require.NoError(t, err)
	assert.Equal(t, int32(16), registered.RootVolumeSizeGiB)
}

func TestRegister_RejectsIncompleteSnapshot(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	r := NewRegistrar(mock, testTimeouts())

	snap := SnapshotHandle{ID: "snap-1", Region: "us-west-2", State: SnapshotPending}
	_, err := r.Register(context.Background(), snap, testSpec())

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.Zero(t, mock.Calls("RegisterImage"), "no register call for an incomplete snapshot")
}

func TestRegister_WaitsThroughPendingStates(t *testing.T) {
	t.Parallel()
	describes := 0
	mock := &platformaws.MockClient{
		DescribeImageFunc: func(context.Context, string, string) (platformaws.ImageState, error) {
			describes++
			if describes < 4 {
				return platformaws.ImageStatePending, nil
			}
			return platformaws.ImageStateAvailable, nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)
	assert.Equal(t, ImageAvailable, handle.State)
	assert.Equal(t, 4, describes)
}

func TestRegister_ProviderFailureIsNotTimeout(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{
		DescribeImageFunc: func(context.Context, string, string) (platformaws.ImageState, error) {
			return platformaws.ImageStateFailed, nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.False(t, regErr.Timeout, "a provider rejection is not a timeout")
	assert.Equal(t, ImageFailed, handle.State)
}

func TestRegister_TimeoutIsDistinguishable(t *testing.T) {
	t.Parallel()
	timeouts := testTimeouts()
	timeouts.RegisterWait = 20 * time.Millisecond

	mock := &platformaws.MockClient{
		DescribeImageFunc: func(context.Context, string, string) (platformaws.ImageState, error) {
			return platformaws.ImageStatePending, nil
		},
	}
	r := NewRegistrar(mock, timeouts)

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.True(t, regErr.Timeout)
	// The image may still become available; the handle stays registering
	// and keeps its ID for later cleanup.
	assert.NotEmpty(t, handle.ID)
	assert.Equal(t, ImageRegistering, handle.State)
}

func TestRegister_RetriesTransientDescribeErrors(t *testing.T) {
	t.Parallel()
	describes := 0
	mock := &platformaws.MockClient{
		DescribeImageFunc: func(context.Context, string, string) (platformaws.ImageState, error) {
			describes++
			if describes < 3 {
				return "", &smithy.GenericAPIError{Code: "RequestLimitExceeded", Fault: smithy.FaultClient}
			}
			return platformaws.ImageStateAvailable, nil
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)
	assert.Equal(t, ImageAvailable, handle.State)
	assert.Equal(t, 3, describes)
}

func TestRegister_NonTransientDescribeErrorFailsImmediately(t *testing.T) {
	t.Parallel()
	describes := 0
	mock := &platformaws.MockClient{
		DescribeImageFunc: func(context.Context, string, string) (platformaws.ImageState, error) {
			describes++
			return "", &smithy.GenericAPIError{Code: "InvalidParameterValue", Fault: smithy.FaultClient}
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	_, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())

	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.False(t, regErr.Timeout)
	assert.Equal(t, 1, describes, "non-transient errors are not retried")
}

func TestRegister_TagFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{
		CreateTagsFunc: func(context.Context, string, []string, map[string]string) error {
			return errors.New("tagging unavailable")
		},
	}
	r := NewRegistrar(mock, testTimeouts())

	handle, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)
	assert.Equal(t, ImageAvailable, handle.State)
}

func TestRegister_NoDeduplication(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	r := NewRegistrar(mock, testTimeouts())

	first, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)
	second, err := r.Register(context.Background(), completedSnapshot("us-west-2"), testSpec())
	require.NoError(t, err)

	// Registering twice from the same snapshot yields two independent
	// images; nothing deduplicates registrations.
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, mock.Calls("RegisterImage"))
}
