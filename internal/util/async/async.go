// Package async provides utilities for bounded parallel task execution.
//
// It contains generic helpers for running independent operations
// concurrently, limiting how many run at once, and collecting each one's
// result. One task's failure never stops its siblings.
package async

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Task is an asynchronous operation producing a value of type T.
type Task[T any] struct {
	Name string
	Func func(context.Context) (T, error)
}

// Result is the outcome of one task.
type Result[T any] struct {
	Value T
	Err   error
}

// RunBounded executes the tasks concurrently, at most limit at a time, and
// waits for all of them to finish. It returns one Result per task, keyed by
// task name. Task names must be unique.
//
// Tasks are never cancelled because a sibling failed; only ctx cancellation
// stops tasks that have not yet acquired a slot.
func RunBounded[T any](ctx context.Context, limit int64, tasks []Task[T]) map[string]Result[T] {
	results := make(map[string]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	type namedResult struct {
		name string
		res  Result[T]
	}

	sem := semaphore.NewWeighted(limit)
	resultChan := make(chan namedResult, len(tasks))

	for _, task := range tasks {
		task := task
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				var zero T
				resultChan <- namedResult{name: task.Name, res: Result[T]{Value: zero, Err: err}}
				return
			}
			defer sem.Release(1)

			value, err := task.Func(ctx)
			resultChan <- namedResult{name: task.Name, res: Result[T]{Value: value, Err: err}}
		}()
	}

	for i := 0; i < len(tasks); i++ {
		nr := <-resultChan
		results[nr.name] = nr.res
	}

	return results
}
