package publish

import (
	"context"
	"log"
)

// undoStep is one best-effort deletion of a resource left dangling by a
// fatal failure.
type undoStep struct {
	resource string
	run      func(ctx context.Context) error
}

// undoList accumulates cleanup steps as resources are created along the
// fatal (home-region) path. Replica-region resources are never added here:
// those are enumerated in the result for the caller to inspect instead of
// being destroyed while possibly still converging.
type undoList struct {
	steps []undoStep
}

func (u *undoList) add(resource string, run func(ctx context.Context) error) {
	u.steps = append(u.steps, undoStep{resource: resource, run: run})
}

// runAll executes the accumulated steps in reverse order. Failures are
// logged as cleanup errors and never escalated; the error that triggered
// the cleanup stays the primary error. Cleanup uses a fresh context so it
// still runs after the operation's context was cancelled.
func (u *undoList) runAll() {
	for i := len(u.steps) - 1; i >= 0; i-- {
		step := u.steps[i]
		log.Printf("Cleaning up %s...", step.resource)
		if err := step.run(context.Background()); err != nil {
			cleanupErr := &CleanupError{Resource: step.resource, Err: err}
			log.Printf("Warning: %v", cleanupErr)
		}
	}
}
