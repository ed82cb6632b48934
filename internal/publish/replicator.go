package publish

import (
	"context"
	"errors"
	"fmt"
	"log"

	"amipub/internal/config"
	platformaws "amipub/internal/platform/aws"
	"amipub/internal/util/async"
	"amipub/internal/util/poll"
	"amipub/internal/util/retry"
)

// Replicator copies a published (snapshot, image) pair into additional
// regions. Each target region runs as its own task; one region's failure
// never blocks or cancels another's progress.
type Replicator struct {
	client    platformaws.Client
	registrar *Registrar
	timeouts  *config.Timeouts
}

// NewReplicator creates a Replicator.
func NewReplicator(client platformaws.Client, registrar *Registrar, timeouts *config.Timeouts) *Replicator {
	return &Replicator{
		client:    client,
		registrar: registrar,
		timeouts:  timeouts,
	}
}

// Replicate copies the source snapshot into every target region and registers
// an equivalent image there, with bounded parallelism. It returns one entry
// per target region; entries carry whatever handles were created even on
// failure.
func (r *Replicator) Replicate(ctx context.Context, source SnapshotHandle, sourceImage ImageHandle, spec ImageSpec, targets []string) map[string]RegionResult {
	tasks := make([]async.Task[RegionResult], 0, len(targets))
	for _, target := range targets {
		target := target
		if target == source.Region {
			// The orchestrator dedups this away; if it slips through,
			// reuse the source handles instead of re-copying.
			tasks = append(tasks, async.Task[RegionResult]{
				Name: target,
				Func: func(context.Context) (RegionResult, error) {
					return RegionResult{
						Region:    target,
						Published: true,
						Image:     sourceImage,
						Snapshot:  source,
					}, nil
				},
			})
			continue
		}

		tasks = append(tasks, async.Task[RegionResult]{
			Name: target,
			Func: func(ctx context.Context) (RegionResult, error) {
				return r.replicateRegion(ctx, source, spec, target)
			},
		})
	}

	results := async.RunBounded(ctx, int64(r.timeouts.ReplicaConcurrency), tasks)

	out := make(map[string]RegionResult, len(results))
	for region, res := range results {
		entry := res.Value
		entry.Region = region
		if res.Err != nil {
			entry.Published = false
			entry.Err = res.Err
		}
		out[region] = entry
	}
	return out
}

// replicateRegion runs one target region's pipeline: copy the snapshot, wait
// for the copy to complete, then register an image from it. The returned
// RegionResult always carries the handles that exist so far, even on error.
func (r *Replicator) replicateRegion(ctx context.Context, source SnapshotHandle, spec ImageSpec, target string) (RegionResult, error) {
	result := RegionResult{Region: target}

	log.Printf("Copying snapshot %s from %s to %s...", source.ID, source.Region, target)
	copyID, err := r.client.CopySnapshot(ctx, source.Region, target, source.ID, spec.Description)
	if err != nil {
		return result, &CopyError{Region: target, Err: err}
	}
	result.Snapshot = SnapshotHandle{ID: copyID, Region: target, State: SnapshotPending}

	if err := r.waitForSnapshot(ctx, target, copyID); err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			// The copy may still finish; the handle stays pending so the
			// caller can find the orphan.
			return result, &CopyError{Region: target, Timeout: true, Err: err}
		}
		result.Snapshot.State = SnapshotFailed
		return result, &CopyError{Region: target, Err: err}
	}
	result.Snapshot.State = SnapshotCompleted

	image, err := r.registrar.Register(ctx, result.Snapshot, spec)
	result.Image = image
	if err != nil {
		return result, err
	}

	result.Published = true
	log.Printf("Published image %s in %s", image.ID, target)
	return result, nil
}

// waitForSnapshot polls the copied snapshot until it completes, with the
// same retry discipline as image registration.
func (r *Replicator) waitForSnapshot(ctx context.Context, region, snapshotID string) error {
	return poll.Until(ctx, r.timeouts.PollInterval, r.timeouts.CopyWait, func(ctx context.Context) (bool, error) {
		var state platformaws.SnapshotState
		err := retry.WithExponentialBackoff(ctx, func() error {
			var describeErr error
			state, describeErr = r.client.DescribeSnapshot(ctx, region, snapshotID)
			if describeErr != nil && !platformaws.IsTransient(describeErr) {
				return retry.Fatal(describeErr)
			}
			return describeErr
		},
			retry.WithMaxRetries(r.timeouts.RetryMaxAttempts),
			retry.WithInitialDelay(r.timeouts.RetryInitialDelay))
		if err != nil {
			return false, err
		}

		switch state {
		case platformaws.SnapshotStateCompleted:
			return true, nil
		case platformaws.SnapshotStateError:
			return false, fmt.Errorf("provider reported snapshot %s in error state", snapshotID)
		default:
			return false, nil
		}
	})
}
