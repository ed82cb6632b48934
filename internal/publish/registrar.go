package publish

import (
	"context"
	"errors"
	"fmt"
	"log"

	"amipub/internal/config"
	platformaws "amipub/internal/platform/aws"
	"amipub/internal/util/poll"
	"amipub/internal/util/retry"
)

// Registrar registers machine images from completed snapshots and waits for
// them to become available.
type Registrar struct {
	client   platformaws.Client
	timeouts *config.Timeouts
}

// NewRegistrar creates a Registrar.
func NewRegistrar(client platformaws.Client, timeouts *config.Timeouts) *Registrar {
	return &Registrar{
		client:   client,
		timeouts: timeouts,
	}
}

// Register issues one image registration referencing the snapshot, tags the
// image, and blocks until it is available or the registration timeout
// elapses.
//
// Registration is deliberately not deduplicated: registering twice from the
// same snapshot yields two independent images.
//
// On failure the returned handle still carries the image ID (if one was
// assigned) so the caller can locate the orphaned resource.
func (r *Registrar) Register(ctx context.Context, snapshot SnapshotHandle, spec ImageSpec) (ImageHandle, error) {
	region := snapshot.Region
	handle := ImageHandle{Region: region, State: ImageFailed}

	if snapshot.State != SnapshotCompleted {
		return handle, &RegistrationError{
			Region: region,
			Err:    fmt.Errorf("snapshot %s is %s, not completed", snapshot.ID, snapshot.State),
		}
	}

	imageID, err := r.client.RegisterImage(ctx, region, platformaws.RegisterImageOpts{
		Name:              spec.Name,
		Description:       spec.Description,
		Architecture:      spec.Architecture,
		BootMode:          spec.BootMode,
		SnapshotID:        snapshot.ID,
		RootVolumeSizeGiB: spec.rootVolumeGiB(),
	})
	if err != nil {
		return handle, &RegistrationError{Region: region, Err: err}
	}
	handle.ID = imageID
	handle.State = ImageRegistering

	if len(spec.Tags) > 0 {
		if err := r.client.CreateTags(ctx, region, []string{imageID}, spec.Tags); err != nil {
			// The image exists and will become usable; a missing tag is
			// not worth failing the region over.
			log.Printf("Warning: failed to tag image %s in %s: %v", imageID, region, err)
		}
	}

	log.Printf("Registered image %s in %s, waiting for it to become available...", imageID, region)

	if err := r.waitForAvailable(ctx, region, imageID); err != nil {
		if errors.Is(err, poll.ErrTimeout) {
			// The provider never reached a terminal state; the image may
			// still complete and linger as an orphan.
			return handle, &RegistrationError{Region: region, Timeout: true, Err: err}
		}
		handle.State = ImageFailed
		return handle, &RegistrationError{Region: region, Err: err}
	}

	handle.State = ImageAvailable
	return handle, nil
}

// waitForAvailable polls the image state until it is available. Transient
// describe errors are retried with backoff; provider rejections and
// non-transient errors end the wait immediately.
func (r *Registrar) waitForAvailable(ctx context.Context, region, imageID string) error {
	return poll.Until(ctx, r.timeouts.PollInterval, r.timeouts.RegisterWait, func(ctx context.Context) (bool, error) {
		var state platformaws.ImageState
		err := retry.WithExponentialBackoff(ctx, func() error {
			var describeErr error
			state, describeErr = r.client.DescribeImage(ctx, region, imageID)
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
		case platformaws.ImageStateAvailable:
			return true, nil
		case platformaws.ImageStateFailed:
			return false, fmt.Errorf("provider reported image %s failed", imageID)
		default:
			return false, nil
		}
	})
}
