package aws

import (
	"context"
)

// SnapshotState is the provider-reported lifecycle state of an EBS snapshot.
type SnapshotState string

const (
	SnapshotStatePending   SnapshotState = "pending"
	SnapshotStateCompleted SnapshotState = "completed"
	SnapshotStateError     SnapshotState = "error"
)

// ImageState is the provider-reported lifecycle state of an AMI.
type ImageState string

const (
	ImageStatePending   ImageState = "pending"
	ImageStateAvailable ImageState = "available"
	ImageStateFailed    ImageState = "failed"
)

// RegisterImageOpts holds all parameters for registering an AMI from a
// completed snapshot.
type RegisterImageOpts struct {
	Name              string
	Description       string
	Architecture      string // "x86_64" or "arm64"
	BootMode          string // "legacy-bios" or "uefi"
	SnapshotID        string
	RootVolumeSizeGiB int32
}

// Client defines the region-qualified provider operations the publishing
// pipeline consumes.
type Client interface {
	// RegisterImage registers an AMI referencing a completed snapshot and
	// returns the new image ID. The image starts out pending.
	RegisterImage(ctx context.Context, region string, opts RegisterImageOpts) (string, error)

	// DescribeImage returns the current state of an AMI.
	DescribeImage(ctx context.Context, region, imageID string) (ImageState, error)

	// CopySnapshot starts copying a snapshot from sourceRegion into
	// targetRegion and returns the new snapshot's ID in the target region.
	// The copy completes asynchronously.
	CopySnapshot(ctx context.Context, sourceRegion, targetRegion, snapshotID, description string) (string, error)

	// DescribeSnapshot returns the current state of a snapshot.
	DescribeSnapshot(ctx context.Context, region, snapshotID string) (SnapshotState, error)

	// DeleteSnapshot deletes a snapshot.
	DeleteSnapshot(ctx context.Context, region, snapshotID string) error

	// DeregisterImage deregisters an AMI.
	DeregisterImage(ctx context.Context, region, imageID string) error

	// CreateTags tags the given resources.
	CreateTags(ctx context.Context, region string, resourceIDs []string, tags map[string]string) error
}
