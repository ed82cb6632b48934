// Package publish implements the multi-region image publishing pipeline:
// upload a raw disk image as a snapshot in a home region, register a machine
// image from it, and replicate the pair into any number of replica regions.
package publish

const bytesInGiB = 1 << 30

// ImageSpec is the immutable description of the image being published.
type ImageSpec struct {
	FilePath          string
	Format            string
	VirtualSizeBytes  uint64
	Architecture      string // "x86_64" or "arm64"
	BootMode          string // "legacy-bios" or "uefi"
	Label             string
	Name              string
	Description       string
	RootVolumeSizeGiB int32 // 0 derives the size from VirtualSizeBytes
	Tags              map[string]string
}

// rootVolumeGiB returns the root volume size, deriving it from the declared
// virtual size (rounded up to whole GiB) unless overridden.
func (s ImageSpec) rootVolumeGiB() int32 {
	if s.RootVolumeSizeGiB > 0 {
		return s.RootVolumeSizeGiB
	}
	return int32((s.VirtualSizeBytes + bytesInGiB - 1) / bytesInGiB)
}

// SnapshotState is the lifecycle state of a snapshot handle.
type SnapshotState string

const (
	SnapshotPending   SnapshotState = "pending"
	SnapshotCompleted SnapshotState = "completed"
	SnapshotFailed    SnapshotState = "failed"
)

// SnapshotHandle identifies a snapshot in one region.
type SnapshotHandle struct {
	ID     string
	Region string
	State  SnapshotState
}

// ImageState is the lifecycle state of an image handle.
type ImageState string

const (
	ImageRegistering ImageState = "registering"
	ImageAvailable   ImageState = "available"
	ImageFailed      ImageState = "failed"
)

// ImageHandle identifies a machine image in one region.
type ImageHandle struct {
	ID     string
	Region string
	State  ImageState
}

// RegionResult is the terminal outcome for one region. Handles are populated
// whenever the underlying resources were created, including for failed
// regions, so callers can find and clean up orphans.
type RegionResult struct {
	Region    string
	Published bool
	Image     ImageHandle
	Snapshot  SnapshotHandle
	Err       error
}

// Status is the aggregate outcome of a publish operation.
type Status int

const (
	// AllFailed means the home region itself failed; nothing was published.
	AllFailed Status = iota
	// PartialSuccess means the home region succeeded but at least one
	// replica region failed.
	PartialSuccess
	// AllSucceeded means every requested region holds an available image.
	AllSucceeded
)

func (s Status) String() string {
	switch s {
	case AllSucceeded:
		return "all-succeeded"
	case PartialSuccess:
		return "partial-success"
	default:
		return "all-failed"
	}
}

// PublishResult is the terminal artifact of a publish operation, assembled
// once per region and never mutated afterwards.
type PublishResult struct {
	Status  Status
	Regions map[string]RegionResult
}

// AMIs returns the region to image ID mapping for every published region.
func (r *PublishResult) AMIs() map[string]string {
	amis := make(map[string]string)
	for region, res := range r.Regions {
		if res.Published {
			amis[region] = res.Image.ID
		}
	}
	return amis
}
