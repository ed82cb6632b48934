package publish

import (
	"context"
	"fmt"
	"log"

	"amipub/internal/config"
	"amipub/internal/imageinfo"
	platformaws "amipub/internal/platform/aws"
)

// SnapshotUploader uploads a local raw image file as a snapshot in a region,
// returning the snapshot ID once the snapshot is completed.
type SnapshotUploader interface {
	Upload(ctx context.Context, filePath, region, description string) (string, error)
}

// Publisher drives the whole publish operation: upload, home-region
// registration, then replica fan-out.
type Publisher struct {
	uploader   SnapshotUploader
	client     platformaws.Client
	registrar  *Registrar
	replicator *Replicator
}

// NewPublisher creates a Publisher. All provider access goes through client,
// so a fake client exercises the full pipeline in tests.
func NewPublisher(uploader SnapshotUploader, client platformaws.Client, timeouts *config.Timeouts) *Publisher {
	registrar := NewRegistrar(client, timeouts)
	return &Publisher{
		uploader:   uploader,
		client:     client,
		registrar:  registrar,
		replicator: NewReplicator(client, registrar, timeouts),
	}
}

// Publish uploads the image into homeRegion, registers it there, and
// replicates it into replicaRegions.
//
// The returned error is non-nil only for fatal failures (bad configuration,
// upload failure, home-region registration failure). Per-replica failures
// are recorded in the result and reflected in its status instead. The result
// enumerates every handle that exists, including for failed regions, so
// orphans can be cleaned up by the caller.
func (p *Publisher) Publish(ctx context.Context, spec ImageSpec, homeRegion string, replicaRegions []string) (*PublishResult, error) {
	if spec.Format != imageinfo.FormatRaw {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("unsupported disk format %q; the snapshot uploader only accepts %q", spec.Format, imageinfo.FormatRaw),
		}
	}
	if homeRegion == "" {
		return nil, &ConfigurationError{Reason: "a home region is required"}
	}
	if spec.Name == "" {
		return nil, &ConfigurationError{Reason: "an image name is required"}
	}
	replicas := dedupeRegions(replicaRegions, homeRegion)

	result := &PublishResult{
		Status:  AllFailed,
		Regions: make(map[string]RegionResult, len(replicas)+1),
	}

	var undo undoList

	// Step 1: upload. This is the only step touching local file I/O.
	// Nothing has been created yet, so failure needs no cleanup.
	log.Printf("Uploading snapshot to region %s...", homeRegion)
	snapshotID, err := p.uploader.Upload(ctx, spec.FilePath, homeRegion, spec.Description)
	if err != nil {
		uploadErr := &UploadError{Region: homeRegion, Err: err}
		result.Regions[homeRegion] = RegionResult{Region: homeRegion, Err: uploadErr}
		return result, uploadErr
	}
	homeSnapshot := SnapshotHandle{ID: snapshotID, Region: homeRegion, State: SnapshotCompleted}
	undo.add(fmt.Sprintf("snapshot %s in %s", snapshotID, homeRegion), func(ctx context.Context) error {
		return p.client.DeleteSnapshot(ctx, homeRegion, snapshotID)
	})

	// Step 2: register the home-region image. A failure here aborts the
	// publish and deletes the snapshot we just uploaded, best effort.
	log.Printf("Registering image in %s...", homeRegion)
	homeImage, err := p.registrar.Register(ctx, homeSnapshot, spec)
	if err != nil {
		undo.runAll()
		result.Regions[homeRegion] = RegionResult{
			Region:   homeRegion,
			Image:    homeImage,
			Snapshot: homeSnapshot,
			Err:      err,
		}
		return result, err
	}
	homeResult := RegionResult{
		Region:    homeRegion,
		Published: true,
		Image:     homeImage,
		Snapshot:  homeSnapshot,
	}

	// Step 3: fan out. From here on nothing is deleted: the home region
	// reached a terminal success state, and replica failures are isolated
	// per region.
	result.Regions[homeRegion] = homeResult
	for region, regionResult := range p.replicator.Replicate(ctx, homeSnapshot, homeImage, spec, replicas) {
		result.Regions[region] = regionResult
	}

	result.Status = AllSucceeded
	for _, regionResult := range result.Regions {
		if !regionResult.Published {
			result.Status = PartialSuccess
			log.Printf("Region %s failed: %v", regionResult.Region, regionResult.Err)
		}
	}

	return result, nil
}

// dedupeRegions removes duplicates and the home region from the replica set,
// preserving order.
func dedupeRegions(regions []string, homeRegion string) []string {
	seen := map[string]bool{homeRegion: true}
	var out []string
	for _, region := range regions {
		if region == "" || seen[region] {
			continue
		}
		seen[region] = true
		out = append(out, region)
	}
	return out
}
