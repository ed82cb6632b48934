// Package uploader writes a raw disk image into a new EBS snapshot using the
// EBS direct APIs.
//
// The upload starts a snapshot sized to the image, streams the image in fixed
// size blocks (skipping blocks that are entirely zero, which EBS reads back
// as zero anyway), completes the snapshot, and waits until the provider
// reports it completed. Block uploads run in parallel with a bounded worker
// count and retry transient API errors.
package uploader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ebs"
	ebstypes "github.com/aws/aws-sdk-go-v2/service/ebs/types"
	"golang.org/x/sync/errgroup"

	"amipub/internal/config"
	platformaws "amipub/internal/platform/aws"
	"amipub/internal/util/poll"
	"amipub/internal/util/retry"
)

// defaultBlockSize is the EBS direct API block size.
const defaultBlockSize = 512 * 1024

const bytesInGiB = 1 << 30

// EBSAPI is the subset of the EBS client the uploader uses.
// *ebs.Client satisfies it; tests substitute fakes.
type EBSAPI interface {
	StartSnapshot(ctx context.Context, params *ebs.StartSnapshotInput, optFns ...func(*ebs.Options)) (*ebs.StartSnapshotOutput, error)
	PutSnapshotBlock(ctx context.Context, params *ebs.PutSnapshotBlockInput, optFns ...func(*ebs.Options)) (*ebs.PutSnapshotBlockOutput, error)
	CompleteSnapshot(ctx context.Context, params *ebs.CompleteSnapshotInput, optFns ...func(*ebs.Options)) (*ebs.CompleteSnapshotOutput, error)
}

// ProgressFunc receives upload progress. done counts blocks handled so far
// (uploaded or skipped as sparse), total is the block count of the image.
type ProgressFunc func(done, total int)

// Uploader uploads raw disk images as EBS snapshots.
type Uploader struct {
	newEBS   func(region string) EBSAPI
	describe func(ctx context.Context, region, snapshotID string) (platformaws.SnapshotState, error)
	timeouts *config.Timeouts
	progress ProgressFunc
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithProgress sets a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(u *Uploader) {
		u.progress = fn
	}
}

// WithEBSFactory overrides how per-region EBS clients are constructed
// (useful for testing).
func WithEBSFactory(factory func(region string) EBSAPI) Option {
	return func(u *Uploader) {
		u.newEBS = factory
	}
}

// New creates an Uploader. The provider client is used to poll snapshot
// state after the upload completes.
func New(cfg aws.Config, client platformaws.Client, timeouts *config.Timeouts, opts ...Option) *Uploader {
	u := &Uploader{
		newEBS: func(region string) EBSAPI {
			return ebs.NewFromConfig(cfg, func(o *ebs.Options) {
				o.Region = region
			})
		},
		describe: client.DescribeSnapshot,
		timeouts: timeouts,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload uploads the file at filePath into a new snapshot in region and
// blocks until the snapshot is completed. It returns the snapshot ID.
//
// On a mid-upload failure the started snapshot is left pending on the
// provider side; its ID is included in the returned error so it can be
// cleaned up.
func (u *Uploader) Upload(ctx context.Context, filePath, region, description string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("could not open image file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("could not stat image file: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return "", fmt.Errorf("image file %s is empty", filePath)
	}

	volumeGiB := (size + bytesInGiB - 1) / bytesInGiB

	api := u.newEBS(region)
	start, err := api.StartSnapshot(ctx, &ebs.StartSnapshotInput{
		VolumeSize:  aws.Int64(volumeGiB),
		Description: aws.String(description),
	})
	if err != nil {
		return "", fmt.Errorf("failed to start snapshot in %s: %w", region, err)
	}
	snapshotID := aws.ToString(start.SnapshotId)

	blockSize := int64(defaultBlockSize)
	if start.BlockSize != nil {
		blockSize = int64(*start.BlockSize)
	}
	totalBlocks := int((size + blockSize - 1) / blockSize)

	log.Printf("Uploading %s (%d blocks of %d bytes) to snapshot %s in %s...",
		filePath, totalBlocks, blockSize, snapshotID, region)

	changed, err := u.uploadBlocks(ctx, api, f, snapshotID, blockSize, totalBlocks)
	if err != nil {
		return "", fmt.Errorf("upload to snapshot %s failed (snapshot left pending): %w", snapshotID, err)
	}

	if _, err := api.CompleteSnapshot(ctx, &ebs.CompleteSnapshotInput{
		SnapshotId:         aws.String(snapshotID),
		ChangedBlocksCount: aws.Int32(int32(changed)),
	}); err != nil {
		return "", fmt.Errorf("failed to complete snapshot %s: %w", snapshotID, err)
	}

	log.Printf("Waiting for snapshot %s to complete...", snapshotID)
	if err := u.waitForCompletion(ctx, region, snapshotID); err != nil {
		return "", fmt.Errorf("snapshot %s did not complete: %w", snapshotID, err)
	}

	return snapshotID, nil
}

// uploadBlocks streams the image in blocks, uploading non-sparse blocks with
// bounded parallelism. It returns the number of blocks written.
func (u *Uploader) uploadBlocks(ctx context.Context, api EBSAPI, f *os.File, snapshotID string, blockSize int64, totalBlocks int) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.timeouts.UploadConcurrency)

	var done atomic.Int64
	changed := 0

	for index := 0; ; index++ {
		// Each block gets its own buffer; the final partial block stays
		// zero padded to the full block size, as the API requires.
		buf := make([]byte, blockSize)
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return 0, fmt.Errorf("failed to read block %d: %w", index, err)
		}

		if isZeroBlock(buf) {
			u.reportProgress(int(done.Add(1)), totalBlocks)
			continue
		}

		changed++
		blockIndex := int32(index)
		g.Go(func() error {
			if err := u.putBlock(gctx, api, snapshotID, blockIndex, buf); err != nil {
				return err
			}
			u.reportProgress(int(done.Add(1)), totalBlocks)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return changed, nil
}

// putBlock uploads one block, retrying transient API errors.
func (u *Uploader) putBlock(ctx context.Context, api EBSAPI, snapshotID string, blockIndex int32, data []byte) error {
	sum := sha256.Sum256(data)
	checksum := base64.StdEncoding.EncodeToString(sum[:])

	return retry.WithExponentialBackoff(ctx, func() error {
		_, err := api.PutSnapshotBlock(ctx, &ebs.PutSnapshotBlockInput{
			SnapshotId:        aws.String(snapshotID),
			BlockIndex:        aws.Int32(blockIndex),
			BlockData:         bytes.NewReader(data),
			DataLength:        aws.Int32(int32(len(data))),
			Checksum:          aws.String(checksum),
			ChecksumAlgorithm: ebstypes.ChecksumAlgorithmChecksumAlgorithmSha256,
		})
		if err != nil && !platformaws.IsTransient(err) {
			return retry.Fatal(fmt.Errorf("failed to put block %d: %w", blockIndex, err))
		}
		return err
	},
		retry.WithMaxRetries(u.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(u.timeouts.RetryInitialDelay))
}

// waitForCompletion polls until the snapshot leaves the pending state.
func (u *Uploader) waitForCompletion(ctx context.Context, region, snapshotID string) error {
	return poll.Until(ctx, u.timeouts.PollInterval, u.timeouts.UploadWait, func(ctx context.Context) (bool, error) {
		var state platformaws.SnapshotState
		err := retry.WithExponentialBackoff(ctx, func() error {
			var describeErr error
			state, describeErr = u.describe(ctx, region, snapshotID)
			if describeErr != nil && !platformaws.IsTransient(describeErr) {
				return retry.Fatal(describeErr)
			}
			return describeErr
		},
			retry.WithMaxRetries(u.timeouts.RetryMaxAttempts),
			retry.WithInitialDelay(u.timeouts.RetryInitialDelay))
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

func (u *Uploader) reportProgress(done, total int) {
	if u.progress != nil {
		u.progress(done, total)
	}
}

// isZeroBlock reports whether the block contains only zero bytes.
func isZeroBlock(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}
