package publish

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amipub/internal/config"
	platformaws "amipub/internal/platform/aws"
)

func testTimeouts() *config.Timeouts {
	return &config.Timeouts{
		PollInterval:       time.Millisecond,
		UploadWait:         time.Second,
		RegisterWait:       time.Second,
		CopyWait:           time.Second,
		RetryMaxAttempts:   2,
		RetryInitialDelay:  time.Millisecond,
		ReplicaConcurrency: 4,
		UploadConcurrency:  2,
	}
}

func testSpec() ImageSpec {
	return ImageSpec{
		FilePath:         "/build/image.raw",
		Format:           "raw",
		VirtualSizeBytes: 2 * bytesInGiB,
		Architecture:     "x86_64",
		BootMode:         "legacy-bios",
		Label:            "25.05.1234",
		Name:             "os-25.05.1234-x86_64",
		Description:      "OS 25.05.1234 x86_64",
		Tags:             map[string]string{"Name": "os-25.05.1234-x86_64"},
	}
}

type fakeUploader struct {
	snapshotID string
	err        error
	calls      int
	lastRegion string
}

func (f *fakeUploader) Upload(_ context.Context, _, region, _ string) (string, error) {
	f.calls++
	f.lastRegion = region
	if f.err != nil {
		return "", f.err
	}
	if f.snapshotID == "" {
		return "snap-home", nil
	}
	return f.snapshotID, nil
}

func TestPublish_UnsupportedFormatFailsBeforeAnyProviderCall(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	up := &fakeUploader{}
	pub := NewPublisher(up, mock, testTimeouts())

	spec := testSpec()
	spec.Format = "qcow2"

	result, err := pub.Publish(context.Background(), spec, "us-west-2", []string{"us-east-1"})

	require.Error(t, err)
	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
	assert.Nil(t, result)

	assert.Equal(t, 0, up.calls)
	for _, method := range []string{"RegisterImage", "CopySnapshot", "DescribeImage", "DescribeSnapshot"} {
		assert.Zero(t, mock.Calls(method), "unexpected %s call", method)
	}
}

func TestPublish_AllRegionsSucceed(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	up := &fakeUploader{}
	pub := NewPublisher(up, mock, testTimeouts())

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2", []string{"us-west-1", "us-east-1"})
	require.NoError(t, err)

	assert.Equal(t, AllSucceeded, result.Status)
	require.Len(t, result.Regions, 3)

	seenImages := map[string]bool{}
	seenSnapshots := map[string]bool{}
	for _, region := range []string{"us-west-2", "us-west-1", "us-east-1"} {
		entry, ok := result.Regions[region]
		require.True(t, ok, "missing entry for %s", region)
		assert.True(t, entry.Published)
		assert.NoError(t, entry.Err)
		assert.Equal(t, region, entry.Image.Region)
		assert.Equal(t, region, entry.Snapshot.Region)
		assert.Equal(t, ImageAvailable, entry.Image.State)
		assert.Equal(t, SnapshotCompleted, entry.Snapshot.State)
		assert.False(t, seenImages[entry.Image.ID], "image ID %s reused", entry.Image.ID)
		assert.False(t, seenSnapshots[entry.Snapshot.ID], "snapshot ID %s reused", entry.Snapshot.ID)
		seenImages[entry.Image.ID] = true
		seenSnapshots[entry.Snapshot.ID] = true
	}

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, "us-west-2", up.lastRegion)
	assert.Equal(t, 3, mock.Calls("RegisterImage"))
	assert.Equal(t, 2, mock.Calls("CopySnapshot"))
	assert.Zero(t, mock.Calls("DeleteSnapshot"), "nothing should be cleaned up on success")

	assert.Len(t, result.AMIs(), 3)
}

func TestPublish_UploadFailureIsFatal(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	up := &fakeUploader{err: errors.New("disk read error")}
	pub := NewPublisher(up, mock, testTimeouts())

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2", []string{"us-west-1", "us-east-1"})

	require.Error(t, err)
	var upErr *UploadError
	require.ErrorAs(t, err, &upErr)

	assert.Equal(t, AllFailed, result.Status)
	require.Len(t, result.Regions, 1, "no replica entries after a fatal upload failure")
	assert.Error(t, result.Regions["us-west-2"].Err)

	assert.Zero(t, mock.Calls("CopySnapshot"))
	assert.Zero(t, mock.Calls("RegisterImage"))
}

func TestPublish_HomeRegistrationFailureCleansUpSnapshot(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{
		RegisterImageFunc: func(context.Context, string, platformaws.RegisterImageOpts) (string, error) {
			return "", errors.New("invalid snapshot")
		},
	}
	up := &fakeUploader{}
	pub := NewPublisher(up, mock, testTimeouts())

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2", []string{"us-east-1"})

	require.Error(t, err)
	var regErr *RegistrationError
	require.ErrorAs(t, err, &regErr)
	assert.False(t, regErr.Timeout)

	assert.Equal(t, AllFailed, result.Status)
	assert.Equal(t, 1, mock.Calls("DeleteSnapshot"), "uploaded snapshot should be cleaned up")
	assert.Zero(t, mock.Calls("CopySnapshot"), "no replication after a fatal failure")

	// The result still names the snapshot that was uploaded.
	entry := result.Regions["us-west-2"]
	assert.Equal(t, "snap-home", entry.Snapshot.ID)
}

func TestPublish_CleanupFailureDoesNotMaskOriginalError(t *testing.T) {
	t.Parallel()
	registerErr := errors.New("quota exceeded")
	mock := &platformaws.MockClient{
		RegisterImageFunc: func(context.Context, string, platformaws.RegisterImageOpts) (string, error) {
			return "", registerErr
		},
		DeleteSnapshotFunc: func(context.Context, string, string) error {
			return errors.New("snapshot is busy")
		},
	}
	pub := NewPublisher(&fakeUploader{}, mock, testTimeouts())

	_, err := pub.Publish(context.Background(), testSpec(), "us-west-2", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, registerErr)
	assert.NotContains(t, err.Error(), "busy")
}

func TestPublish_ReplicaTimeoutIsPartialSuccess(t *testing.T) {
	t.Parallel()
	timeouts := testTimeouts()
	timeouts.CopyWait = 25 * time.Millisecond

	mock := &platformaws.MockClient{
		DescribeSnapshotFunc: func(_ context.Context, region, _ string) (platformaws.SnapshotState, error) {
			if region == "eu-west-1" {
				return platformaws.SnapshotStatePending, nil
			}
			return platformaws.SnapshotStateCompleted, nil
		},
	}
	pub := NewPublisher(&fakeUploader{}, mock, timeouts)

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2",
		[]string{"us-west-1", "us-east-1", "eu-west-1"})
	require.NoError(t, err, "replica failures never abort the publish")

	assert.Equal(t, PartialSuccess, result.Status)
	require.Len(t, result.Regions, 4)

	timedOut := result.Regions["eu-west-1"]
	assert.False(t, timedOut.Published)
	var copyErr *CopyError
	require.ErrorAs(t, timedOut.Err, &copyErr)
	assert.True(t, copyErr.Timeout, "a copy timeout must be distinguishable from a rejection")
	assert.NotEmpty(t, timedOut.Snapshot.ID, "the orphaned copy is enumerated for cleanup")
	assert.Equal(t, SnapshotPending, timedOut.Snapshot.State)

	for _, region := range []string{"us-west-2", "us-west-1", "us-east-1"} {
		assert.True(t, result.Regions[region].Published, "region %s should be published", region)
	}
	assert.Zero(t, mock.Calls("DeleteSnapshot"), "replica orphans are reported, not deleted")
}

func TestPublish_DedupsReplicaRegions(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	pub := NewPublisher(&fakeUploader{}, mock, testTimeouts())

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2",
		[]string{"us-west-2", "us-east-1", "us-east-1", ""})
	require.NoError(t, err)

	assert.Equal(t, AllSucceeded, result.Status)
	assert.Len(t, result.Regions, 2)
	assert.Equal(t, 1, mock.Calls("CopySnapshot"))
}

func TestPublish_HomeRegionOnly(t *testing.T) {
	t.Parallel()
	mock := &platformaws.MockClient{}
	pub := NewPublisher(&fakeUploader{}, mock, testTimeouts())

	result, err := pub.Publish(context.Background(), testSpec(), "us-west-2", nil)
	require.NoError(t, err)

	assert.Equal(t, AllSucceeded, result.Status)
	assert.Len(t, result.Regions, 1)
	assert.Zero(t, mock.Calls("CopySnapshot"))
}

func TestPublish_MissingHomeRegion(t *testing.T) {
	t.Parallel()
	pub := NewPublisher(&fakeUploader{}, &platformaws.MockClient{}, testTimeouts())

	_, err := pub.Publish(context.Background(), testSpec(), "", []string{"us-east-1"})

	var confErr *ConfigurationError
	require.ErrorAs(t, err, &confErr)
}

func TestStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "all-succeeded", AllSucceeded.String())
	assert.Equal(t, "partial-success", PartialSuccess.String())
	assert.Equal(t, "all-failed", AllFailed.String())
}
