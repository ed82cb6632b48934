package aws

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a configurable fake implementation of Client for tests.
// Each method delegates to its Func field when set, otherwise returns a
// deterministic success. All calls are counted; counters are safe for
// concurrent use.
type MockClient struct {
	RegisterImageFunc    func(ctx context.Context, region string, opts RegisterImageOpts) (string, error)
	DescribeImageFunc    func(ctx context.Context, region, imageID string) (ImageState, error)
	CopySnapshotFunc     func(ctx context.Context, sourceRegion, targetRegion, snapshotID, description string) (string, error)
	DescribeSnapshotFunc func(ctx context.Context, region, snapshotID string) (SnapshotState, error)
	DeleteSnapshotFunc   func(ctx context.Context, region, snapshotID string) error
	DeregisterImageFunc  func(ctx context.Context, region, imageID string) error
	CreateTagsFunc       func(ctx context.Context, region string, resourceIDs []string, tags map[string]string) error

	mu    sync.Mutex
	calls map[string]int
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) record(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
	return m.calls[method]
}

// Calls returns how many times the named method was invoked.
func (m *MockClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockClient) RegisterImage(ctx context.Context, region string, opts RegisterImageOpts) (string, error) {
	n := m.record("RegisterImage")
	if m.RegisterImageFunc != nil {
		return m.RegisterImageFunc(ctx, region, opts)
	}
	return fmt.Sprintf("ami-%s-%d", region, n), nil
}

func (m *MockClient) DescribeImage(ctx context.Context, region, imageID string) (ImageState, error) {
	m.record("DescribeImage")
	if m.DescribeImageFunc != nil {
		return m.DescribeImageFunc(ctx, region, imageID)
	}
	return ImageStateAvailable, nil
}

func (m *MockClient) CopySnapshot(ctx context.Context, sourceRegion, targetRegion, snapshotID, description string) (string, error) {
	n := m.record("CopySnapshot")
	if m.CopySnapshotFunc != nil {
		return m.CopySnapshotFunc(ctx, sourceRegion, targetRegion, snapshotID, description)
	}
	return fmt.Sprintf("snap-%s-%d", targetRegion, n), nil
}

func (m *MockClient) DescribeSnapshot(ctx context.Context, region, snapshotID string) (SnapshotState, error) {
	m.record("DescribeSnapshot")
	if m.DescribeSnapshotFunc != nil {
		return m.DescribeSnapshotFunc(ctx, region, snapshotID)
	}
	return SnapshotStateCompleted, nil
}

func (m *MockClient) DeleteSnapshot(ctx context.Context, region, snapshotID string) error {
	m.record("DeleteSnapshot")
	if m.DeleteSnapshotFunc != nil {
		return m.DeleteSnapshotFunc(ctx, region, snapshotID)
	}
	return nil
}

func (m *MockClient) DeregisterImage(ctx context.Context, region, imageID string) error {
	m.record("DeregisterImage")
	if m.DeregisterImageFunc != nil {
		return m.DeregisterImageFunc(ctx, region, imageID)
	}
	return nil
}

func (m *MockClient) CreateTags(ctx context.Context, region string, resourceIDs []string, tags map[string]string) error {
	m.record("CreateTags")
	if m.CreateTagsFunc != nil {
		return m.CreateTagsFunc(ctx, region, resourceIDs, tags)
	}
	return nil
}
