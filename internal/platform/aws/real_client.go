package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// EC2API is the subset of the EC2 client the pipeline uses.
// *ec2.Client satisfies it; tests substitute fakes.
type EC2API interface {
	RegisterImage(ctx context.Context, params *ec2.RegisterImageInput, optFns ...func(*ec2.Options)) (*ec2.RegisterImageOutput, error)
	DescribeImages(ctx context.Context, params *ec2.DescribeImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeImagesOutput, error)
	CopySnapshot(ctx context.Context, params *ec2.CopySnapshotInput, optFns ...func(*ec2.Options)) (*ec2.CopySnapshotOutput, error)
	DescribeSnapshots(ctx context.Context, params *ec2.DescribeSnapshotsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSnapshotsOutput, error)
	DeleteSnapshot(ctx context.Context, params *ec2.DeleteSnapshotInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSnapshotOutput, error)
	DeregisterImage(ctx context.Context, params *ec2.DeregisterImageInput, optFns ...func(*ec2.Options)) (*ec2.DeregisterImageOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// RealClient implements Client against the EC2 API, holding one EC2 client
// per region derived from a shared aws.Config.
type RealClient struct {
	cfg    aws.Config
	newEC2 func(region string) EC2API

	mu      sync.Mutex
	clients map[string]EC2API
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithEC2Factory overrides how per-region EC2 clients are constructed
// (useful for testing).
func WithEC2Factory(factory func(region string) EC2API) ClientOption {
	return func(c *RealClient) {
		c.newEC2 = factory
	}
}

// NewRealClient creates a RealClient from a resolved AWS configuration.
func NewRealClient(cfg aws.Config, opts ...ClientOption) *RealClient {
	c := &RealClient{
		cfg:     cfg,
		clients: make(map[string]EC2API),
	}
	c.newEC2 = func(region string) EC2API {
		return ec2.NewFromConfig(c.cfg, func(o *ec2.Options) {
			o.Region = region
		})
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ec2For returns the cached EC2 client for a region, creating it on first use.
func (c *RealClient) ec2For(region string) EC2API {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[region]; ok {
		return client
	}
	client := c.newEC2(region)
	c.clients[region] = client
	return client
}

// Root device layout matches what the image build scripts expect: the root
// filesystem on /dev/xvda plus four instance-store mappings.
const rootDeviceName = "/dev/xvda"

var ephemeralDevices = []string{"/dev/sdb", "/dev/sdc", "/dev/sdd", "/dev/sde"}

// RegisterImage registers an AMI referencing the snapshot.
func (c *RealClient) RegisterImage(ctx context.Context, region string, opts RegisterImageOpts) (string, error) {
	mappings := []ec2types.BlockDeviceMapping{
		{
			DeviceName: aws.String(rootDeviceName),
			Ebs: &ec2types.EbsBlockDevice{
				DeleteOnTermination: aws.Bool(true),
				SnapshotId:          aws.String(opts.SnapshotID),
				VolumeSize:          aws.Int32(opts.RootVolumeSizeGiB),
				VolumeType:          ec2types.VolumeTypeGp3,
			},
		},
	}
	for i, device := range ephemeralDevices {
		mappings = append(mappings, ec2types.BlockDeviceMapping{
			DeviceName:  aws.String(device),
			VirtualName: aws.String(fmt.Sprintf("ephemeral%d", i)),
		})
	}

	input := &ec2.RegisterImageInput{
		Name:                aws.String(opts.Name),
		Description:         aws.String(opts.Description),
		Architecture:        ec2types.ArchitectureValues(opts.Architecture),
		BootMode:            ec2types.BootModeValues(opts.BootMode),
		EnaSupport:          aws.Bool(true),
		VirtualizationType:  aws.String("hvm"),
		RootDeviceName:      aws.String(rootDeviceName),
		BlockDeviceMappings: mappings,
	}

	out, err := c.ec2For(region).RegisterImage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to register image in %s: %w", region, err)
	}
	return aws.ToString(out.ImageId), nil
}

// DescribeImage returns the current state of an AMI. A not-yet-visible image
// is reported as pending: DescribeImages can lag RegisterImage by a few
// seconds.
func (c *RealClient) DescribeImage(ctx context.Context, region, imageID string) (ImageState, error) {
	out, err := c.ec2For(region).DescribeImages(ctx, &ec2.DescribeImagesInput{
		ImageIds: []string{imageID},
	})
	if err != nil {
		if IsNotFound(err) {
			return ImageStatePending, nil
		}
		return "", fmt.Errorf("failed to describe image %s in %s: %w", imageID, region, err)
	}
	if len(out.Images) == 0 {
		return ImageStatePending, nil
	}

	switch out.Images[0].State {
	case ec2types.ImageStateAvailable:
		return ImageStateAvailable, nil
	case ec2types.ImageStateFailed, ec2types.ImageStateInvalid, ec2types.ImageStateError:
		return ImageStateFailed, nil
	default:
		return ImageStatePending, nil
	}
}

// CopySnapshot starts a cross-region snapshot copy. The request goes to the
// target region, naming the source.
func (c *RealClient) CopySnapshot(ctx context.Context, sourceRegion, targetRegion, snapshotID, description string) (string, error) {
	out, err := c.ec2For(targetRegion).CopySnapshot(ctx, &ec2.CopySnapshotInput{
		SourceRegion:     aws.String(sourceRegion),
		SourceSnapshotId: aws.String(snapshotID),
		Description:      aws.String(description),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy snapshot %s from %s to %s: %w", snapshotID, sourceRegion, targetRegion, err)
	}
	return aws.ToString(out.SnapshotId), nil
}

// DescribeSnapshot returns the current state of a snapshot.
func (c *RealClient) DescribeSnapshot(ctx context.Context, region, snapshotID string) (SnapshotState, error) {
	out, err := c.ec2For(region).DescribeSnapshots(ctx, &ec2.DescribeSnapshotsInput{
		SnapshotIds: []string{snapshotID},
	})
	if err != nil {
		if IsNotFound(err) {
			return SnapshotStatePending, nil
		}
		return "", fmt.Errorf("failed to describe snapshot %s in %s: %w", snapshotID, region, err)
	}
	if len(out.Snapshots) == 0 {
		return SnapshotStatePending, nil
	}

	switch out.Snapshots[0].State {
	case ec2types.SnapshotStateCompleted:
		return SnapshotStateCompleted, nil
	case ec2types.SnapshotStateError:
		return SnapshotStateError, nil
	default:
		return SnapshotStatePending, nil
	}
}

// DeleteSnapshot deletes a snapshot.
func (c *RealClient) DeleteSnapshot(ctx context.Context, region, snapshotID string) error {
	_, err := c.ec2For(region).DeleteSnapshot(ctx, &ec2.DeleteSnapshotInput{
		SnapshotId: aws.String(snapshotID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s in %s: %w", snapshotID, region, err)
	}
	return nil
}

// DeregisterImage deregisters an AMI.
func (c *RealClient) DeregisterImage(ctx context.Context, region, imageID string) error {
	_, err := c.ec2For(region).DeregisterImage(ctx, &ec2.DeregisterImageInput{
		ImageId: aws.String(imageID),
	})
	if err != nil {
		return fmt.Errorf("failed to deregister image %s in %s: %w", imageID, region, err)
	}
	return nil
}

// CreateTags tags the given resources.
func (c *RealClient) CreateTags(ctx context.Context, region string, resourceIDs []string, tags map[string]string) error {
	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	_, err := c.ec2For(region).CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: resourceIDs,
		Tags:      ec2Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to tag resources %v in %s: %w", resourceIDs, region, err)
	}
	return nil
}
