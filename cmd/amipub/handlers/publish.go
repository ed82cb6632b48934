// Package handlers contains the execution logic behind the CLI commands.
//
// Collaborators are constructed through package-level factory variables so
// tests can substitute fakes without touching the network.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"gopkg.in/yaml.v3"

	"amipub/internal/config"
	"amipub/internal/imageinfo"
	platformaws "amipub/internal/platform/aws"
	"amipub/internal/publish"
	"amipub/internal/uploader"
)

// ErrPartialSuccess is returned when the home region published but at least
// one replica region failed. The CLI maps it to a distinct exit code so
// scripts can tell partial publishes from total failures.
var ErrPartialSuccess = errors.New("some regions failed to publish")

// PublishOptions holds the resolved flags for the publish command.
type PublishOptions struct {
	ImageDir     string
	Name         string
	Regions      string // comma-separated, first entry is the home region; "all" for every region
	RootSizeGiB  int32
	Progress     bool
	OutputFormat string // "json" or "yaml"
	Out          io.Writer
}

// Publisher is the part of the publish pipeline the handler drives.
type Publisher interface {
	Publish(ctx context.Context, spec publish.ImageSpec, homeRegion string, replicaRegions []string) (*publish.PublishResult, error)
}

// Factory function variables - can be replaced in tests.
var (
	loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	}

	newProviderClient = func(cfg aws.Config) platformaws.Client {
		return platformaws.NewRealClient(cfg)
	}

	newPublisher = func(cfg aws.Config, client platformaws.Client, timeouts *config.Timeouts, progress uploader.ProgressFunc) Publisher {
		var opts []uploader.Option
		if progress != nil {
			opts = append(opts, uploader.WithProgress(progress))
		}
		up := uploader.New(cfg, client, timeouts, opts...)
		return publish.NewPublisher(up, client, timeouts)
	}

	resolveAllRegions = func(ctx context.Context, cfg aws.Config) ([]string, error) {
		return platformaws.ResolveAllRegions(ctx, ssm.NewFromConfig(cfg))
	}
)

// Output is the region to image ID mapping printed on success.
type Output struct {
	AMIs map[string]string `json:"amis" yaml:"amis"`
}

// Publish loads the image metadata, resolves the target regions, runs the
// publish pipeline, and renders the resulting region/AMI mapping.
func Publish(ctx context.Context, opts PublishOptions) error {
	info, err := imageinfo.Load(opts.ImageDir)
	if err != nil {
		return err
	}
	if err := imageinfo.VerifyRawImage(info.File); err != nil {
		return err
	}

	cfg, err := loadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	homeRegion, replicaRegions, err := resolveRegions(ctx, cfg, opts.Regions)
	if err != nil {
		return err
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("NixOS-%s-%s", info.Label, info.System)
	}

	spec := publish.ImageSpec{
		FilePath:          info.File,
		Format:            info.Format,
		VirtualSizeBytes:  info.LogicalBytes,
		Architecture:      info.Architecture(),
		BootMode:          info.BootMode,
		Label:             info.Label,
		Name:              name,
		Description:       fmt.Sprintf("NixOS %s %s", info.Label, info.System),
		RootVolumeSizeGiB: opts.RootSizeGiB,
		Tags:              map[string]string{"NixOSName": name},
	}

	var progress uploader.ProgressFunc
	if opts.Progress {
		progress = newProgressPrinter()
	}

	client := newProviderClient(cfg)
	timeouts := config.LoadTimeouts()
	pub := newPublisher(cfg, client, timeouts, progress)

	log.Printf("Publishing %s to %s (replicas: %s)...", name, homeRegion, strings.Join(replicaRegions, ", "))
	result, err := pub.Publish(ctx, spec, homeRegion, replicaRegions)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	if err := renderOutput(opts.Out, opts.OutputFormat, result); err != nil {
		return err
	}

	if result.Status != publish.AllSucceeded {
		var failed []string
		for region, entry := range result.Regions {
			if !entry.Published {
				failed = append(failed, fmt.Sprintf("%s (%v)", region, entry.Err))
			}
		}
		return fmt.Errorf("%w: %s", ErrPartialSuccess, strings.Join(failed, "; "))
	}
	return nil
}

// resolveRegions turns the --regions flag into a home region and replica set.
// With an explicit list the first entry is the home region; with "all" the
// configured default region is home and every other EC2 region is a replica.
func resolveRegions(ctx context.Context, cfg aws.Config, regionsFlag string) (string, []string, error) {
	if regionsFlag != "all" {
		var regions []string
		for _, r := range strings.Split(regionsFlag, ",") {
			if r = strings.TrimSpace(r); r != "" {
				regions = append(regions, r)
			}
		}
		if len(regions) == 0 {
			return "", nil, fmt.Errorf("must specify one or more regions, or use the default of 'all'")
		}
		return regions[0], regions[1:], nil
	}

	if cfg.Region == "" {
		return "", nil, fmt.Errorf("publishing to all regions requires a default region (AWS_REGION or profile)")
	}

	all, err := resolveAllRegions(ctx, cfg)
	if err != nil {
		return "", nil, err
	}

	var replicas []string
	for _, region := range all {
		if region != cfg.Region {
			replicas = append(replicas, region)
		}
	}
	return cfg.Region, replicas, nil
}

// renderOutput writes the published AMI mapping in the requested format.
func renderOutput(w io.Writer, format string, result *publish.PublishResult) error {
	output := Output{AMIs: result.AMIs()}

	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		if err := enc.Encode(output); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(w)
		if err := enc.Encode(output); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid output format %q; must be 'json' or 'yaml'", format)
	}
	return nil
}

// newProgressPrinter logs upload progress in 10% steps.
func newProgressPrinter() uploader.ProgressFunc {
	var mu sync.Mutex
	lastDecile := -1
	return func(done, total int) {
		if total == 0 {
			return
		}
		decile := done * 10 / total
		mu.Lock()
		defer mu.Unlock()
		if decile > lastDecile {
			lastDecile = decile
			log.Printf("Snapshot upload: %d%% (%d/%d blocks)", decile*10, done, total)
		}
	}
}
