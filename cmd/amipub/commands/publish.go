package commands

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"amipub/cmd/amipub/handlers"
)

// Publish returns the command for publishing a disk image as AMIs.
//
// The positional argument is an image build output directory containing
// nix-support/image-info.json and the raw disk image it describes.
//
// Flags:
//
//	--name: AMI name (default: derived from the image label and system)
//	--regions: comma-separated regions, first entry is the home region,
//	  or "all" for every EC2 region (home = the configured default region)
//	--root-size: root volume size in GiB (default: image size, rounded up)
//	--progress: print upload progress (default: on when stderr is a TTY)
//	--output-format: output format for the region/AMI mapping, json or yaml
func Publish() *cobra.Command {
	var opts handlers.PublishOptions

	cmd := &cobra.Command{
		Use:   "publish <image-dir>",
		Short: "Upload a raw disk image and register it as an AMI in one or more regions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ImageDir = args[0]
			opts.Out = cmd.OutOrStdout()
			return handlers.Publish(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "Name of the AMI (default: derived from image metadata)")
	cmd.Flags().StringVar(&opts.Regions, "regions", "all", "Comma-separated regions to publish to; the first is the home region")
	cmd.Flags().Int32Var(&opts.RootSizeGiB, "root-size", 0, "Root volume size in GiB (default: image size rounded up)")
	cmd.Flags().BoolVar(&opts.Progress, "progress", isatty.IsTerminal(os.Stderr.Fd()), "Print upload progress")
	cmd.Flags().StringVar(&opts.OutputFormat, "output-format", "json", "Output format for the AMI mapping (json or yaml)")

	return cmd
}
