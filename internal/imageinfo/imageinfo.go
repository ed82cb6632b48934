// Package imageinfo loads the metadata emitted by the image build scripts.
//
// The build output directory contains nix-support/image-info.json describing
// the raw disk image: its label, target system, logical size and file path.
// This package parses that description and performs the cheap sanity checks
// that catch a wrong or truncated image before any upload starts.
package imageinfo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// FormatRaw is the only disk format the snapshot upload path accepts.
const FormatRaw = "raw"

// ImageInfo is the metadata produced by the image build scripts.
type ImageInfo struct {
	Label        string `json:"label"`
	System       string `json:"system"`
	LogicalBytes uint64 `json:"logical_bytes"`
	File         string `json:"file"`
	Format       string `json:"format"`
	BootMode     string `json:"boot_mode"`
}

// systemArchitectures maps build system identifiers to EC2 architectures.
var systemArchitectures = map[string]string{
	"x86_64-linux":  "x86_64",
	"aarch64-linux": "arm64",
}

// UnmarshalJSON handles logical_bytes being emitted as a quoted number.
func (i *ImageInfo) UnmarshalJSON(data []byte) error {
	type alias struct {
		Label        string      `json:"label"`
		System       string      `json:"system"`
		LogicalBytes json.Number `json:"logical_bytes"`
		File         string      `json:"file"`
		Format       string      `json:"format"`
		BootMode     string      `json:"boot_mode"`
	}

	var a alias
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return err
	}

	size, err := strconv.ParseUint(a.LogicalBytes.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid logical_bytes %q: %w", a.LogicalBytes, err)
	}

	i.Label = a.Label
	i.System = a.System
	i.LogicalBytes = size
	i.File = a.File
	i.Format = a.Format
	i.BootMode = a.BootMode
	return nil
}

// Load reads and validates image-info.json from an image build directory.
func Load(dir string) (*ImageInfo, error) {
	path := filepath.Join(dir, "nix-support", "image-info.json")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("malformed image directory, could not open %s: %w", path, err)
	}
	defer f.Close()

	var info ImageInfo
	if err := json.NewDecoder(f).Decode(&info); err != nil {
		return nil, fmt.Errorf("error parsing image-info.json: %w", err)
	}

	if info.Format == "" {
		info.Format = FormatRaw
	}
	if _, ok := systemArchitectures[info.System]; !ok {
		return nil, fmt.Errorf("unsupported system %q; must be one of x86_64-linux, aarch64-linux", info.System)
	}
	if info.BootMode == "" {
		// x86_64 images historically boot via BIOS; arm64 instance types
		// only support UEFI.
		if info.System == "aarch64-linux" {
			info.BootMode = "uefi"
		} else {
			info.BootMode = "legacy-bios"
		}
	}
	if info.LogicalBytes == 0 {
		return nil, fmt.Errorf("image-info.json declares a zero-byte image")
	}
	if info.File == "" {
		return nil, fmt.Errorf("image-info.json is missing the image file path")
	}

	return &info, nil
}

// Architecture returns the EC2 architecture for the image's target system.
func (i *ImageInfo) Architecture() string {
	return systemArchitectures[i.System]
}

// gptSignature is the GPT header magic at LBA 1 of a raw disk.
var gptSignature = []byte("EFI PART")

const sectorSize = 512

// VerifyRawImage checks that path exists and looks like a raw disk image
// with a GPT partition table. Compressed or qcow2 images fail this check.
func VerifyRawImage(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open image file %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, len(gptSignature))
	if _, err := f.ReadAt(header, sectorSize); err != nil {
		return fmt.Errorf("could not read disk header for %s; image must be a valid raw disk image: %w", path, err)
	}
	if !bytes.Equal(header, gptSignature) {
		return fmt.Errorf("no GPT header found in %s; image must be a valid raw disk image", path)
	}
	return nil
}
