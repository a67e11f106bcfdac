// Command mkfatimg builds a FAT32 disk image from a directory tree, so
// tests and QEMU boots have a real on-disk filesystem to mount instead
// of only RAMFS. Grounded on gcsfuse's cmd/root.go cobra tree shape: a
// root command plus flag-bound options, no viper config file (there is
// nothing file-based to layer here).
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/atomicos/atomicos/internal/blockdev"
	"github.com/atomicos/atomicos/internal/fat32"
)

var (
	outputPath    string
	sizeMebibytes int
)

var rootCmd = &cobra.Command{
	Use:   "mkfatimg <source-dir>",
	Short: "Build a FAT32 disk image from a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return build(args[0], outputPath, sizeMebibytes)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output image path (default: a generated *.img name next to the source dir)")
	rootCmd.Flags().IntVarP(&sizeMebibytes, "size", "s", 16, "image size in mebibytes")
}

func build(sourceDir, out string, sizeMiB int) error {
	if out == "" {
		out = fmt.Sprintf("atomicos-%s.img", uuid.New().String()[:8])
	}

	sectorCount := uint64(sizeMiB) * 1024 * 1024 / blockdev.SectorSize
	dev := blockdev.NewMemory(sectorCount)
	if err := fat32.Format(dev, fat32.DefaultFormatOptions()); err != nil {
		return fmt.Errorf("formatting image: %w", err)
	}

	volume, err := fat32.New(dev)
	if err != nil {
		return fmt.Errorf("mounting freshly formatted image: %w", err)
	}

	if err := copyTree(volume, sourceDir); err != nil {
		return fmt.Errorf("copying %s into image: %w", sourceDir, err)
	}

	if err := os.WriteFile(out, dev.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Printf("wrote %s (%d sectors)\n", out, sectorCount)
	return nil
}

// copyTree walks sourceDir on the host filesystem and recreates it
// inside volume, directory-first so every file's parent already
// exists by the time it's created.
func copyTree(volume *fat32.FS, sourceDir string) error {
	return filepath.WalkDir(sourceDir, func(hostPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, hostPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		imagePath := "/" + filepath.ToSlash(rel)

		if d.IsDir() {
			return volume.Mkdir(imagePath)
		}

		data, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		if err := volume.Create(imagePath); err != nil {
			return err
		}
		_, err = volume.Write(imagePath, 0, data)
		return err
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
