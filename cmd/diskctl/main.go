// Command diskctl inspects a FAT32 disk image read-only: list a
// directory, or dump a file's contents. Grounded on the same cobra
// command-tree shape cmd/mkfatimg and gcsfuse's cmd/root.go use — a
// root command with subcommands, flags bound directly (no config
// file).
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/atomicos/atomicos/internal/blockdev"
	"github.com/atomicos/atomicos/internal/fat32"
)

var imagePath string

var rootCmd = &cobra.Command{
	Use:   "diskctl",
	Short: "Inspect a FAT32 disk image",
}

var lsCmd = &cobra.Command{
	Use:   "ls <path>",
	Short: "List a directory's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volume, err := openImage()
		if err != nil {
			return err
		}
		entries, err := volume.Readdir(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		for _, e := range entries {
			kind := "file"
			if e.IsDir {
				kind = "dir"
			}
			fmt.Printf("%-5s %s\n", kind, e.Name)
		}
		return nil
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		volume, err := openImage()
		if err != nil {
			return err
		}
		buf := make([]byte, 16*1024*1024)
		n, err := volume.Read(args[0], 0, buf)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		os.Stdout.Write(buf[:n])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&imagePath, "image", "i", "", "path to the FAT32 disk image (required)")
	rootCmd.MarkPersistentFlagRequired("image")
	rootCmd.AddCommand(lsCmd, catCmd)
}

func openImage() (*fat32.FS, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", imagePath, err)
	}
	dev, err := blockdev.NewMemoryFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parsing image %s: %w", imagePath, err)
	}
	return fat32.New(dev)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
