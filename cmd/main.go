// Command gofatctl is a convenience wrapper around the gofat driver for poking at
// raw FAT12/16/32 disk images from a shell: formatting a fresh one, listing a
// directory, dumping a file's contents, and checking the volume-dirty flag without
// mounting for write. It isn't part of the driver's API contract -- just a thin CLI
// front-end over fat.FormatImage, fat.MountVolume, and basedriver.CommonDriver.
package main

import (
	"fmt"
	"log"
	"os"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/disks"
	"github.com/dargueta/gofat/drivers/common/basedriver"
	"github.com/dargueta/gofat/drivers/fat"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "gofatctl",
		Usage: "Inspect and build FAT12/16/32 disk images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a fresh FAT volume",
				Action:    formatImage,
				ArgsUsage: "IMAGE_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "geometry",
						Usage: "predefined disk geometry slug, e.g. floppy-35-1440k (see disks.GetPredefinedDiskGeometry)",
					},
					&cli.Int64Flag{
						Name:  "size",
						Usage: "image size in bytes, if --geometry isn't given",
					},
					&cli.IntFlag{
						Name:  "bytes-per-sector",
						Value: 512,
					},
				},
			},
			{
				Name:      "ls",
				Usage:     "List a directory's contents",
				Action:    listDirectory,
				ArgsUsage: "IMAGE_FILE [PATH]",
			},
			{
				Name:      "cat",
				Usage:     "Print a file's contents to stdout",
				Action:    catFile,
				ArgsUsage: "IMAGE_FILE PATH",
			},
			{
				Name:      "dirty",
				Usage:     "Print the volume's dirty (clean-shutdown) flag",
				Action:    printDirty,
				ArgsUsage: "IMAGE_FILE",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		return cli.Exit("an image file path is required", 1)
	}

	var totalBytes int64
	var bytesPerSector = int64(ctx.Int("bytes-per-sector"))

	if slug := ctx.String("geometry"); slug != "" {
		geometry, err := disks.GetPredefinedDiskGeometry(slug)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		totalBytes = geometry.TotalSizeBytes()
	} else {
		totalBytes = ctx.Int64("size")
		if totalBytes == 0 {
			return cli.Exit("one of --geometry or --size is required", 1)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(totalBytes); err != nil {
		return err
	}

	stat := gofat.FSStat{
		BlockSize:   bytesPerSector,
		TotalBlocks: uint64(totalBytes) / uint64(bytesPerSector),
	}
	if formatErr := fat.FormatImage(file, stat); formatErr != nil {
		return cli.Exit(formatErr.Error(), 1)
	}

	fmt.Printf("formatted %s: %d bytes, %d bytes/sector\n", path, totalBytes, bytesPerSector)
	return nil
}

// openDriver mounts image read-only and wraps it in a basedriver.CommonDriver for
// the read-only subcommands (ls/cat) to use.
func openDriver(path string) (*basedriver.CommonDriver, *os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	volume, mountErr := fat.MountVolume(file, true)
	if mountErr != nil {
		file.Close()
		return nil, nil, mountErr
	}

	driver := basedriver.NewDriver(fat.NewDriver(volume), gofat.MountFlagsAllowRead)
	return driver, file, nil
}

func listDirectory(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	if imagePath == "" {
		return cli.Exit("an image file path is required", 1)
	}
	dirPath := ctx.Args().Get(1)
	if dirPath == "" {
		dirPath = "/"
	}

	driver, file, err := openDriver(imagePath)
	if err != nil {
		return err
	}
	defer file.Close()

	entries, err := driver.ReadDir(dirPath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	for _, entry := range entries {
		stat := entry.Stat()
		kind := "-"
		if stat.IsDir() {
			kind = "d"
		}
		fmt.Printf("%s %10d %s\n", kind, stat.Size, entry.Name())
	}
	return nil
}

func catFile(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	filePath := ctx.Args().Get(1)
	if imagePath == "" || filePath == "" {
		return cli.Exit("an image file path and an in-image path are both required", 1)
	}

	driver, file, err := openDriver(imagePath)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := driver.ReadFile(filePath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	_, err = os.Stdout.Write(data)
	return err
}

func printDirty(ctx *cli.Context) error {
	imagePath := ctx.Args().First()
	if imagePath == "" {
		return cli.Exit("an image file path is required", 1)
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer file.Close()

	volume, mountErr := fat.MountVolume(file, true)
	if mountErr != nil {
		return cli.Exit(mountErr.Error(), 1)
	}

	dirty, dirtyErr := volume.IsDirty()
	if dirtyErr != nil {
		return cli.Exit(dirtyErr.Error(), 1)
	}

	fmt.Printf("dirty: %v\n", dirty)
	return nil
}
