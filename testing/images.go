package testing

import (
	"io"
	"testing"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/fat"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// BuildFormattedImage creates a zero-filled, fixed-size in-memory disk image of
// totalBlocks blocks of bytesPerBlock bytes each and formats it as a fresh FAT
// volume via fat.FormatImage, rewinding the stream to the start before returning it.
//
// This replaces the teacher's compressed golden-image fixtures (see
// utilities/compression, deleted -- DESIGN.md) with images generated
// programmatically at whatever geometry a test needs, rather than checked-in
// binary blobs covering only a fixed few.
func BuildFormattedImage(t *testing.T, bytesPerBlock, totalBlocks uint) io.ReadWriteSeeker {
	imageBytes := make([]byte, bytesPerBlock*totalBlocks)
	stream := bytesextra.NewReadWriteSeeker(imageBytes)

	err := fat.FormatImage(stream, gofat.FSStat{
		BlockSize:   int64(bytesPerBlock),
		TotalBlocks: uint64(totalBlocks),
	})
	require.Nil(t, err, "failed to format test image")

	_, seekErr := stream.Seek(0, io.SeekStart)
	require.NoError(t, seekErr)
	return stream
}
