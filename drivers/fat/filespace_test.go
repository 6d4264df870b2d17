package fat

import (
	"bytes"
	"testing"

	fattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/require"
)

func newTestFileSpace(t *testing.T) (*fileSpace, *Volume) {
	t.Helper()
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)

	dirent := &Dirent{}
	return newFileSpace(volume, dirent), volume
}

func TestFileSpace_WriteAtGrowsChainFromEmpty(t *testing.T) {
	fs, _ := newTestFileSpace(t)
	require.EqualValues(t, 0, fs.dirent.FirstCluster)

	payload := []byte("hello, fat")
	n, err := fs.WriteAt(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NotZero(t, fs.dirent.FirstCluster)

	out := make([]byte, len(payload))
	n, err = fs.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, out))
}

func TestFileSpace_WriteAtUnalignedOffsetPreservesRestOfCluster(t *testing.T) {
	fs, volume := newTestFileSpace(t)
	bytesPerCluster := int(volume.boot.BytesPerCluster)

	full := bytes.Repeat([]byte{0xAA}, bytesPerCluster)
	_, err := fs.WriteAt(full, 0)
	require.NoError(t, err)

	_, err = fs.WriteAt([]byte{1, 2, 3, 4}, 10)
	require.NoError(t, err)

	out := make([]byte, bytesPerCluster)
	_, err = fs.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, out[10:14])
	require.Equal(t, byte(0xAA), out[9])
	require.Equal(t, byte(0xAA), out[14])
}

func TestFileSpace_WriteAtSpanningMultipleClustersRoundTrips(t *testing.T) {
	fs, volume := newTestFileSpace(t)
	bytesPerCluster := int(volume.boot.BytesPerCluster)

	payload := make([]byte, bytesPerCluster*3+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	n, err := fs.WriteAt(payload, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n, err = fs.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, out))
}

func TestFileSpace_ReadAtAlignedMultiClusterReadUsesBulkPath(t *testing.T) {
	fs, volume := newTestFileSpace(t)
	bytesPerCluster := int(volume.boot.BytesPerCluster)

	payload := make([]byte, bytesPerCluster*3)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	_, err := fs.WriteAt(payload, 0)
	require.NoError(t, err)

	// bytesPerCluster*3 is both offset-aligned and length-aligned, so this read
	// should be served by bulkReadAligned rather than the per-cluster loop -- the
	// result must be identical either way since WriteAt's chain is unfragmented.
	out := make([]byte, bytesPerCluster*3)
	n, err := fs.ReadAt(out, 0)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.True(t, bytes.Equal(payload, out))
}

func TestFileSpace_TruncateToZeroFreesTheWholeChain(t *testing.T) {
	fs, volume := newTestFileSpace(t)

	freeBefore, err := volume.fat.ComputeFreeClusterCount()
	require.NoError(t, err)

	_, err = fs.WriteAt(bytes.Repeat([]byte{1}, int(volume.boot.BytesPerCluster)*2), 0)
	require.NoError(t, err)

	require.NoError(t, fs.Truncate(0))
	require.EqualValues(t, 0, fs.dirent.FirstCluster)

	freeAfter, err := volume.fat.ComputeFreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, freeBefore, freeAfter)
}

func TestFileSpace_TruncateShrinkReleasesTrailingClusters(t *testing.T) {
	fs, volume := newTestFileSpace(t)
	bytesPerCluster := int64(volume.boot.BytesPerCluster)

	_, err := fs.WriteAt(bytes.Repeat([]byte{1}, int(bytesPerCluster)*3), 0)
	require.NoError(t, err)

	require.NoError(t, fs.Truncate(bytesPerCluster+1))

	chain, err := volume.fatDriver.listClusters(fs.dirent.FirstCluster)
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestFileSpace_GrowToFitExtendsExistingChain(t *testing.T) {
	fs, volume := newTestFileSpace(t)
	bytesPerCluster := int64(volume.boot.BytesPerCluster)

	_, err := fs.WriteAt([]byte{1}, 0)
	require.NoError(t, err)

	require.NoError(t, fs.growToFit(bytesPerCluster*3))

	chain, err := volume.fatDriver.listClusters(fs.dirent.FirstCluster)
	require.NoError(t, err)
	require.Len(t, chain, 3)
}
