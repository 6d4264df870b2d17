package fat

import (
	"testing"

	fattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/require"
)

func TestMountVolume_FAT12_RootDirentUsesClusterZeroSentinel(t *testing.T) {
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)

	require.Equal(t, 12, volume.boot.FATVersion)
	require.EqualValues(t, 0, volume.RootDirent().FirstCluster)
}

func TestMountVolume_FAT12_IsAlwaysReportedClean(t *testing.T) {
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)

	dirty, err := volume.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)

	// SetDirty is a no-op on FAT12; IsDirty must still report false afterward.
	require.NoError(t, volume.SetDirty(true))
	dirty, err = volume.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)
}

// A 20MiB image lands in chooseSectorsPerCluster's 16-128MiB tier (8
// sectors/cluster), giving a cluster count within FAT16's range.
func newTestFAT16Volume(t *testing.T) *Volume {
	t.Helper()
	stream := fattesting.BuildFormattedImage(t, 512, 40960)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)
	require.Equal(t, 16, volume.boot.FATVersion)
	return volume
}

func TestVolume_SetDirtyThenIsDirtyRoundTrips_FAT16(t *testing.T) {
	volume := newTestFAT16Volume(t)

	dirty, err := volume.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty, "a freshly formatted volume should start clean")

	require.NoError(t, volume.SetDirty(true))
	dirty, err = volume.IsDirty()
	require.NoError(t, err)
	require.True(t, dirty)

	require.NoError(t, volume.SetDirty(false))
	dirty, err = volume.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestVolume_FSStat_ReportsWholeVolumeFreeWhenEmpty(t *testing.T) {
	volume := newTestFAT16Volume(t)

	stat, err := volume.FSStat()
	require.NoError(t, err)
	require.EqualValues(t, volume.boot.BytesPerCluster, stat.BlockSize)
	require.EqualValues(t, volume.boot.TotalClusters, stat.TotalBlocks)
	require.Equal(t, stat.TotalBlocks, stat.BlocksFree)
}

func TestVolume_FSStat_DecreasesAfterAllocatingAChain(t *testing.T) {
	volume := newTestFAT16Volume(t)

	before, err := volume.FSStat()
	require.NoError(t, err)

	_, err = volume.fat.AllocateChain(3)
	require.NoError(t, err)

	after, err := volume.FSStat()
	require.NoError(t, err)
	require.Equal(t, before.BlocksFree-3, after.BlocksFree)
}

func TestVolume_FlushClearsDirtyFlag(t *testing.T) {
	volume := newTestFAT16Volume(t)

	require.NoError(t, volume.SetDirty(true))
	require.NoError(t, volume.Flush())

	dirty, err := volume.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestVolume_UnmountMarksReadOnly(t *testing.T) {
	volume := newTestFAT16Volume(t)
	require.NoError(t, volume.Unmount())
	require.True(t, volume.readOnly)
}
