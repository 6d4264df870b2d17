package fat

import (
	"testing"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// newTestFatTable builds a FatTable of the given width backed by an in-memory
// device, with totalClusters usable clusters (all initially free).
func newTestFatTable(t *testing.T, version int, totalClusters uint, numFATs int) *FatTable {
	t.Helper()

	var bytesPerEntry uint
	switch version {
	case 12:
		bytesPerEntry = 2 // upper bound; 12-bit entries straddle bytes in pairs
	case 16:
		bytesPerEntry = 2
	case 32:
		bytesPerEntry = 4
	default:
		t.Fatalf("unsupported version %d", version)
	}

	fatSizeBytes := (totalClusters + 2) * bytesPerEntry
	// Round up to a sector so flushRange's block math stays in bounds.
	const bytesPerSector = 512
	sectorsPerFAT := (fatSizeBytes + bytesPerSector - 1) / bytesPerSector
	fatSizeBytes = sectorsPerFAT * bytesPerSector

	image := make([]byte, uint(numFATs)*fatSizeBytes+bytesPerSector)
	stream := bytesextra.NewReadWriteSeeker(image)
	device := common.NewBlockStream(stream, uint(len(image))/bytesPerSector, bytesPerSector, 0)

	boot := &FATBootSector{
		RawFATBootSectorWithBPB: RawFATBootSectorWithBPB{
			BytesPerSector: bytesPerSector,
			NumFATs:        uint8(numFATs),
		},
		SectorsPerFAT: sectorsPerFAT,
		FATVersion:    version,
		TotalClusters: totalClusters,
	}
	boot.ReservedSectors = 0

	table, err := NewFatTable(&device, boot)
	require.NoError(t, err)
	return table
}

func TestFatTable_SetGetRoundTrip(t *testing.T) {
	for _, version := range []int{12, 16, 32} {
		version := version
		t.Run(versionName(version), func(t *testing.T) {
			table := newTestFatTable(t, version, 16, 1)

			require.NoError(t, table.SetClusterAtIndex(2, 5))
			require.NoError(t, table.SetClusterAtIndex(3, table.endOfChainThreshold()))

			value, err := table.GetClusterAtIndex(2)
			require.NoError(t, err)
			require.EqualValues(t, 5, value)

			value, err = table.GetClusterAtIndex(3)
			require.NoError(t, err)
			require.True(t, table.IsEndOfChain(value))
		})
	}
}

func versionName(version int) string {
	switch version {
	case 12:
		return "FAT12"
	case 16:
		return "FAT16"
	default:
		return "FAT32"
	}
}

func TestFatTable_AllocateChainLinksClustersInOrder(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)

	chain, err := table.AllocateChain(4)
	require.NoError(t, err)
	require.Len(t, chain, 4)

	for i := 0; i < len(chain)-1; i++ {
		next, err := table.GetClusterAtIndex(uint(chain[i]))
		require.NoError(t, err)
		require.Equal(t, chain[i+1], next)
	}

	last, err := table.GetClusterAtIndex(uint(chain[len(chain)-1]))
	require.NoError(t, err)
	require.True(t, table.IsEndOfChain(last))
}

func TestFatTable_AllocateChainFailsWhenVolumeFull(t *testing.T) {
	table := newTestFatTable(t, 16, 4, 1)

	_, err := table.AllocateChain(5)
	require.Error(t, err)
}

func TestFatTable_FreeChainReturnsClustersToThePool(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)

	chain, err := table.AllocateChain(3)
	require.NoError(t, err)

	freeBefore, err := table.ComputeFreeClusterCount()
	require.NoError(t, err)

	require.NoError(t, table.FreeChain(chain[0]))

	freeAfter, err := table.ComputeFreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, freeBefore+3, freeAfter)
}

func TestFatTable_TruncateChainAfterFreesTrailingClusters(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)

	chain, err := table.AllocateChain(5)
	require.NoError(t, err)

	require.NoError(t, table.TruncateChainAfter(chain[1]))

	value, err := table.GetClusterAtIndex(uint(chain[1]))
	require.NoError(t, err)
	require.True(t, table.IsEndOfChain(value))

	value, err = table.GetClusterAtIndex(uint(chain[2]))
	require.NoError(t, err)
	require.Equal(t, clusterFree, value)
}

func TestFatTable_WritesFanOutToEveryFATCopy(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 2)

	require.NoError(t, table.SetClusterAtIndex(2, 99))

	secondCopyOffset := table.firstFATByte + common.BlockID(table.fatSizeBytes/table.device.BytesPerBlock)
	raw, err := table.device.Read(secondCopyOffset, 1)
	require.NoError(t, err)
	require.EqualValues(t, 99, uint16(raw[4])|uint16(raw[5])<<8)
}

func TestFatTable_SetClusterAtIndexRejectsReservedEntries(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)

	require.Equal(t, gofat.ErrVolumeCorrupted, table.SetClusterAtIndex(0, 5))
	require.Equal(t, gofat.ErrVolumeCorrupted, table.SetClusterAtIndex(1, 5))
}

func TestFatTable_FirstMutationSetsDirtyBitBeforeFlush(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)
	// newTestFatTable's FAT is all zeroes, so entry 1's clean-shutdown bit starts
	// clear; mark the table clean first, as a freshly formatted volume would be.
	require.NoError(t, table.ClearDirty())

	dirty, err := table.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, table.SetClusterAtIndex(2, table.endOfChainThreshold()))

	dirty, err = table.IsDirty()
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestFatTable_ClearDirtyResetsTheBit(t *testing.T) {
	table := newTestFatTable(t, 16, 10, 1)

	require.NoError(t, table.SetClusterAtIndex(2, table.endOfChainThreshold()))
	require.NoError(t, table.ClearDirty())

	dirty, err := table.IsDirty()
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestFatTable_ComputeFreeClusterCountMatchesInitialState(t *testing.T) {
	table := newTestFatTable(t, 16, 20, 1)

	free, err := table.ComputeFreeClusterCount()
	require.NoError(t, err)
	require.EqualValues(t, 20, free)
}
