package fat

import (
	"testing"
	"time"

	gofat "github.com/dargueta/gofat"
	"github.com/stretchr/testify/require"
)

func TestDateFromInt_DecodesPackedFields(t *testing.T) {
	// 1980-01-01 packs to all zero bits.
	require.True(t, DateFromInt(0).Equal(time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)))

	// Year 5 (1985), month 7, day 28: (5<<9)|(7<<5)|28 = 2560+224+28 = 2812.
	got := DateFromInt(2812)
	require.Equal(t, 1985, got.Year())
	require.Equal(t, time.July, got.Month())
	require.Equal(t, 28, got.Day())
}

func TestTimestampFromParts_CombinesDateTimeAndHundredths(t *testing.T) {
	// hour 13, minute 30, 2-second-granularity seconds field 10 -> 20s, plus 150
	// hundredths (1.5s) carries one extra second.
	timePart := uint16(13<<11) | uint16(30<<5) | uint16(10)
	got := TimestampFromParts(0, timePart, 150)

	require.Equal(t, 1980, got.Year())
	require.Equal(t, 13, got.Hour())
	require.Equal(t, 30, got.Minute())
	require.Equal(t, 21, got.Second())
	require.Equal(t, 500000000, got.Nanosecond())
}

func TestAttrFlagsToFileMode(t *testing.T) {
	require.Equal(t, 0o666, int(AttrFlagsToFileMode(0).Perm()))
	require.Equal(t, 0o444, int(AttrFlagsToFileMode(AttrReadOnly).Perm()))

	dirMode := AttrFlagsToFileMode(AttrDirectory)
	require.True(t, dirMode.IsDir())
	require.Equal(t, 0o777, int(dirMode.Perm()))
}

func TestNewDirentFromRaw_FreeSlotReturnsNotExist(t *testing.T) {
	raw := RawDirent{}
	_, err := NewDirentFromRaw(&raw)
	require.ErrorIs(t, err, gofat.ErrNotExist)
}

func TestNewDirentFromRaw_DeletedEntryRecoversFirstCharacter(t *testing.T) {
	raw := RawDirent{
		Name:      [8]byte{0xE5, 'O', 'O', ' ', ' ', ' ', ' ', ' '},
		Extension: [3]byte{'T', 'X', 'T'},
		// The byte the 0xE5 marker clobbered is stashed here.
		CreatedTimeMillis: 'F',
	}
	dirent, err := NewDirentFromRaw(&raw)
	require.NoError(t, err)
	require.True(t, dirent.IsDeleted())
	require.Equal(t, "FOO.TXT", dirent.ShortName())
}

func TestNewDirentFromRaw_LeadingE5EscapeByte(t *testing.T) {
	raw := RawDirent{
		Name:      [8]byte{0x05, 'O', 'O', ' ', ' ', ' ', ' ', ' '},
		Extension: [3]byte{' ', ' ', ' '},
	}
	dirent, err := NewDirentFromRaw(&raw)
	require.NoError(t, err)
	require.Equal(t, "\xe5OO", dirent.ShortName())
}

// stubFATDriverCommon implements FATDriverCommon with just enough to satisfy
// clusterToDirentSlice, which only reads DirentsPerCluster off the boot sector.
type stubFATDriverCommon struct {
	boot *FATBootSector
}

func (s stubFATDriverCommon) GetBootSector() *FATBootSector { return s.boot }
func (s stubFATDriverCommon) GetClusterAtIndex(index uint) (ClusterID, error) {
	return 0, nil
}
func (s stubFATDriverCommon) SetClusterAtIndex(index uint, cluster ClusterID) error { return nil }
func (s stubFATDriverCommon) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return 0, nil
}
func (s stubFATDriverCommon) IsValidCluster(cluster ClusterID) bool { return false }
func (s stubFATDriverCommon) IsEndOfChain(cluster ClusterID) bool  { return true }

func packShortDirentBytes(t *testing.T, name, ext string, attrs uint8, size uint32) []byte {
	t.Helper()
	require.Len(t, name, 8)
	require.Len(t, ext, 3)

	buf := make([]byte, DirentSize)
	copy(buf[0:8], name)
	copy(buf[8:11], ext)
	buf[11] = attrs
	buf[28] = byte(size)
	buf[29] = byte(size >> 8)
	buf[30] = byte(size >> 16)
	buf[31] = byte(size >> 24)
	return buf
}

func TestClusterToDirentSlice_PlainShortEntryAndStopAtFreeSlot(t *testing.T) {
	boot := &FATBootSector{DirentsPerCluster: 4}
	drv := &FATDriver{fs: stubFATDriverCommon{boot: boot}}

	cluster := make([]byte, boot.DirentsPerCluster*DirentSize)
	copy(cluster[0:DirentSize], packShortDirentBytes(t, "README  ", "TXT", 0, 11))
	// The rest of the cluster is already zeroed, i.e. free slots.

	dirents, err := drv.clusterToDirentSlice(cluster)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	require.Equal(t, "README.TXT", dirents[0].Name())
	require.EqualValues(t, 11, dirents[0].Size())
}

func TestClusterToDirentSlice_ReassemblesLongNameFromPrecedingSlots(t *testing.T) {
	boot := &FATBootSector{DirentsPerCluster: 4}
	drv := &FATDriver{fs: stubFATDriverCommon{boot: boot}}

	shortFields := rawShortNameFieldsFromParts("LONGNA~1", "DAT")
	checksum := shortNameChecksum(shortFields)
	slots := buildLFNSlots("longname with spaces.dat", checksum)
	require.Len(t, slots, 2)

	cluster := make([]byte, boot.DirentsPerCluster*DirentSize)
	offset := 0
	for _, slot := range slots {
		packed, err := packLFNSlot(slot)
		require.NoError(t, err)
		copy(cluster[offset:offset+DirentSize], packed)
		offset += DirentSize
	}
	copy(cluster[offset:offset+DirentSize], packShortDirentBytes(t, "LONGNA~1", "DAT", 0, 1))

	dirents, err := drv.clusterToDirentSlice(cluster)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	require.Equal(t, "longname with spaces.dat", dirents[0].Name())
	require.True(t, dirents[0].HasLongName())
	require.Equal(t, "LONGNA~1.DAT", dirents[0].ShortName())
}

func TestClusterToDirentSlice_DeletedEntryClearsPendingLFNChain(t *testing.T) {
	boot := &FATBootSector{DirentsPerCluster: 4}
	drv := &FATDriver{fs: stubFATDriverCommon{boot: boot}}

	shortFields := rawShortNameFieldsFromParts("ORPHAN~1", "DAT")
	checksum := shortNameChecksum(shortFields)
	slots := buildLFNSlots("an orphaned lfn chain.dat", checksum)

	cluster := make([]byte, boot.DirentsPerCluster*DirentSize)
	offset := 0
	for _, slot := range slots {
		packed, err := packLFNSlot(slot)
		require.NoError(t, err)
		copy(cluster[offset:offset+DirentSize], packed)
		offset += DirentSize
	}
	// A deleted-entry marker between the LFN chain and its short entry orphans the
	// chain; resolveLFNChain should never see it.
	deleted := packShortDirentBytes(t, "GONE    ", "TXT", 0, 0)
	deleted[0] = 0xE5
	copy(cluster[offset:offset+DirentSize], deleted)
	offset += DirentSize
	copy(cluster[offset:offset+DirentSize], packShortDirentBytes(t, "PLAIN   ", "TXT", 0, 0))

	dirents, err := drv.clusterToDirentSlice(cluster)
	require.NoError(t, err)
	require.Len(t, dirents, 1)
	require.Equal(t, "PLAIN.TXT", dirents[0].Name())
	require.False(t, dirents[0].HasLongName())
}

func rawShortNameFieldsFromParts(name, ext string) [11]byte {
	var out [11]byte
	copy(out[:8], name)
	copy(out[8:], ext)
	return out
}
