package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndAssembleLongName_RoundTrip(t *testing.T) {
	names := []string{
		"a.txt",
		"longname with spaces.dat",
		"exactly13char",
		"a rather long file name that needs more than one lfn slot.txt",
	}

	for _, name := range names {
		slots := buildLFNSlots(name, 0x42)
		require.NotEmpty(t, slots)

		// Slots are stored on disk in descending sequence order (tail first);
		// assembleLongName expects ascending order, so reverse before reassembling.
		ascending := make([]rawLFNSlot, len(slots))
		for i, slot := range slots {
			ascending[len(slots)-1-i] = slot
		}

		require.Equal(t, name, assembleLongName(ascending))
		require.True(t, slots[0].isLastSlot(), "first slot on disk holds the name's tail")
	}
}

func TestBuildLFNSlots_StampsCommonChecksum(t *testing.T) {
	slots := buildLFNSlots("a rather long file name indeed.txt", 0x99)
	for _, slot := range slots {
		require.Equal(t, uint8(0x99), slot.Checksum)
		require.True(t, slot.isLongNameEntry())
	}
}

func TestShortNameChecksum_StableAcrossRewrites(t *testing.T) {
	rawName, rawExt := toRawShortName("A.TXT")
	var fields [11]byte
	copy(fields[:8], rawName[:])
	copy(fields[8:], rawExt[:])

	checksum1 := shortNameChecksum(fields)
	checksum2 := shortNameChecksum(fields)
	require.Equal(t, checksum1, checksum2)

	// Changing even one byte of the 11-byte field must, in general, change the
	// checksum -- verifies the algorithm actually looks at every byte.
	fields[0] = 'B'
	require.NotEqual(t, checksum1, shortNameChecksum(fields))
}

func TestResolveLFNChain_DetectsChecksumMismatch(t *testing.T) {
	slots := buildLFNSlots("mismatched.txt", 0x11)
	_, ok := resolveLFNChain(slots, [11]byte{'W', 'R', 'O', 'N', 'G', ' ', ' ', ' ', 'T', 'X', 'T'})
	require.False(t, ok)
}

func TestResolveLFNChain_ReassemblesMatchingChain(t *testing.T) {
	rawName, rawExt := toRawShortName("LONGNA~1.DAT")
	var fields [11]byte
	copy(fields[:8], rawName[:])
	copy(fields[8:], rawExt[:])
	checksum := shortNameChecksum(fields)

	slots := buildLFNSlots("longname with spaces.dat", checksum)
	name, ok := resolveLFNChain(slots, fields)
	require.True(t, ok)
	require.Equal(t, "longname with spaces.dat", name)
}

func TestNeedsLongName(t *testing.T) {
	require.False(t, needsLongName("A.TXT", "A.TXT"))
	require.False(t, needsLongName("a.txt", "A.TXT"))
	require.True(t, needsLongName("longname.txt", "LONGNA~1.TXT"))
	require.True(t, needsLongName("thisistoolong.txt", "THISIS~1.TXT"))
}
