package fat

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/go-restruct/restruct"
)

// restructOrder is the byte order used for every on-disk structure in this package; FAT
// is defined to always be little-endian regardless of host architecture.
var restructOrder binary.ByteOrder = binary.LittleEndian

// rawLFNSlot is the on-disk representation of a single long file name directory entry
// slot. Up to 20 of these can precede the 8.3 entry they belong to, each one holding 13
// UTF-16 code units of the name.
type rawLFNSlot struct {
	SequenceNumber uint8
	NameChars1     [5]uint16
	AttributeFlags uint8
	EntryType      uint8
	Checksum       uint8
	NameChars2     [6]uint16
	FirstClusterLo uint16
	NameChars3     [2]uint16
}

// lfnSlotSize is the size, in bytes, of a packed LFN directory entry slot. Identical to
// DirentSize because LFN slots masquerade as regular 32-byte directory entries.
const lfnSlotSize = DirentSize

// lfnLastSlotFlag marks the slot holding the last (i.e. highest-offset) 13 characters of
// the name; slots are stored on disk in descending sequence-number order.
const lfnLastSlotFlag = 0x40

// maxLFNSlots is the maximum number of LFN slots permitted to precede one short entry,
// enough for a 255-character name (20 * 13 = 260, truncated to 255 by convention).
const maxLFNSlots = 20

// parseLFNSlot decodes one 32-byte LFN directory entry into its sequence number, its 13
// UTF-16 code units, and the checksum of the short name it belongs to.
func parseLFNSlot(data []byte) (slot rawLFNSlot, err error) {
	err = restruct.Unpack(data, restructOrder, &slot)
	return slot, err
}

// packLFNSlot serializes a rawLFNSlot back into its 32-byte on-disk form.
func packLFNSlot(slot rawLFNSlot) ([]byte, error) {
	return restruct.Pack(restructOrder, &slot)
}

func (slot rawLFNSlot) isLastSlot() bool {
	return slot.SequenceNumber&lfnLastSlotFlag != 0
}

func (slot rawLFNSlot) ordinal() int {
	return int(slot.SequenceNumber &^ lfnLastSlotFlag)
}

func (slot rawLFNSlot) isLongNameEntry() bool {
	return slot.AttributeFlags == AttrLongName
}

// nameChunk reassembles this slot's 13 UTF-16 code units, stopping at the first 0x0000
// terminator. Trailing code units are padded with 0xFFFF on disk and must be ignored.
func (slot rawLFNSlot) nameChunk() []uint16 {
	units := make([]uint16, 0, 13)
	units = append(units, slot.NameChars1[:]...)
	units = append(units, slot.NameChars2[:]...)
	units = append(units, slot.NameChars3[:]...)

	for i, u := range units {
		if u == 0x0000 {
			return units[:i]
		}
	}
	return units
}

// shortNameChecksum computes the checksum the FAT spec requires to be stored in every
// LFN slot associated with a short (8.3) directory entry, over the raw 11-byte
// name+extension field (not dot-separated, not trimmed).
func shortNameChecksum(rawNameAndExt [11]byte) uint8 {
	var sum uint8
	for _, b := range rawNameAndExt {
		// Rotate right by 1, then add the next byte. This is the exact algorithm
		// mandated by Microsoft's FAT specification.
		sum = ((sum & 1) << 7) + (sum >> 1) + b
	}
	return sum
}

// assembleLongName concatenates a set of LFN slots, already sorted in ascending ordinal
// order, into the long name they encode. Each slot's nameChunk has already had its
// NUL/0xFFFF padding stripped.
func assembleLongName(slots []rawLFNSlot) string {
	var units []uint16
	for _, slot := range slots {
		units = append(units, slot.nameChunk()...)
	}
	return string(utf16.Decode(units))
}

// buildLFNSlots splits longName into the minimum number of 13-UTF16-unit slots needed to
// represent it, in the on-disk descending-sequence-number order (last slot first),
// each stamped with checksum so it can be written immediately before the short entry it
// belongs to.
func buildLFNSlots(longName string, checksum uint8) []rawLFNSlot {
	units := utf16.Encode([]rune(longName))

	numSlots := (len(units) + 12) / 13
	if numSlots == 0 {
		numSlots = 1
	}

	slots := make([]rawLFNSlot, numSlots)
	for i := 0; i < numSlots; i++ {
		chunkStart := i * 13
		chunk := make([]uint16, 13)
		for j := 0; j < 13; j++ {
			pos := chunkStart + j
			switch {
			case pos < len(units):
				chunk[j] = units[pos]
			case pos == len(units):
				chunk[j] = 0x0000
			default:
				chunk[j] = 0xFFFF
			}
		}

		slot := rawLFNSlot{
			SequenceNumber: uint8(i + 1),
			AttributeFlags: AttrLongName,
			Checksum:       checksum,
		}
		copy(slot.NameChars1[:], chunk[0:5])
		copy(slot.NameChars2[:], chunk[5:11])
		copy(slot.NameChars3[:], chunk[11:13])
		slots[i] = slot
	}

	slots[numSlots-1].SequenceNumber |= lfnLastSlotFlag

	// Slots must be written to disk in descending sequence-number order, i.e. the slot
	// holding the tail of the name comes first.
	reversed := make([]rawLFNSlot, numSlots)
	for i, slot := range slots {
		reversed[numSlots-1-i] = slot
	}
	return reversed
}

// needsLongName reports whether name cannot be represented exactly as an 8.3 short name
// and therefore needs an LFN chain.
func needsLongName(name, shortName string) bool {
	if len(name) > 12 {
		return true
	}
	return !strings.EqualFold(name, shortName)
}
