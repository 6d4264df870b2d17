package fat

import (
	"encoding/binary"
	"os"
	"strings"
	"syscall"
	"time"

	gofat "github.com/dargueta/gofat"
)

// RawDirent is the on-disk representation of a directory entry, broken down into its
// constituent fields.
type RawDirent struct {
	Name              [8]byte
	Extension         [3]byte
	AttributeFlags    uint8
	NTReserved        uint8
	CreatedTimeMillis uint8
	CreatedTime       uint16
	CreatedDate       uint16
	LastAccessedDate  uint16
	FirstClusterHigh  uint16
	LastModifiedTime  uint16
	LastModifiedDate  uint16
	FirstClusterLow   uint16
	FileSize          uint32
}

// Dirent is a representation of a FAT directory entry's data in a user-friendly format,
// e.g. 0x50FC is a time.Time representing 2020-07-28 00:00:00 UTC.
type Dirent struct {
	name           string
	shortName      string
	AttributeFlags int
	NTReserved     int
	Created        time.Time
	Deleted        time.Time
	LastAccessed   time.Time
	LastModified   time.Time
	FirstCluster   ClusterID
	isDeleted      bool
	size           int64
	mode           os.FileMode

	// slotOffset is the byte offset, relative to the start of the directory's data
	// region, of this entry's 8.3 slot. It's how dirmanage/dircache address an entry
	// for updates without re-scanning the whole directory.
	slotOffset int64

	// lfnSlotCount is the number of LFN slots immediately preceding the 8.3 slot, or 0
	// if this entry has no long name of its own.
	lfnSlotCount int
}

// DirentSize is the size of a single raw directory entry, in bytes.
const DirentSize = 32

// DateFromInt converts the FAT on-disk representation of a date into a Go time.Time
// object.
func DateFromInt(value uint16) time.Time {
	createDay := int(value & 0x001f)
	createMonth := time.Month((value >> 5) & 0x000f)
	createYear := int(1980 + (value >> 9))

	return time.Date(createYear, createMonth, createDay, 0, 0, 0, 0, time.UTC)
}

// TimestampFromParts converts a FAT timestamp into a time.Time object. datePart is
// required; timePart and hundredths should be 0 if they're not present in the source
// field(s).
func TimestampFromParts(datePart uint16, timePart uint16, hundredths uint8) time.Time {
	dateDt := DateFromInt(datePart)

	seconds := int((timePart & 0x001f) * 2)
	if hundredths >= 100 {
		seconds += 1
		hundredths -= 100
	}

	minutes := int((timePart >> 5) & 0x003f)
	hours := int(timePart >> 11)
	nanoseconds := int(hundredths) * 10000000

	return time.Date(
		dateDt.Year(), dateDt.Month(), dateDt.Day(), hours, minutes, seconds, nanoseconds, time.UTC)
}

// AttrFlagsToFileMode converts FAT attribute flags into Go's os.FileMode.
func AttrFlagsToFileMode(flags uint8) os.FileMode {
	var mode os.FileMode

	// FAT has no way to mark files as executable, so the executable bit is always clear
	// for files.
	if (flags & AttrReadOnly) != 0 {
		mode = 0o444
	} else {
		mode = 0o666
	}

	if (flags & AttrDirectory) != 0 {
		// By Unix convention directories must be executable or else you can't go into
		// them.
		return os.ModeDir | mode | 0o111
	}

	return mode
}

// NewRawDirentFromBytes deserializes 32 bytes into a RawDirent struct for further
// processing.
func NewRawDirentFromBytes(data []byte) (RawDirent, error) {
	dirent := RawDirent{
		AttributeFlags:    data[11],
		NTReserved:        data[12],
		CreatedTimeMillis: data[13],
		CreatedTime:       binary.LittleEndian.Uint16(data[14:16]),
		CreatedDate:       binary.LittleEndian.Uint16(data[16:18]),
		LastAccessedDate:  binary.LittleEndian.Uint16(data[18:20]),
		FirstClusterHigh:  binary.LittleEndian.Uint16(data[20:22]),
		LastModifiedTime:  binary.LittleEndian.Uint16(data[22:24]),
		LastModifiedDate:  binary.LittleEndian.Uint16(data[24:26]),
		FirstClusterLow:   binary.LittleEndian.Uint16(data[26:28]),
		FileSize:          binary.LittleEndian.Uint32(data[28:32]),
	}

	copy(dirent.Name[:], data[:8])
	copy(dirent.Extension[:], data[8:11])
	return dirent, nil
}

// rawShortNameFields packs the raw name/extension back into the 11-byte form the LFN
// checksum algorithm expects.
func (rd RawDirent) rawShortNameFields() [11]byte {
	var out [11]byte
	copy(out[:8], rd.Name[:])
	copy(out[8:], rd.Extension[:])
	return out
}

// NewDirentFromRaw creates a fully processed Dirent from a raw one, such as converting
// 24-bit values into time.Time values. Returns gofat.ErrNotExist if the slot is free
// (first byte 0x00) so callers scanning a directory know to stop.
func NewDirentFromRaw(rawDirent *RawDirent) (Dirent, error) {
	dirent := Dirent{
		AttributeFlags: int(rawDirent.AttributeFlags),
		NTReserved:     int(rawDirent.NTReserved),
		LastAccessed:   DateFromInt(rawDirent.LastAccessedDate),
		isDeleted:      rawDirent.Name[0] == 0xE5,
		size:           int64(rawDirent.FileSize),
		mode:           AttrFlagsToFileMode(rawDirent.AttributeFlags),
		LastModified: TimestampFromParts(
			rawDirent.LastModifiedDate, rawDirent.LastModifiedTime, 0),
		FirstCluster: ClusterID(
			(uint32(rawDirent.FirstClusterHigh) << 16) | uint32(rawDirent.FirstClusterLow)),
	}

	if rawDirent.Name[0] == 0x00 {
		// This directory entry is free and thus invalid; callers use this to detect the
		// unused tail of a directory's allocated clusters.
		return Dirent{}, gofat.ErrNotExist
	}

	trimmedName := strings.TrimRight(string(rawDirent.Name[:]), " ")
	trimmedExt := strings.TrimRight(string(rawDirent.Extension[:]), " ")

	if rawDirent.Name[0] == 0xE5 {
		// Represents a deleted file, and the real first character of the filename is in
		// CreatedTimeMillis.
		trimmedName = string([]byte{rawDirent.CreatedTimeMillis}) + trimmedName[1:]
	} else if rawDirent.Name[0] == 0x05 {
		// First character of the filename is actually 0xE5.
		trimmedName = "\xe5" + trimmedName[1:]
	}

	if trimmedExt == "" {
		dirent.shortName = trimmedName
	} else {
		dirent.shortName = trimmedName + "." + trimmedExt
	}
	dirent.name = dirent.shortName

	if dirent.isDeleted {
		dirent.Deleted = TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, 0)
	} else {
		dirent.Created = TimestampFromParts(
			rawDirent.CreatedDate, rawDirent.CreatedTime, rawDirent.CreatedTimeMillis)
	}

	return dirent, nil
}

// clusterToDirentSlice processes a slice of bytes the size of a full cluster into a
// slice of directory entries, reassembling any LFN slot chains it encounters into the
// Dirent's long name.
func (drv *FATDriver) clusterToDirentSlice(data []byte) ([]Dirent, error) {
	allDirents := []Dirent{}
	bootSector := drv.fs.GetBootSector()

	var pendingLFN []rawLFNSlot

	for i := 0; i < bootSector.DirentsPerCluster; i++ {
		offset := i * DirentSize
		slotBytes := data[offset : offset+DirentSize]

		if slotBytes[0] == 0x00 {
			// Free slot: end of the directory's used entries.
			break
		}
		if slotBytes[0] == 0xE5 {
			// Deleted entry; clears any in-progress LFN chain since it can no longer be
			// completed by a matching short entry.
			pendingLFN = nil
			continue
		}
		if slotBytes[11] == AttrLongName {
			slot, err := parseLFNSlot(slotBytes)
			if err != nil {
				return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
			}
			pendingLFN = append(pendingLFN, slot)
			continue
		}

		rawDirent, _ := NewRawDirentFromBytes(slotBytes)
		dirent, err := NewDirentFromRaw(&rawDirent)
		if err != nil {
			if driverErr, ok := err.(*gofat.DriverError); ok && driverErr.ErrnoCode == syscall.ENOENT {
				break
			}
			return nil, err
		}

		dirent.slotOffset = int64(offset)

		if len(pendingLFN) > 0 {
			if longName, ok := resolveLFNChain(pendingLFN, rawDirent.rawShortNameFields()); ok {
				dirent.name = longName
				dirent.lfnSlotCount = len(pendingLFN)
			}
			pendingLFN = nil
		}

		allDirents = append(allDirents, dirent)
	}

	return allDirents, nil
}

// resolveLFNChain orders a set of collected LFN slots by ordinal, verifies their
// checksum against the short entry that terminates the chain, and returns the
// reassembled long name. ok is false if the checksum doesn't match (a sign of
// corruption or an orphaned LFN chain), in which case the caller should fall back to
// the short name.
func resolveLFNChain(slots []rawLFNSlot, shortNameFields [11]byte) (string, bool) {
	expectedChecksum := shortNameChecksum(shortNameFields)

	ordered := make([]rawLFNSlot, len(slots))
	for _, slot := range slots {
		ordinal := slot.ordinal()
		if ordinal < 1 || ordinal > len(slots) {
			return "", false
		}
		if slot.Checksum != expectedChecksum {
			return "", false
		}
		ordered[ordinal-1] = slot
	}

	return assembleLongName(ordered), true
}

// Dirent implementation of FileInfo -------------------------------------------

// Name returns the entry's display name: its long name if it has one, otherwise its
// 8.3 short name.
func (d *Dirent) Name() string { return d.name }

// ShortName returns the entry's 8.3 name, e.g. "DOCUME~1.TXT", regardless of whether
// it also has a long name.
func (d *Dirent) ShortName() string { return d.shortName }

// HasLongName reports whether this entry was stored with a preceding LFN chain.
func (d *Dirent) HasLongName() bool { return d.lfnSlotCount > 0 }

// Size is the size of the directory entry if and ONLY if it's a regular file.
//
// Directories will have this value set to 0. The only way to tell the size of a
// directory is to recurse through it completely.
func (d *Dirent) Size() int64 { return d.size }

func (d *Dirent) Mode() os.FileMode { return d.mode }

func (d *Dirent) ModTime() time.Time { return d.LastModified }

func (d *Dirent) IsDir() bool { return d.mode.IsDir() }

func (d *Dirent) IsDeleted() bool { return d.isDeleted }

func (d *Dirent) Sys() interface{} { return nil }

// -----------------------------------------------------------------------------
