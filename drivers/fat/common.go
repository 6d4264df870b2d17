// Package fat implements a driver for accessing FAT12, FAT16, and FAT32 file systems,
// including long file name (LFN) support.

package fat

import (
	"encoding/binary"
	"fmt"
	"io"
	"syscall"

	gofat "github.com/dargueta/gofat"
)

const (
	// AttrReadOnly is an attribute flag marking a directory entry as read-only.
	AttrReadOnly = 1 << iota

	// AttrHidden is an attribute flag marking a directory entry as "hidden", meaning it
	// wouldn't show up in normal directory listings. This is most commonly used for
	// hiding operating system files from normal users.
	//
	// Drivers don't need to honor this flag when reading, but should not modify it unless
	// explicitly requested by the user.
	AttrHidden = 1 << iota

	// AttrSystem is an attribute flag marking a directory entry as essential to the
	// operating system and must not be moved (e.g. during defragmentation) because the
	// OS may have hard-coded pointers to the file.
	AttrSystem = 1 << iota

	// AttrVolumeLabel is an attribute flag that marks a file as containing the true
	// volume label of the file system. It must reside in the root directory, and there
	// must be only one. For compatibility reasons it should be the first directory entry
	// after `.` and `..` but this is not required.
	//
	// The struct in the boot sector only has eleven bytes of space for the volume label.
	// This is not always enough, especially for systems or languages using multi-byte
	// character encodings.
	AttrVolumeLabel = 1 << iota

	// AttrDirectory is an attribute flag marking a directory entry as being a directory.
	AttrDirectory = 1 << iota

	// AttrArchived is an attribute flag used by some systems to mark a directory entry
	// as "dirty", and is set it whenever the directory entry is created or modified.
	// Archiving tools use this flag to determine whether the file/directory needs to be
	// backed up or not.
	AttrArchived = 1 << iota

	// AttrDevice is an attribute flag marking a directory entry as abstracting a device.
	// This is typically only found on in-memory file systems; if encountered on a disk,
	// it must not be modified.
	AttrDevice = 1 << iota

	// AttrReserved is an attribute flag that is undefined by the FAT standard and must
	// not be modified by tools.
	AttrReserved = 1 << iota

	// AttrLongName is the attribute value used by LFN slot entries
	// (AttrReadOnly|AttrHidden|AttrSystem|AttrVolumeLabel). A normal short entry never
	// has this exact combination since AttrVolumeLabel and AttrDirectory are mutually
	// exclusive in practice.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel

	// AttrLongNameMask is the set of bits that must match AttrLongName for an entry to
	// be considered an LFN slot.
	AttrLongNameMask = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel | AttrDirectory | AttrArchived
)

// RawFATBootSectorWithBPB is the on-disk representation of the boot sector.
type RawFATBootSectorWithBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32
}

type FATBootSector struct {
	RawFATBootSectorWithBPB
	SectorsPerFAT     uint
	TotalFATSectors   uint
	RootDirSectors    uint
	BytesPerCluster   uint
	TotalClusters     uint
	TotalDataSectors  uint
	FirstDataSector   SectorID
	FATVersion        int
	DirentsPerCluster int
	RootCluster       ClusterID
}

// DetermineFATVersion determines the version of the FAT file system based on the number
// of clusters on the system. (This is the only proper way to do so.)
func DetermineFATVersion(totalClusters uint) int {
	// These cluster counts, while odd-looking, are correct. They're taken directly from
	// Microsoft's FAT documentation, v1.03, page 14.
	if totalClusters < 4085 {
		return 12
	}
	if totalClusters < 65525 {
		return 16
	}
	return 32
}

// NewFATBootSectorFromStream reads the first 40-ish bytes of a disk image and returns a
// structure with detailed information on the file system. When the 16-bit sectors-per-FAT
// field is 0 (FAT32), the FAT32-specific extension that follows the shared BPB is also
// read, before the version is computed; only its FATSize32 and RootCluster are kept.
//
// If an error occurs, it returns nil and an error object. There are no guarantees on
// the position of stream pointer in this case.
func NewFATBootSectorFromStream(reader io.Reader) (*FATBootSector, error) {
	rawHeader := RawFATBootSectorWithBPB{}

	err := binary.Read(reader, binary.LittleEndian, &rawHeader)
	if err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	var sectorsPerFAT32 uint32
	var rootCluster uint32

	if rawHeader.sectorsPerFAT16 == 0 {
		// This is either FAT32, or corrupted. Parse the FAT32-only extension fields
		// that immediately follow the shared BPB.
		var ext struct {
			FATSize32        uint32
			ExtFlags         uint16
			FSVersion        uint16
			RootCluster      uint32
			FSInfoSector     uint16
			BackupBootSector uint16
			Reserved         [12]byte
		}
		if err := binary.Read(reader, binary.LittleEndian, &ext); err != nil {
			return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		sectorsPerFAT32 = ext.FATSize32
		rootCluster = ext.RootCluster
	}

	var sectorsPerFAT uint
	if rawHeader.sectorsPerFAT16 != 0 {
		sectorsPerFAT = uint(rawHeader.sectorsPerFAT16)
	} else {
		sectorsPerFAT = uint(sectorsPerFAT32)
	}

	var totalSectors uint
	if rawHeader.totalSectors16 != 0 {
		totalSectors = uint(rawHeader.totalSectors16)
	} else {
		totalSectors = uint(rawHeader.totalSectors32)
	}

	// The number of sectors taken up by the root directory. On FAT32 systems, this will
	// be 0, since the root directory is just another cluster chain.
	rootDirSectors := uint(
		((uint32(rawHeader.RootEntryCount) * 32) + (uint32(rawHeader.BytesPerSector) - 1)) / uint32(rawHeader.BytesPerSector))

	totalFATSectors := uint(rawHeader.NumFATs) * sectorsPerFAT
	dataSectors := totalSectors - uint(rawHeader.ReservedSectors) - totalFATSectors - rootDirSectors
	totalClusters := dataSectors / uint(rawHeader.SectorsPerCluster)

	// BytesPerSector must be 512, 1024, 2048, or 4096.
	switch rawHeader.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		message := fmt.Sprintf(
			"bad value for BytesPerSector: need 512, 1024, 2048, or 4096, got %d",
			rawHeader.BytesPerSector)
		return nil, gofat.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	// SectorsPerCluster must be 2^x with x in [0, 8)
	switch rawHeader.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		message := fmt.Sprintf(
			"corruption detected: SectorsPerCluster must be a power of 2 in 1-128, got %d",
			rawHeader.SectorsPerCluster)
		return nil, gofat.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	fatVersion := DetermineFATVersion(totalClusters)
	if fatVersion == 32 && rootDirSectors != 0 {
		message := fmt.Sprintf(
			"corruption detected: RootDirectorySectors is nonzero for a FAT32 disk: %d",
			rootDirSectors)
		return nil, gofat.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	bytesPerCluster := uint(rawHeader.BytesPerSector) * uint(rawHeader.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		message := fmt.Sprintf(
			"corruption detected: BytesPerCluster cannot exceed 32,768 but got %d",
			bytesPerCluster)
		return nil, gofat.NewDriverErrorWithMessage(syscall.EINVAL, message)
	}

	processedHeader := FATBootSector{
		RawFATBootSectorWithBPB: rawHeader,
		SectorsPerFAT:           sectorsPerFAT,
		TotalFATSectors:         totalFATSectors,
		RootDirSectors:          rootDirSectors,
		BytesPerCluster:         bytesPerCluster,
		TotalClusters:           totalClusters,
		TotalDataSectors:        dataSectors,
		FirstDataSector:         SectorID(uint(rawHeader.ReservedSectors) + totalFATSectors + rootDirSectors),
		FATVersion:              fatVersion,
		DirentsPerCluster:       int(bytesPerCluster) / DirentSize,
		RootCluster:             ClusterID(rootCluster),
	}

	return &processedHeader, nil
}
