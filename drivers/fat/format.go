package fat

import (
	"encoding/binary"
	"io"
	"syscall"

	gofat "github.com/dargueta/gofat"
)

// chooseSectorsPerCluster picks a cluster size using the same volume-size tiers
// Microsoft's own FAT documentation (fatgen103) recommends, scaled to the sector
// size in use rather than assuming 512 bytes.
func chooseSectorsPerCluster(totalSectors uint, bytesPerSector uint16) uint8 {
	volumeBytes := uint64(totalSectors) * uint64(bytesPerSector)
	switch {
	case volumeBytes < 4*1024*1024: // under 4 MiB: FAT12 floppy territory
		return 1
	case volumeBytes < 16*1024*1024:
		return 4
	case volumeBytes < 128*1024*1024:
		return 8
	case volumeBytes < 512*1024*1024:
		return 16
	case volumeBytes < 8*1024*1024*1024:
		return 32
	default:
		return 64
	}
}

// computeFATSizeSectors derives the number of sectors a single FAT copy needs to
// cover a volume of totalSectors sectors, using the approximation formula from
// Microsoft's fatgen103 Appendix, which folds in the 12-vs-16-bit distinction well
// enough for initial formatting without an iterative refinement step.
func computeFATSizeSectors(totalSectors, reservedSectors, rootDirSectors uint, sectorsPerCluster uint8, numFATs uint8, version int) uint {
	tmpVal1 := totalSectors - reservedSectors - rootDirSectors
	tmpVal2 := uint(256)*uint(sectorsPerCluster) + uint(numFATs)
	if version == 32 {
		tmpVal2 = tmpVal2/2 + 2
	}
	return (tmpVal1 + tmpVal2 - 1) / tmpVal2
}

// FormatImage writes a fresh BPB, zeroed FAT copies (with the reserved media
// descriptor and end-of-chain markers stamped into entries 0 and 1), and an empty
// root directory to image, choosing FAT12, FAT16, or FAT32 from the requested
// geometry the same way real-world formatting tools do. image is assumed to already
// be sized to hold stat.TotalBlocks*stat.BlockSize bytes; FormatImage never resizes
// it.
//
// This is a package-level function, not a method, because formatting doesn't need
// (and can't have) an already-mounted Volume -- the image isn't a valid FAT volume
// until this function returns. (*Driver).FormatImage below just forwards to it to
// satisfy basedriver.DriverImplementation.
func FormatImage(image io.ReadWriteSeeker, stat gofat.FSStat) *gofat.DriverError {
	bytesPerSector := uint16(stat.BlockSize)
	switch bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		bytesPerSector = 512
	}

	totalSectors := uint(stat.TotalBlocks)
	if totalSectors == 0 {
		return gofat.NewDriverErrorWithMessage(syscall.EINVAL, "stat.TotalBlocks must be nonzero")
	}

	sectorsPerCluster := chooseSectorsPerCluster(totalSectors, bytesPerSector)
	numFATs := uint8(2)

	rootEntryCount := uint16(512)
	volumeBytes := uint64(totalSectors) * uint64(bytesPerSector)
	approxVersion := 16
	if volumeBytes < 4*1024*1024 {
		approxVersion = 12
		rootEntryCount = 224
	} else if volumeBytes >= 512*1024*1024 {
		approxVersion = 32
		rootEntryCount = 0
	}

	reservedSectors := uint16(1)
	if approxVersion == 32 {
		reservedSectors = 32
	}

	rootDirSectors := uint((uint32(rootEntryCount)*DirentSize + uint32(bytesPerSector) - 1) / uint32(bytesPerSector))
	fatSizeSectors := computeFATSizeSectors(totalSectors, uint(reservedSectors), rootDirSectors, sectorsPerCluster, numFATs, approxVersion)

	totalFATSectors := uint(numFATs) * fatSizeSectors
	dataSectors := totalSectors - uint(reservedSectors) - totalFATSectors - rootDirSectors
	totalClusters := dataSectors / uint(sectorsPerCluster)
	version := DetermineFATVersion(totalClusters)

	if err := writeBootSector(image, bootSectorParams{
		bytesPerSector:    bytesPerSector,
		sectorsPerCluster: sectorsPerCluster,
		reservedSectors:   reservedSectors,
		numFATs:           numFATs,
		rootEntryCount:    rootEntryCount,
		totalSectors:      totalSectors,
		fatSizeSectors:    fatSizeSectors,
		version:           version,
	}); err != nil {
		return err
	}

	if err := zeroFATs(image, reservedSectors, fatSizeSectors, numFATs, bytesPerSector, version); err != nil {
		return err
	}

	rootBytes := rootDirSectors * uint(bytesPerSector)
	if version == 32 {
		rootBytes = uint(sectorsPerCluster) * uint(bytesPerSector)
	}
	if err := zeroRegion(image, int64(uint(reservedSectors)+totalFATSectors)*int64(bytesPerSector), int64(rootBytes)); err != nil {
		return err
	}

	if version == 32 {
		fsInfo := &FSInfo{FreeClusterCount: uint32(totalClusters - 1), NextFreeCluster: 3, valid: true}
		if _, err := image.Seek(int64(bytesPerSector), io.SeekStart); err != nil {
			return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		if writer, ok := image.(io.Writer); ok {
			if _, err := writer.Write(fsInfo.Bytes()); err != nil {
				return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
			}
		}
	}

	return nil
}

type bootSectorParams struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	rootEntryCount    uint16
	totalSectors      uint
	fatSizeSectors    uint
	version           int
}

// writeBootSector serializes the shared BPB fields (and, for FAT32, the extended
// fields NewFATBootSectorFromStream expects immediately afterward) at the start of
// image, mirroring the field order and sizes RawFATBootSectorWithBPB parses.
func writeBootSector(image io.WriteSeeker, p bootSectorParams) *gofat.DriverError {
	if _, err := image.Seek(0, io.SeekStart); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	buf := make([]byte, 0, 90)
	buf = append(buf, 0xEB, 0x3C, 0x90) // JmpBoot: a short jump + NOP, same as every real FAT image
	buf = append(buf, []byte("GOFAT1.0")...)
	buf = binary.LittleEndian.AppendUint16(buf, p.bytesPerSector)
	buf = append(buf, p.sectorsPerCluster)
	buf = binary.LittleEndian.AppendUint16(buf, p.reservedSectors)
	buf = append(buf, p.numFATs)
	buf = binary.LittleEndian.AppendUint16(buf, p.rootEntryCount)

	var totalSectors16 uint16
	var totalSectors32 uint32
	if p.totalSectors <= 0xFFFF {
		totalSectors16 = uint16(p.totalSectors)
	} else {
		totalSectors32 = uint32(p.totalSectors)
	}
	buf = binary.LittleEndian.AppendUint16(buf, totalSectors16)
	buf = append(buf, 0xF8) // Media: fixed disk

	var sectorsPerFAT16 uint16
	if p.version != 32 {
		sectorsPerFAT16 = uint16(p.fatSizeSectors)
	}
	buf = binary.LittleEndian.AppendUint16(buf, sectorsPerFAT16)
	buf = binary.LittleEndian.AppendUint16(buf, 63) // SectorsPerTrack: conventional CHS filler
	buf = binary.LittleEndian.AppendUint16(buf, 255) // NumHeads: conventional CHS filler
	buf = binary.LittleEndian.AppendUint32(buf, 0)   // HiddenSectors
	buf = binary.LittleEndian.AppendUint32(buf, totalSectors32)

	if p.version == 32 {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(p.fatSizeSectors))
		buf = binary.LittleEndian.AppendUint16(buf, 0) // ExtFlags: mirror all FATs, no active-FAT override
		buf = binary.LittleEndian.AppendUint16(buf, 0) // FSVersion 0.0
		buf = binary.LittleEndian.AppendUint32(buf, 2) // RootCluster: always cluster 2 on a fresh format
		buf = binary.LittleEndian.AppendUint16(buf, 1) // FSInfoSector
		buf = binary.LittleEndian.AppendUint16(buf, 6) // BackupBootSector: conventional value
		buf = append(buf, make([]byte, 12)...)
	}

	if _, err := image.(io.Writer).Write(buf); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	// Boot sector signature at the very end of the 512-byte sector.
	if _, err := image.Seek(int64(p.bytesPerSector)-2, io.SeekStart); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	if _, err := image.(io.Writer).Write([]byte{0x55, 0xAA}); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	return nil
}

// zeroFATs writes numFATs identical copies of an otherwise-empty FAT, each with
// entries 0 and 1 stamped with the reserved media descriptor / end-of-chain values
// every FAT implementation expects to find there.
func zeroFATs(image io.WriteSeeker, reservedSectors uint16, fatSizeSectors uint, numFATs uint8, bytesPerSector uint16, version int) *gofat.DriverError {
	fatBytes := fatSizeSectors * uint(bytesPerSector)
	fat := make([]byte, fatBytes)

	switch version {
	case 12:
		fat[0] = 0xF8
		fat[1] = 0xFF
		fat[2] = 0xFF
	case 16:
		binary.LittleEndian.PutUint16(fat[0:2], 0xFFF8)
		binary.LittleEndian.PutUint16(fat[2:4], 0xFFFF)
	case 32:
		binary.LittleEndian.PutUint32(fat[0:4], 0x0FFFFFF8)
		binary.LittleEndian.PutUint32(fat[4:8], 0x0FFFFFFF)
		// Cluster 2 (the root directory's first and only cluster) is an immediate
		// end-of-chain marker since the root starts out empty.
		binary.LittleEndian.PutUint32(fat[8:12], 0x0FFFFFFF)
	}

	offset := int64(reservedSectors) * int64(bytesPerSector)
	for i := uint8(0); i < numFATs; i++ {
		if _, err := image.Seek(offset, io.SeekStart); err != nil {
			return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		if _, err := image.(io.Writer).Write(fat); err != nil {
			return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		offset += int64(fatBytes)
	}

	return nil
}

// zeroRegion writes length zero bytes starting at offset, used for the root
// directory region on a fresh format.
func zeroRegion(image io.WriteSeeker, offset, length int64) *gofat.DriverError {
	if _, err := image.Seek(offset, io.SeekStart); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	zeros := make([]byte, length)
	if _, err := image.(io.Writer).Write(zeros); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// FormatImage satisfies basedriver.DriverImplementation by forwarding to the
// package-level FormatImage function above.
func (d *Driver) FormatImage(image io.ReadWriteSeeker, stat gofat.FSStat) *gofat.DriverError {
	return FormatImage(image, stat)
}
