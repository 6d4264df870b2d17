package fat

import (
	"io"
	"syscall"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
	"github.com/dargueta/gofat/drivers/common/diskcache"
)

// dataCachePageBlocks is not used by MountVolume: the data cache's pages are one
// cluster (SectorsPerCluster device blocks) each, since every read/write the driver
// issues against the data region is already cluster-granular.
const dataCachePageBlocks = 1

// dataCacheSets/dataCacheWays bound the data region cache to a modest, fixed working
// set (64 clusters total) regardless of volume size, matching the spec's requirement
// that caching be bounded rather than grow with the image.
const (
	dataCacheSets = 16
	dataCacheWays = 4
)

// Volume ties together the boot sector, the FAT table, and the cached view of the data
// region into one mountable file system. It's the thing basedriver.DriverImplementation
// is implemented against (see fileapi.go).
type Volume struct {
	device     *common.BlockStream
	boot       *FATBootSector
	fat        *FatTable
	fatDriver  *FATDriver
	dataCache  *diskcache.Cache
	dataFetch  diskcache.FetchPageFunc
	fsInfo     *FSInfo
	readOnly   bool
	rootEntry  Dirent
	dirCache   *directoryCache
}

// MountVolume reads the boot sector (and, for FAT32, the FSInfo sector) from stream and
// returns a Volume ready to serve file operations. stream must already be positioned at
// the start of the volume; MountVolume rewinds it to read the boot sector.
func MountVolume(stream io.ReadWriteSeeker, readOnly bool) (*Volume, error) {
	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	boot, err := NewFATBootSectorFromStream(stream)
	if err != nil {
		return nil, err
	}

	totalBlocks := uint(boot.totalSectors16)
	if totalBlocks == 0 {
		totalBlocks = uint(boot.totalSectors32)
	}
	blockStream := common.NewBlockStream(stream, totalBlocks, uint(boot.BytesPerSector), 0)

	fatTable, err := NewFatTable(&blockStream, boot)
	if err != nil {
		return nil, err
	}

	var fsInfo *FSInfo
	if boot.FATVersion == 32 {
		if _, err := stream.Seek(int64(boot.BytesPerSector), io.SeekStart); err != nil {
			return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		fsInfo, err = NewFSInfoFromStream(stream)
		if err != nil {
			return nil, err
		}
		if !fsInfo.valid {
			free, err := fatTable.ComputeFreeClusterCount()
			if err != nil {
				return nil, err
			}
			fsInfo.FreeClusterCount = free
			fsInfo.NextFreeCluster = 2
		}
	}

	volume := &Volume{
		device:   &blockStream,
		boot:     boot,
		fat:      fatTable,
		readOnly: readOnly,
		fsInfo:   fsInfo,
	}
	fatDriver, err := newFATDriver(volume, &blockStream, boot)
	if err != nil {
		return nil, err
	}
	volume.fatDriver = fatDriver

	dataStartBlock := uint(boot.FirstDataSector)
	dataBlocks := totalBlocks - dataStartBlock
	blocksPerCluster := uint(boot.SectorsPerCluster)

	volume.dataFetch = func(startBlock common.LogicalBlock, buffer []byte) error {
		data, err := blockStream.Read(common.BlockID(dataStartBlock)+common.BlockID(startBlock), uint(len(buffer))/uint(boot.BytesPerSector))
		if err != nil {
			return err
		}
		copy(buffer, data)
		return nil
	}

	volume.dataCache = diskcache.New(
		uint(boot.BytesPerSector), blocksPerCluster, dataBlocks, dataCacheSets, dataCacheWays,
		volume.dataFetch,
		func(startBlock common.LogicalBlock, buffer []byte) error {
			return blockStream.Write(common.BlockID(dataStartBlock)+common.BlockID(startBlock), buffer)
		},
	)

	volume.dirCache = newDirectoryCache(8)

	volume.rootEntry = Dirent{
		name:           "/",
		AttributeFlags: AttrDirectory,
		mode:           AttrFlagsToFileMode(AttrDirectory),
	}
	if boot.FATVersion == 32 {
		volume.rootEntry.FirstCluster = boot.RootCluster
	} else {
		// FAT12/16 root directories live in a fixed region preceding the data area,
		// not in a cluster chain; FirstCluster 0 is used as a sentinel the rest of the
		// driver recognizes and special-cases when walking the root directory.
		volume.rootEntry.FirstCluster = 0
	}

	return volume, nil
}

func (v *Volume) GetBootSector() *FATBootSector { return v.boot }

func (v *Volume) GetClusterAtIndex(index uint) (ClusterID, error) {
	return v.fat.GetClusterAtIndex(index)
}

func (v *Volume) SetClusterAtIndex(index uint, cluster ClusterID) error {
	return v.fat.SetClusterAtIndex(index, cluster)
}

func (v *Volume) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return v.fat.GetNextClusterInChain(cluster)
}

func (v *Volume) IsValidCluster(cluster ClusterID) bool {
	return v.fat.IsValidCluster(cluster)
}

func (v *Volume) IsEndOfChain(cluster ClusterID) bool {
	return v.fat.IsEndOfChain(cluster)
}

// RootDirent returns the synthetic directory entry representing the volume's root
// directory.
func (v *Volume) RootDirent() *Dirent {
	return &v.rootEntry
}

// IsDirty reports the volume's "not cleanly unmounted" flag, stored in the high bits of
// FAT entry 1 on FAT16/32 (FAT12 has no such flag and is always reported clean).
func (v *Volume) IsDirty() (bool, error) {
	return v.fat.IsDirty()
}

// SetDirty sets or clears the volume's dirty flag, routing through FatTable's
// guard-bypassing entry-1 accessors since FatTable.SetClusterAtIndex itself refuses to
// touch reserved entries. The caller is expected to set it on mount and clear it on a
// clean unmount; ordinary cluster chain mutations set it automatically.
func (v *Volume) SetDirty(dirty bool) error {
	if v.readOnly {
		return nil
	}
	if dirty {
		return v.fat.markDirty()
	}
	return v.fat.ClearDirty()
}

// Flush writes back every dirty data-region page, then clears the dirty flag. FAT
// entries need no flushing here: every FAT update is written to every FAT copy as it
// is made. Callers should call this before Unmount.
func (v *Volume) Flush() error {
	if err := v.dataCache.FlushAll(); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return v.SetDirty(false)
}

// Unmount flushes the volume and marks it read-only for any further access through this
// handle.
func (v *Volume) Unmount() error {
	if err := v.Flush(); err != nil {
		return err
	}
	v.readOnly = true
	return nil
}

// FSStat reports aggregate statistics about the volume, computing the free cluster
// count from the FSInfo hint (FAT32) or a full FAT scan (FAT12/16, which have no
// FSInfo sector).
func (v *Volume) FSStat() (gofat.FSStat, error) {
	var freeClusters uint32
	if v.fsInfo != nil && v.fsInfo.FreeClusterCount != fsInfoUnknownCount {
		freeClusters = v.fsInfo.FreeClusterCount
	} else {
		free, err := v.fat.ComputeFreeClusterCount()
		if err != nil {
			return gofat.FSStat{}, err
		}
		freeClusters = free
	}

	return gofat.FSStat{
		BlockSize:       int64(v.boot.BytesPerCluster),
		TotalBlocks:     uint64(v.boot.TotalClusters),
		BlocksFree:      uint64(freeClusters),
		BlocksAvailable: uint64(freeClusters),
		MaxNameLength:   255,
	}, nil
}
