package fat

import (
	"fmt"
	"syscall"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// This file defines the driver interface and delegates to the underlying version-specific
// drivers.

type ClusterID uint32
type SectorID uint32

type FATDriverCommon interface {
	GetBootSector() *FATBootSector
	GetClusterAtIndex(index uint) (ClusterID, error)
	SetClusterAtIndex(index uint, cluster ClusterID) error
	GetNextClusterInChain(cluster ClusterID) (ClusterID, error)
	IsValidCluster(cluster ClusterID) bool
	IsEndOfChain(cluster ClusterID) bool
}

// FATDriver is the cluster-chain-walking layer common to every FAT width, sitting on
// top of a common.ClusterStream for the bounds-checked sector/cluster arithmetic and a
// FATDriverCommon for FAT table access.
type FATDriver struct {
	fs       FATDriverCommon
	clusters common.ClusterStream
}

// newFATDriver builds a FATDriver whose cluster numbering matches boot: cluster 2 is
// the first valid cluster, and it maps onto device starting at boot.FirstDataSector.
// device must address the volume in BytesPerSector-sized blocks.
func newFATDriver(fs FATDriverCommon, device *common.BlockStream, boot *FATBootSector) (*FATDriver, error) {
	lastValidCluster := common.ClusterID(2)
	if boot.TotalClusters > 0 {
		lastValidCluster = common.ClusterID(boot.TotalClusters + 1)
	}

	clusters, err := common.NewClusterStream(
		device,
		uint(boot.SectorsPerCluster),
		common.BlockID(boot.FirstDataSector),
		common.ClusterID(2),
		lastValidCluster,
	)
	if err != nil {
		return nil, err
	}

	return &FATDriver{fs: fs, clusters: clusters}, nil
}

func (drv *FATDriver) getFirstSectorOfCluster(cluster ClusterID) (SectorID, error) {
	block, err := drv.clusters.ClusterIDToBlock(common.ClusterID(cluster))
	if err != nil {
		return 0, gofat.NewDriverErrorWithMessage(syscall.EINVAL, err.Error())
	}
	return SectorID(block), nil
}

func (drv *FATDriver) readAbsoluteSectors(sector SectorID, numSectors uint) ([]byte, error) {
	data, err := drv.clusters.BlockStream.Read(common.BlockID(sector), numSectors)
	if err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return data, nil
}

func (drv *FATDriver) writeAbsoluteSectors(sector SectorID, data []byte) error {
	if err := drv.clusters.BlockStream.Write(common.BlockID(sector), data); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// writeCluster overwrites the full contents of the given cluster. data must be exactly
// one cluster's worth of bytes.
func (drv *FATDriver) writeCluster(cluster ClusterID, data []byte) error {
	if err := drv.clusters.Write(common.ClusterID(cluster), data); err != nil {
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// readCluster returns the bytes of the given cluster on the file system.
func (drv *FATDriver) readCluster(cluster ClusterID, index uint) ([]byte, error) {
	data, err := drv.clusters.Read(common.ClusterID(cluster), 1)
	if err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return data, nil
}

// readSectorsInCluster returns the bytes of `numSectors` sectors of the given cluster,
// beginning at `index`. `index` starts from 0. On error, the byte slice will be nil and
// the second return value is an error object detailing what went wrong.
func (drv *FATDriver) readSectorsInCluster(cluster ClusterID, index uint, numSectors uint) ([]byte, error) {
	firstSector, err := drv.getFirstSectorOfCluster(cluster)
	if err != nil {
		return nil, err
	}

	bootSector := drv.fs.GetBootSector()
	if (index + numSectors) > uint(bootSector.SectorsPerCluster) {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.ERANGE,
			fmt.Sprintf(
				"cannot read %d sectors from index %d: read would exceed cluster size",
				numSectors,
				index))
	}

	absoluteSector := uint(firstSector) + index
	return drv.readAbsoluteSectors(SectorID(absoluteSector), numSectors)
}

// listClusters returns a list of every cluster in the chain beginning at chainStart.
//
// The returned list always has chainStart as its first member. If chainStart is not a
// valid data cluster (including an end-of-chain marker such as 0xFFF on FAT12 systems),
// it returns an EINVAL error.
func (drv *FATDriver) listClusters(chainStart ClusterID) ([]ClusterID, error) {
	if !drv.fs.IsValidCluster(chainStart) {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.EINVAL,
			fmt.Sprintf("invalid cluster 0x%x cannot start a cluster chain", chainStart))
	}

	chain := []ClusterID{}
	currentCluster := chainStart
	i := 0

	for !drv.fs.IsEndOfChain(currentCluster) {
		chain = append(chain, currentCluster)

		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return nil, err
		}

		if !drv.fs.IsValidCluster(nextCluster) && !drv.fs.IsEndOfChain(nextCluster) {
			// Hit an invalid cluster. This is not the same as EOF, and usually indicates
			// corruption of some sort.
			return chain, gofat.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					chainStart))
		}

		currentCluster = nextCluster
		i++
	}

	return chain, nil
}

// getClusterInChain returns the ID of the `index`th cluster in the chain starting at
// `firstCluster`. Indexing begins at 0.
func (drv *FATDriver) getClusterInChain(firstCluster ClusterID, index uint) (ClusterID, error) {
	currentCluster := firstCluster

	for i := uint(0); i < index; i++ {
		nextCluster, err := drv.fs.GetClusterAtIndex(uint(currentCluster))
		if err != nil {
			return 0, err
		}

		if drv.fs.IsEndOfChain(nextCluster) {
			return 0, gofat.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster index %d out of bounds -- chain from 0x%x has %d clusters",
					index,
					firstCluster,
					i+1))
		} else if !drv.fs.IsValidCluster(nextCluster) {
			return 0, gofat.NewDriverErrorWithMessage(
				syscall.EINVAL,
				fmt.Sprintf(
					"cluster %d followed by invalid cluster 0x%x at index %d in chain from %d",
					currentCluster,
					nextCluster,
					i,
					firstCluster))
		}
		currentCluster = nextCluster
	}

	return currentCluster, nil
}

func (drv *FATDriver) readClusterOfDirent(dirent *Dirent, index uint) ([]byte, error) {
	cluster, err := drv.getClusterInChain(dirent.FirstCluster, index)
	if err != nil {
		return nil, err
	}
	return drv.readCluster(cluster, 1)
}

func (drv *FATDriver) writeClusterOfDirent(dirent *Dirent, index uint, data []byte) error {
	cluster, err := drv.getClusterInChain(dirent.FirstCluster, index)
	if err != nil {
		return err
	}
	return drv.writeCluster(cluster, data)
}

////////////////////////////////////////////////////////////////////////////////////////
// Parts of the Driver interface that can be implemented with little knowledge of the
// underlying file system.

// ReadDirFromDirent returns a list of the directory entries found in directoryDirent,
// including the `.` and `..` entries.
func (drv *FATDriver) ReadDirFromDirent(directoryDirent *Dirent) ([]Dirent, error) {
	if !directoryDirent.IsDir() {
		return nil, gofat.NewDriverError(syscall.ENOTDIR)
	}

	bootSector := drv.fs.GetBootSector()
	allDirents := []Dirent{}

	chain, err := drv.listClusters(directoryDirent.FirstCluster)
	if err != nil {
		return nil, err
	}

	for i, cluster := range chain {
		clusterData, err := drv.readCluster(cluster, 1)
		if err != nil {
			return nil, err
		}

		clusterDirents, err := drv.clusterToDirentSlice(clusterData)
		if err != nil {
			return nil, err
		}
		for j := range clusterDirents {
			clusterDirents[j].slotOffset += int64(i) * int64(bootSector.BytesPerCluster)
		}

		allDirents = append(allDirents, clusterDirents...)
	}

	return allDirents, nil
}
