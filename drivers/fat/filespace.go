package fat

import (
	"syscall"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// fileSpace is a cluster-chain-backed view of one file's (or directory's) data,
// addressed by byte offset rather than cluster index. It's the layer FileSpace-style
// position/grow/shrink operations sit on, translating between a Dirent's FirstCluster
// chain and the volume's bounded data-region cache.
type fileSpace struct {
	volume *Volume
	dirent *Dirent
}

func newFileSpace(volume *Volume, dirent *Dirent) *fileSpace {
	return &fileSpace{volume: volume, dirent: dirent}
}

// clusterToDataBlock converts a cluster ID into the LogicalBlock addressing used by
// volume.dataCache, whose block 0 corresponds to the volume's FirstDataSector (i.e.
// cluster 2).
func (fs *fileSpace) clusterToDataBlock(cluster ClusterID) common.LogicalBlock {
	blocksPerCluster := common.LogicalBlock(fs.volume.boot.SectorsPerCluster)
	return common.LogicalBlock(uint32(cluster)-2) * blocksPerCluster
}

// ReadAt fills buffer with up to len(buffer) bytes starting at byte offset `offset`
// into the file, returning the number of bytes actually read and io.EOF-shaped
// behavior left to the caller (openfile.go), since fileSpace only knows about bytes
// on disk, not the file's declared size.
func (fs *fileSpace) ReadAt(buffer []byte, offset int64) (int, error) {
	bytesPerCluster := int64(fs.volume.boot.BytesPerCluster)
	clusterIndex := uint(offset / bytesPerCluster)
	clusterOffset := offset % bytesPerCluster

	if clusterOffset == 0 && int64(len(buffer))%bytesPerCluster == 0 {
		if n, ok, err := fs.bulkReadAligned(buffer, clusterIndex); ok {
			return n, err
		}
	}

	totalRead := 0
	for totalRead < len(buffer) {
		cluster, err := fs.volume.fatDriver.getClusterInChain(fs.dirent.FirstCluster, clusterIndex)
		if err != nil {
			break
		}

		block := fs.clusterToDataBlock(cluster)
		clusterBuf := make([]byte, bytesPerCluster)
		if err := fs.volume.dataCache.Read(block, clusterBuf); err != nil {
			return totalRead, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}

		n := copy(buffer[totalRead:], clusterBuf[clusterOffset:])
		totalRead += n
		clusterIndex++
		clusterOffset = 0
	}

	return totalRead, nil
}

// bulkReadAligned serves a cluster-aligned, whole-cluster read by checking whether the
// clusters it needs are physically contiguous on disk, and if so routing the whole run
// through dataCache.BulkRead instead of one dataCache.Read per cluster. The bool return
// reports whether it actually handled the read; false means the chain is fragmented (or
// too short) and the caller should fall back to the per-cluster loop.
func (fs *fileSpace) bulkReadAligned(buffer []byte, clusterIndex uint) (int, bool, error) {
	bytesPerCluster := int64(fs.volume.boot.BytesPerCluster)
	neededClusters := uint(int64(len(buffer)) / bytesPerCluster)
	if neededClusters == 0 {
		return 0, false, nil
	}

	first, err := fs.volume.fatDriver.getClusterInChain(fs.dirent.FirstCluster, clusterIndex)
	if err != nil {
		return 0, false, nil
	}

	for run := uint(1); run < neededClusters; run++ {
		next, err := fs.volume.fatDriver.getClusterInChain(fs.dirent.FirstCluster, clusterIndex+run)
		if err != nil || next != first+ClusterID(run) {
			return 0, false, nil
		}
	}

	block := fs.clusterToDataBlock(first)
	if err := fs.volume.dataCache.BulkRead(block, buffer, fs.volume.dataFetch); err != nil {
		return 0, true, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return len(buffer), true, nil
}

// WriteAt writes buffer at byte offset `offset` into the file's cluster chain, growing
// the chain as needed to cover the write. It does not update the directory entry's
// recorded size; the caller (openfile.go) does that once the write succeeds.
func (fs *fileSpace) WriteAt(buffer []byte, offset int64) (int, error) {
	bytesPerCluster := int64(fs.volume.boot.BytesPerCluster)
	endOffset := offset + int64(len(buffer))

	if err := fs.growToFit(endOffset); err != nil {
		return 0, err
	}

	clusterIndex := uint(offset / bytesPerCluster)
	clusterOffset := offset % bytesPerCluster

	totalWritten := 0
	for totalWritten < len(buffer) {
		cluster, err := fs.volume.fatDriver.getClusterInChain(fs.dirent.FirstCluster, clusterIndex)
		if err != nil {
			return totalWritten, err
		}

		block := fs.clusterToDataBlock(cluster)
		chunk := int64(bytesPerCluster) - clusterOffset
		remaining := int64(len(buffer) - totalWritten)
		if chunk > remaining {
			chunk = remaining
		}

		// dataCache.Write addresses whole blocks starting at `block`'s first byte, so
		// a write that doesn't start at a cluster boundary needs a read-modify-write
		// over the full cluster to avoid clobbering the bytes before clusterOffset.
		clusterBuf := make([]byte, bytesPerCluster)
		if err := fs.volume.dataCache.Read(block, clusterBuf); err != nil {
			return totalWritten, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}
		copy(clusterBuf[clusterOffset:], buffer[totalWritten:totalWritten+int(chunk)])
		if err := fs.volume.dataCache.Write(block, clusterBuf); err != nil {
			return totalWritten, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
		}

		totalWritten += int(chunk)
		clusterIndex++
		clusterOffset = 0
	}

	return totalWritten, nil
}

// growToFit extends the file's cluster chain (allocating a first cluster if the file
// was empty) until it covers byte offset `endOffset`.
func (fs *fileSpace) growToFit(endOffset int64) error {
	bytesPerCluster := int64(fs.volume.boot.BytesPerCluster)
	neededClusters := uint((endOffset + bytesPerCluster - 1) / bytesPerCluster)
	if neededClusters == 0 {
		neededClusters = 1
	}

	if fs.dirent.FirstCluster == 0 {
		chain, err := fs.volume.fat.AllocateChain(neededClusters)
		if err != nil {
			return err
		}
		fs.dirent.FirstCluster = chain[0]
		return nil
	}

	chain, err := fs.volume.fatDriver.listClusters(fs.dirent.FirstCluster)
	if err != nil {
		return err
	}
	if uint(len(chain)) >= neededClusters {
		return nil
	}

	_, err = fs.volume.fat.ExtendChain(chain[len(chain)-1], neededClusters-uint(len(chain)))
	return err
}

// Truncate resizes the file's cluster chain to hold exactly `newSize` bytes, freeing
// trailing clusters if it shrinks and zero-filling new ones if it grows.
func (fs *fileSpace) Truncate(newSize int64) error {
	bytesPerCluster := int64(fs.volume.boot.BytesPerCluster)
	neededClusters := uint((newSize + bytesPerCluster - 1) / bytesPerCluster)

	if newSize == 0 {
		if fs.dirent.FirstCluster != 0 {
			if err := fs.volume.fat.FreeChain(fs.dirent.FirstCluster); err != nil {
				return err
			}
			fs.dirent.FirstCluster = 0
		}
		return nil
	}

	if err := fs.growToFit(newSize); err != nil {
		return err
	}

	chain, err := fs.volume.fatDriver.listClusters(fs.dirent.FirstCluster)
	if err != nil {
		return err
	}
	if uint(len(chain)) > neededClusters {
		return fs.volume.fat.TruncateChainAfter(chain[neededClusters-1])
	}
	return nil
}
