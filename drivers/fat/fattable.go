package fat

import (
	"syscall"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// Reserved cluster values shared across all three FAT widths (the exact bit pattern
// differs, but the semantics -- free, reserved, bad, end-of-chain -- don't).
const (
	clusterFree    ClusterID = 0
	clusterReserved ClusterID = 1
	clusterBadMin  ClusterID = 0xFFFFFFF7 // masked per width before comparing
)

// FatTable is a width-polymorphic (FAT12/16/32) in-memory view of a single FAT, backed
// by a gofat/drivers/common.BlockStream for the underlying device. Every mutation is
// fanned out to all NumFATs on-disk copies immediately, matching how real FAT
// implementations keep redundant copies in sync rather than deferring the mirror write.
type FatTable struct {
	version      int
	data         []byte
	device       *common.BlockStream
	firstFATByte common.BlockID
	fatSizeBytes uint
	numFATs      int
	totalClusters uint

	// dirty tracks whether the on-disk volume-dirty bit has already been set since
	// mount or the last flush, so a run of mutations only pays for one entry-1 write.
	dirty bool

	// allocator tracks which of clusters [2, totalClusters+2) are in use, one bit per
	// cluster, so AllocateChain/FreeChain don't have to rescan the whole FAT for every
	// call. It's seeded from the FAT's own free markers on load and updated by
	// AllocateChain/FreeChain as they hand out and reclaim clusters; direct
	// SetClusterAtIndex calls that just relink an already-allocated cluster (as
	// dirmanage.go does) don't touch it, since they don't change a cluster's free/used
	// state.
	allocator common.Allocator
}

// NewFatTable loads the (first copy of the) FAT into memory from device and returns a
// table ready to serve GetClusterAtIndex/SetClusterAtIndex calls.
func NewFatTable(device *common.BlockStream, boot *FATBootSector) (*FatTable, error) {
	firstFATByte := common.BlockID(uint(boot.ReservedSectors))
	fatSizeBytes := boot.SectorsPerFAT * uint(boot.BytesPerSector)

	blocksPerFAT := fatSizeBytes / device.BytesPerBlock
	if fatSizeBytes%device.BytesPerBlock != 0 {
		blocksPerFAT++
	}

	data, err := device.Read(firstFATByte, blocksPerFAT)
	if err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	table := &FatTable{
		version:       boot.FATVersion,
		data:          data,
		device:        device,
		firstFATByte:  firstFATByte,
		fatSizeBytes:  fatSizeBytes,
		numFATs:       int(boot.NumFATs),
		totalClusters: boot.TotalClusters,
		allocator:     common.NewAllocator(boot.TotalClusters),
	}

	for cluster := uint(2); cluster < boot.TotalClusters+2; cluster++ {
		value, err := table.GetClusterAtIndex(cluster)
		if err != nil {
			return nil, err
		}
		if value != clusterFree {
			table.allocator.AllocationBitmap.Set(int(cluster-2), true)
		}
	}

	return table, nil
}

// GetBootSector satisfies part of FATDriverCommon and always returns nil. Volume holds a
// FatTable as a field and supplies the real boot sector itself; this only exists so
// FatTable alone satisfies FATDriverCommon and can be exercised in isolation by tests.
func (t *FatTable) GetBootSector() *FATBootSector { return nil }

// entryOffset12 returns the byte offset of the (possibly straddling) 12-bit entry for
// `index`, and whether it occupies the high or low nibble of the first byte.
func entryOffset12(index uint) (byteOffset uint, highNibbleFirst bool) {
	byteOffset = index + (index / 2)
	highNibbleFirst = index%2 != 0
	return byteOffset, highNibbleFirst
}

// GetClusterAtIndex returns the value stored in the FAT entry at `index`, i.e. the
// cluster (or EOC/bad/free marker) that logically follows cluster `index` in whatever
// chain it belongs to.
func (t *FatTable) GetClusterAtIndex(index uint) (ClusterID, error) {
	switch t.version {
	case 12:
		byteOffset, highFirst := entryOffset12(index)
		if int(byteOffset)+1 >= len(t.data) {
			return 0, gofat.NewDriverError(syscall.ERANGE)
		}
		raw := uint16(t.data[byteOffset]) | uint16(t.data[byteOffset+1])<<8
		if highFirst {
			return ClusterID(raw >> 4), nil
		}
		return ClusterID(raw & 0x0FFF), nil

	case 16:
		offset := index * 2
		if int(offset)+1 >= len(t.data) {
			return 0, gofat.NewDriverError(syscall.ERANGE)
		}
		return ClusterID(uint16(t.data[offset]) | uint16(t.data[offset+1])<<8), nil

	case 32:
		offset := index * 4
		if int(offset)+3 >= len(t.data) {
			return 0, gofat.NewDriverError(syscall.ERANGE)
		}
		raw := uint32(t.data[offset]) | uint32(t.data[offset+1])<<8 |
			uint32(t.data[offset+2])<<16 | uint32(t.data[offset+3])<<24
		// Top 4 bits of a FAT32 entry are reserved and must be preserved across writes,
		// but are masked off for chain-walking purposes.
		return ClusterID(raw & 0x0FFFFFFF), nil

	default:
		return 0, gofat.NewDriverErrorWithMessage(syscall.EINVAL, "unsupported FAT width")
	}
}

// SetClusterAtIndex stores `value` into the FAT entry at `index`, both in the in-memory
// table and fanned out to every on-disk FAT copy. Entries 0 and 1 are reserved (media
// descriptor and the dirty/error flags respectively); a volume that's being asked to
// rewrite them as part of ordinary chain maintenance is corrupt.
func (t *FatTable) SetClusterAtIndex(index uint, value ClusterID) error {
	if index < 2 {
		return gofat.ErrVolumeCorrupted
	}
	if err := t.markDirty(); err != nil {
		return err
	}
	return t.writeEntryRaw(index, value)
}

// writeEntryRaw stores `value` into the FAT entry at `index` without the reserved-index
// guard SetClusterAtIndex enforces. Used internally for entry 1's dirty-flag bits, which
// live in the same reserved entry SetClusterAtIndex refuses to touch.
func (t *FatTable) writeEntryRaw(index uint, value ClusterID) error {
	switch t.version {
	case 12:
		byteOffset, highFirst := entryOffset12(index)
		if int(byteOffset)+1 >= len(t.data) {
			return gofat.NewDriverError(syscall.ERANGE)
		}
		existing := uint16(t.data[byteOffset]) | uint16(t.data[byteOffset+1])<<8
		v := uint16(value) & 0x0FFF
		var updated uint16
		if highFirst {
			updated = (existing & 0x000F) | (v << 4)
		} else {
			updated = (existing & 0xF000) | v
		}
		t.data[byteOffset] = byte(updated)
		t.data[byteOffset+1] = byte(updated >> 8)
		return t.flushRange(byteOffset, 2)

	case 16:
		offset := index * 2
		if int(offset)+1 >= len(t.data) {
			return gofat.NewDriverError(syscall.ERANGE)
		}
		t.data[offset] = byte(value)
		t.data[offset+1] = byte(value >> 8)
		return t.flushRange(offset, 2)

	case 32:
		offset := index * 4
		if int(offset)+3 >= len(t.data) {
			return gofat.NewDriverError(syscall.ERANGE)
		}
		existing := uint32(t.data[offset+3]) << 24
		v := (uint32(value) & 0x0FFFFFFF) | (existing & 0xF0000000)
		t.data[offset] = byte(v)
		t.data[offset+1] = byte(v >> 8)
		t.data[offset+2] = byte(v >> 16)
		t.data[offset+3] = byte(v >> 24)
		return t.flushRange(offset, 4)

	default:
		return gofat.NewDriverErrorWithMessage(syscall.EINVAL, "unsupported FAT width")
	}
}

// flushRange writes the dirty in-memory range [offset, offset+length) to every on-disk
// FAT copy. Real drivers batch this; this one fans out immediately to keep the
// implementation (and the invariant "every FAT copy agrees") simple to reason about.
func (t *FatTable) flushRange(offset uint, length uint) error {
	blockSize := t.device.BytesPerBlock
	startBlock := offset / blockSize
	endBlock := (offset + length + blockSize - 1) / blockSize
	chunk := t.data[startBlock*blockSize : endBlock*blockSize]

	for fatIndex := 0; fatIndex < t.numFATs; fatIndex++ {
		fatStart := t.firstFATByte + common.BlockID(uint(fatIndex)*t.fatSizeBytes/blockSize)
		if err := t.device.Write(fatStart+common.BlockID(startBlock), chunk); err != nil {
			return err
		}
	}
	return nil
}

// cleanShutdownBit returns the bit in FAT entry 1 that records a clean shutdown on
// FAT16/32; FAT12 has no such bit.
func (t *FatTable) cleanShutdownBit() ClusterID {
	if t.version == 32 {
		return ClusterID(1) << 27
	}
	return ClusterID(1) << 15
}

// IsDirty reports whether the volume's dirty bit, as stored on disk in FAT entry 1, is
// currently set. FAT12 has no such bit and is always reported clean.
func (t *FatTable) IsDirty() (bool, error) {
	if t.version == 12 {
		return false, nil
	}
	entry, err := t.GetClusterAtIndex(1)
	if err != nil {
		return false, err
	}
	return entry&t.cleanShutdownBit() == 0, nil
}

// markDirty clears entry 1's clean-shutdown bit on disk the first time a cluster chain
// mutation happens since mount or the last flush, ahead of the mutation that triggered
// it -- so a crash between this write and the mutation still leaves the volume correctly
// marked dirty. Subsequent mutations in the same dirty period are a no-op.
func (t *FatTable) markDirty() error {
	if t.version == 12 || t.dirty {
		return nil
	}
	entry, err := t.GetClusterAtIndex(1)
	if err != nil {
		return err
	}
	if err := t.writeEntryRaw(1, entry&^t.cleanShutdownBit()); err != nil {
		return err
	}
	t.dirty = true
	return nil
}

// ClearDirty sets entry 1's clean-shutdown bit on disk, marking the volume as having
// been flushed/unmounted cleanly.
func (t *FatTable) ClearDirty() error {
	if t.version == 12 {
		return nil
	}
	entry, err := t.GetClusterAtIndex(1)
	if err != nil {
		return err
	}
	if err := t.writeEntryRaw(1, entry|t.cleanShutdownBit()); err != nil {
		return err
	}
	t.dirty = false
	return nil
}

// endOfChainThreshold returns the smallest value considered "end of chain" for this
// FAT's width; entries numerically at or above it (after masking) terminate a chain.
func (t *FatTable) endOfChainThreshold() ClusterID {
	switch t.version {
	case 12:
		return 0xFF8
	case 16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

func (t *FatTable) IsEndOfChain(cluster ClusterID) bool {
	return cluster >= t.endOfChainThreshold()
}

func (t *FatTable) IsValidCluster(cluster ClusterID) bool {
	if cluster < 2 {
		return false
	}
	return uint(cluster) < t.totalClusters+2
}

// GetNextClusterInChain is a convenience wrapper so FatTable alone satisfies
// FATDriverCommon for unit tests that don't need a whole Volume.
func (t *FatTable) GetNextClusterInChain(cluster ClusterID) (ClusterID, error) {
	return t.GetClusterAtIndex(uint(cluster))
}

// AllocateChain draws `count` free clusters from the allocation bitmap, links them into
// a chain terminated by an end-of-chain marker, and returns the chain in allocation
// order. Returns gofat.ErrNoSpaceLeft if fewer than `count` free clusters exist.
func (t *FatTable) AllocateChain(count uint) ([]ClusterID, error) {
	if count == 0 {
		return nil, nil
	}

	found := make([]ClusterID, 0, count)
	for uint(len(found)) < count {
		block, err := t.allocator.AllocateBlock()
		if err != nil {
			for _, cluster := range found {
				_ = t.allocator.FreeBlock(common.BlockID(cluster - 2))
			}
			return nil, gofat.ErrNoSpaceLeft
		}
		found = append(found, ClusterID(block)+2)
	}

	for i, cluster := range found {
		var next ClusterID
		if i == len(found)-1 {
			next = t.endOfChainThreshold()
		} else {
			next = found[i+1]
		}
		if err := t.SetClusterAtIndex(uint(cluster), next); err != nil {
			return nil, err
		}
	}

	return found, nil
}

// ExtendChain allocates `count` additional clusters and appends them to the chain
// currently ending at `lastCluster`, returning the newly allocated clusters.
func (t *FatTable) ExtendChain(lastCluster ClusterID, count uint) ([]ClusterID, error) {
	newClusters, err := t.AllocateChain(count)
	if err != nil {
		return nil, err
	}
	if err := t.SetClusterAtIndex(uint(lastCluster), newClusters[0]); err != nil {
		return nil, err
	}
	return newClusters, nil
}

// FreeChain walks the chain starting at `start` and marks every cluster in it free.
func (t *FatTable) FreeChain(start ClusterID) error {
	current := start
	for !t.IsEndOfChain(current) {
		if !t.IsValidCluster(current) {
			return gofat.NewDriverErrorWithMessage(syscall.EINVAL, "invalid cluster in chain during free")
		}
		next, err := t.GetClusterAtIndex(uint(current))
		if err != nil {
			return err
		}
		if err := t.SetClusterAtIndex(uint(current), clusterFree); err != nil {
			return err
		}
		if err := t.allocator.FreeBlock(common.BlockID(current - 2)); err != nil {
			return err
		}
		current = next
	}
	return nil
}

// TruncateChainAfter frees every cluster in the chain after (not including) `keep`,
// and marks `keep` as the new end of chain. Used when a file shrinks.
func (t *FatTable) TruncateChainAfter(keep ClusterID) error {
	next, err := t.GetClusterAtIndex(uint(keep))
	if err != nil {
		return err
	}
	if err := t.SetClusterAtIndex(uint(keep), t.endOfChainThreshold()); err != nil {
		return err
	}
	if t.IsEndOfChain(next) {
		return nil
	}
	return t.FreeChain(next)
}

// ComputeFreeClusterCount counts the unset bits in the allocation bitmap. Used to
// rebuild the FAT32 FSInfo sector when it's been marked unreliable (or on FAT12/16,
// which have no FSInfo sector at all and must always compute this on demand).
func (t *FatTable) ComputeFreeClusterCount() (uint32, error) {
	var free uint32
	for i := uint(0); i < t.allocator.TotalUnits; i++ {
		if !t.allocator.AllocationBitmap.Get(int(i)) {
			free++
		}
	}
	return free, nil
}
