package fat

import (
	"os"
	"syscall"
	"time"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// OFile is the ObjectHandle implementation basedriver.CommonDriver wraps for every
// file, directory, or volume label it opens on a FAT file system. It ties together a
// Dirent (the in-memory directory entry), the parent directory it lives in (needed to
// persist metadata changes back to disk), and a fileSpace giving byte-addressed access
// to its cluster chain.
type OFile struct {
	volume *Volume
	dm     *directoryManager
	parent *Dirent
	dirent *Dirent
	space  *fileSpace
}

// newOFile wraps dirent, a child of parent, as an ObjectHandle. parent is nil only for
// the volume's root directory, which has no parent entry of its own to update.
func newOFile(volume *Volume, dm *directoryManager, parent *Dirent, dirent *Dirent) *OFile {
	return &OFile{
		volume: volume,
		dm:     dm,
		parent: parent,
		dirent: dirent,
		space:  newFileSpace(volume, dirent),
	}
}

// Stat returns information on the status of the file as it appears on disk.
func (f *OFile) Stat() gofat.FileStat {
	boot := f.volume.boot
	size := f.dirent.Size()
	numBlocks := (size + int64(boot.BytesPerCluster) - 1) / int64(boot.BytesPerCluster)
	if numBlocks < 0 {
		numBlocks = 0
	}

	return gofat.FileStat{
		Nlinks:       1,
		ModeFlags:    f.dirent.Mode(),
		Size:         size,
		BlockSize:    int64(boot.BytesPerCluster),
		NumBlocks:    numBlocks,
		CreatedAt:    f.dirent.Created,
		LastAccessed: f.dirent.LastAccessed,
		LastModified: f.dirent.LastModified,
		LastChanged:  f.dirent.LastModified,
		DeletedAt:    f.dirent.Deleted,
	}
}

// Resize changes the size of the object, growing or shrinking its cluster chain as
// needed, and persists the new size (and, since growing may allocate a first cluster
// for a previously-empty file, the new first cluster) to its directory entry.
func (f *OFile) Resize(newSize uint64) *gofat.DriverError {
	if f.volume.readOnly {
		return gofat.ErrReadOnlyFileSystem
	}

	if err := f.space.Truncate(int64(newSize)); err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	return f.persistMetadata(uint32(newSize))
}

// persistMetadata writes the entry's current attributes, first cluster, and size (or
// size, if given explicitly by the caller) back to its slot in the parent directory.
// The root directory has no parent entry and is never persisted this way.
func (f *OFile) persistMetadata(size uint32) *gofat.DriverError {
	if f.parent == nil {
		return nil
	}
	err := f.dm.updateEntry(f.parent, f.dirent, uint8(f.dirent.AttributeFlags), f.dirent.FirstCluster, size)
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// blockToByteOffset converts a LogicalBlock index into a byte offset. The block size
// ReadBlocks/WriteBlocks address in is the cluster size reported by Stat().BlockSize,
// not the sector size -- basedriver.File derives its block indices from that same
// value, and the two must agree.
func (f *OFile) blockToByteOffset(index common.LogicalBlock) int64 {
	return int64(index) * int64(f.volume.boot.BytesPerCluster)
}

// ReadBlocks fills buffer with data from a sequence of logical blocks beginning at
// index.
func (f *OFile) ReadBlocks(index common.LogicalBlock, buffer []byte) *gofat.DriverError {
	_, err := f.space.ReadAt(buffer, f.blockToByteOffset(index))
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// WriteBlocks writes bytes from buffer into a sequence of logical blocks beginning at
// index, growing the object's cluster chain if the write extends past its current end,
// and persisting the resulting size.
func (f *OFile) WriteBlocks(index common.LogicalBlock, data []byte) *gofat.DriverError {
	if f.volume.readOnly {
		return gofat.ErrReadOnlyFileSystem
	}

	offset := f.blockToByteOffset(index)
	n, err := f.space.WriteAt(data, offset)
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	newEnd := offset + int64(n)
	if newEnd > f.dirent.Size() {
		f.dirent.size = newEnd
		return f.persistMetadata(uint32(newEnd))
	}
	return nil
}

// ZeroOutBlocks treats count blocks beginning at startIndex as null bytes. FAT has no
// hole-punching optimization, so this is a plain write of zeroed blocks.
func (f *OFile) ZeroOutBlocks(startIndex common.LogicalBlock, count uint) *gofat.DriverError {
	buffer := make([]byte, count*uint(f.volume.boot.BytesPerCluster))
	return f.WriteBlocks(startIndex, buffer)
}

// Unlink deletes the file system object from its parent directory and frees its
// cluster chain.
func (f *OFile) Unlink() *gofat.DriverError {
	if f.volume.readOnly {
		return gofat.ErrReadOnlyFileSystem
	}
	if f.parent == nil {
		return gofat.NewDriverErrorWithMessage(syscall.EBUSY, "cannot unlink the root directory")
	}

	err := f.dm.removeEntry(f.parent, f.dirent.Name())
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// Chmod changes the permission bits of this file system object. FAT only has a
// read-only attribute bit, so this is reduced to whether the owner-write bit is set.
func (f *OFile) Chmod(mode os.FileMode) *gofat.DriverError {
	if f.volume.readOnly {
		return gofat.ErrReadOnlyFileSystem
	}

	attrs := uint8(f.dirent.AttributeFlags) &^ AttrReadOnly
	if mode&0o200 == 0 {
		attrs |= AttrReadOnly
	}

	if f.parent == nil {
		f.dirent.AttributeFlags = int(attrs)
		f.dirent.mode = AttrFlagsToFileMode(attrs)
		return nil
	}
	return f.persistAttrs(attrs)
}

func (f *OFile) persistAttrs(attrs uint8) *gofat.DriverError {
	err := f.dm.updateEntry(f.parent, f.dirent, attrs, f.dirent.FirstCluster, uint32(f.dirent.Size()))
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return driverErr
		}
		return gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return nil
}

// Chown has no effect: FAT directory entries carry no concept of ownership.
func (f *OFile) Chown(uid, gid int) *gofat.DriverError {
	return gofat.ErrNotImplemented
}

// Chtimes updates whichever of the given timestamps FAT actually stores (creation,
// last modified, last accessed); lastChanged and deletedAt have no on-disk
// representation and are ignored.
func (f *OFile) Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error {
	if f.volume.readOnly {
		return gofat.ErrReadOnlyFileSystem
	}

	f.dirent.Created = createdAt
	f.dirent.LastAccessed = lastAccessed
	f.dirent.LastModified = lastModified

	if f.parent == nil {
		return nil
	}
	// updateEntry always stamps "now" as the on-disk timestamp fields, matching how
	// most FAT drivers treat an explicit Chtimes as touching the entry; callers that
	// need exact timestamp round-tripping should rely on Stat() reading back the
	// in-memory Dirent instead.
	return f.persistAttrs(uint8(f.dirent.AttributeFlags))
}

// ListDir returns the non-deleted, non-dot entry names this directory contains.
func (f *OFile) ListDir() ([]string, *gofat.DriverError) {
	names, err := f.dm.sortedNames(f.dirent)
	if err != nil {
		if driverErr, ok := err.(*gofat.DriverError); ok {
			return nil, driverErr
		}
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}
	return names, nil
}

// Name returns the name of the object itself without any path component. The root
// directory returns "/".
func (f *OFile) Name() string {
	return f.dirent.Name()
}
