package basedriver

import (
	"os"
	"time"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// ObjectHandle is an interface for a way to interact with on-disk file system
// objects. It is the basedriver-local restatement of gofat.ObjectHandle --
// kept distinct so implementations (such as *fat.OFile) only need to satisfy
// one interface literal, which both this package and the root package happen
// to describe identically.
type ObjectHandle interface {
	Stat() gofat.FileStat
	Resize(newSize uint64) *gofat.DriverError
	ReadBlocks(index common.LogicalBlock, buffer []byte) *gofat.DriverError
	WriteBlocks(index common.LogicalBlock, data []byte) *gofat.DriverError
	ZeroOutBlocks(startIndex common.LogicalBlock, count uint) *gofat.DriverError
	Unlink() *gofat.DriverError
	Chmod(mode os.FileMode) *gofat.DriverError
	Chown(uid, gid int) *gofat.DriverError
	Chtimes(createdAt, lastAccessed, lastModified, lastChanged, deletedAt time.Time) error
	ListDir() ([]string, *gofat.DriverError)
	Name() string
}

// extObjectHandle augments ObjectHandle with knowledge of its own absolute
// path, which CommonDriver needs for symlink-cycle detection and error
// messages but individual drivers have no reason to track themselves.
type extObjectHandle interface {
	ObjectHandle
	AbsolutePath() string
}

type wrappedObjectHandle struct {
	ObjectHandle
	absolutePath string
}

func wrapObjectHandle(handle ObjectHandle, absolutePath string) extObjectHandle {
	return wrappedObjectHandle{ObjectHandle: handle, absolutePath: absolutePath}
}

func (xh wrappedObjectHandle) AbsolutePath() string {
	return xh.absolutePath
}
