package basedriver

import (
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	gofat "github.com/dargueta/gofat"
	"github.com/dargueta/gofat/drivers/common"
)

// FileInfo adapts gofat.FileStat to the standard library's fs.FileInfo.
type FileInfo struct {
	gofat.FileStat
	name string
}

func (info FileInfo) Name() string { return info.name }

func (info FileInfo) Size() int64 { return info.FileStat.Size }

func (info FileInfo) Mode() fs.FileMode { return info.FileStat.ModeFlags }

func (info FileInfo) ModTime() time.Time { return info.FileStat.LastModified }

func (info FileInfo) IsDir() bool { return info.FileStat.IsDir() }

func (info FileInfo) Sys() any { return info.FileStat }

////////////////////////////////////////////////////////////////////////////////

// File is the handle CommonDriver.OpenFile returns. It forwards I/O to the
// underlying ObjectHandle by tracking an explicit read/write cursor, since
// ObjectHandle only knows how to do block-aligned I/O.
type File struct {
	owningDriver *CommonDriver
	object       extObjectHandle
	ioFlags      gofat.IOFlags
	cursor       int64
	closed       bool
}

func newFileFromObjectHandle(
	driver *CommonDriver, object extObjectHandle, flags gofat.IOFlags,
) (*File, *gofat.DriverError) {
	if flags.Truncate() {
		if err := object.Resize(0); err != nil {
			return nil, err
		}
	}

	cursor := int64(0)
	if flags&gofat.O_APPEND != 0 {
		cursor = object.Stat().Size
	}

	return &File{owningDriver: driver, object: object, ioFlags: flags, cursor: cursor}, nil
}

func (file *File) checkNotClosed() error {
	if file.closed {
		return gofat.NewDriverError(syscall.EBADF)
	}
	return nil
}

func (file *File) Read(buffer []byte) (int, error) {
	n, err := file.ReadAt(buffer, file.cursor)
	file.cursor += int64(n)
	return n, err
}

func (file *File) ReadAt(buffer []byte, offset int64) (int, error) {
	if err := file.checkNotClosed(); err != nil {
		return 0, err
	}
	if !file.ioFlags.Readable() {
		return 0, gofat.NewDriverError(syscall.EBADF)
	}

	stat := file.object.Stat()
	remaining := stat.Size - offset
	if remaining <= 0 {
		return 0, io.EOF
	}

	toRead := int64(len(buffer))
	isShort := toRead > remaining
	if isShort {
		toRead = remaining
	}

	blockSize := int64(stat.BlockSize)
	if blockSize <= 0 {
		blockSize = 1
	}

	startBlock := offset / blockSize
	endBlock := (offset + toRead + blockSize - 1) / blockSize
	rawBuffer := make([]byte, (endBlock-startBlock)*blockSize)

	err := file.object.ReadBlocks(
		blockIndexFromOffset(startBlock), rawBuffer,
	)
	if err != nil {
		return 0, err
	}

	copyStart := offset - startBlock*blockSize
	n := copy(buffer, rawBuffer[copyStart:copyStart+toRead])

	if isShort {
		return n, io.EOF
	}
	return n, nil
}

func (file *File) Write(buffer []byte) (int, error) {
	n, err := file.WriteAt(buffer, file.cursor)
	file.cursor += int64(n)
	return n, err
}

func (file *File) WriteAt(buffer []byte, offset int64) (int, error) {
	if err := file.checkNotClosed(); err != nil {
		return 0, err
	}
	if !file.ioFlags.Writable() {
		return 0, gofat.NewDriverError(syscall.EBADF)
	}

	stat := file.object.Stat()
	endOffset := offset + int64(len(buffer))
	if endOffset > stat.Size {
		if err := file.object.Resize(uint64(endOffset)); err != nil {
			return 0, err
		}
		stat = file.object.Stat()
	}

	blockSize := int64(stat.BlockSize)
	if blockSize <= 0 {
		blockSize = 1
	}

	startBlock := offset / blockSize
	endBlock := (endOffset + blockSize - 1) / blockSize
	rawBuffer := make([]byte, (endBlock-startBlock)*blockSize)

	// Read-modify-write: preserve bytes in the first/last block outside the
	// written range.
	_ = file.object.ReadBlocks(blockIndexFromOffset(startBlock), rawBuffer)

	copyStart := offset - startBlock*blockSize
	copy(rawBuffer[copyStart:], buffer)

	if err := file.object.WriteBlocks(blockIndexFromOffset(startBlock), rawBuffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}

func (file *File) WriteString(s string) (int, error) {
	return file.Write([]byte(s))
}

func (file *File) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	n, err := file.Write(data)
	return int64(n), err
}

func (file *File) Seek(offset int64, whence int) (int64, error) {
	stat := file.object.Stat()
	switch whence {
	case io.SeekStart:
		file.cursor = offset
	case io.SeekCurrent:
		file.cursor += offset
	case io.SeekEnd:
		file.cursor = stat.Size + offset
	default:
		return 0, gofat.NewDriverError(syscall.EINVAL)
	}
	return file.cursor, nil
}

func (file *File) Truncate(size int64) error {
	return file.object.Resize(uint64(size))
}

func (file *File) Close() error {
	if file.closed {
		return nil
	}
	file.closed = true
	return nil
}

func (file *File) Chdir() error {
	return file.owningDriver.chdirToObject(file.object)
}

func (file *File) Chmod(mode os.FileMode) error {
	return file.object.Chmod(mode)
}

func (file *File) Chown(uid, gid int) error {
	return file.object.Chown(uid, gid)
}

func (file *File) Name() string {
	return file.object.AbsolutePath()
}

func (file *File) Readdir(n int) ([]os.FileInfo, error) {
	names, err := file.object.ListDir()
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		if n > 0 && len(infos) >= n {
			break
		}
		infos = append(infos, FileInfo{FileStat: file.object.Stat(), name: name})
	}
	return infos, nil
}

func (file *File) Readdirnames(n int) ([]string, error) {
	names, err := file.object.ListDir()
	if err != nil {
		return nil, err
	}
	return removeDotsFromSlice(names), nil
}

func (file *File) Stat() (os.FileInfo, error) {
	stat := file.object.Stat()
	return FileInfo{FileStat: stat, name: file.object.Name()}, nil
}

func (file *File) Sync() error {
	return nil
}

func blockIndexFromOffset(block int64) common.LogicalBlock {
	return common.LogicalBlock(block)
}
