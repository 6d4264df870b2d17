// Package basedriver implements the POSIX-ish traversal, open-mode, and
// symlink-resolution machinery shared by every gofat.DriverImplementation, so
// that individual file system drivers only need to implement object lookup
// and creation.
package basedriver

import (
	"fmt"
	"io"
	"os"
	posixpath "path"
	"path/filepath"
	"syscall"

	gofat "github.com/dargueta/gofat"
)

// DriverImplementation is the set of filesystem-specific operations
// CommonDriver needs in order to provide the rest of a POSIX-like surface.
type DriverImplementation interface {
	CreateObject(name string, parent ObjectHandle, perm os.FileMode) (ObjectHandle, *gofat.DriverError)
	GetObject(name string, parent ObjectHandle) (ObjectHandle, *gofat.DriverError)
	GetRootDirectory() ObjectHandle
	FSStat() gofat.FSStat
	GetFSFeatures() gofat.FSFeatures
	FormatImage(image io.ReadWriteSeeker, stat gofat.FSStat) *gofat.DriverError
}

type CommonDriver struct {
	implementation DriverImplementation
	mountFlags     gofat.MountFlags
	workingDirPath string
}

func NewDriver(implementation DriverImplementation, mountFlags gofat.MountFlags) *CommonDriver {
	return &CommonDriver{
		implementation: implementation,
		mountFlags:     mountFlags,
		workingDirPath: "/",
	}
}

func (driver *CommonDriver) normalizePath(path string) string {
	path = posixpath.Clean(filepath.ToSlash(path))
	if path == "." {
		path = "/"
	}
	if posixpath.IsAbs(path) {
		return path
	}
	return posixpath.Join(driver.workingDirPath, path)
}

// resolveSymlink dereferences `object` if it's a symlink, following
// multiple levels of indirection if needed. File systems without symlink
// support (like FAT) never produce a Stat().IsSymlink() == true object, so
// this is a no-op for them in practice; it exists so CommonDriver is usable
// by a hypothetical symlink-aware backend without modification.
func (driver *CommonDriver) resolveSymlink(object extObjectHandle) (extObjectHandle, *gofat.DriverError) {
	stat := object.Stat()
	if !stat.IsSymlink() {
		return object, nil
	}

	pathCache := map[string]bool{object.AbsolutePath(): true}
	currentPath := object.AbsolutePath()

	for stat.IsSymlink() {
		symlinkText, err := driver.getContentsOfObject(object)
		if err != nil {
			return nil, gofat.NewDriverErrorWithMessage(
				syscall.EIO,
				fmt.Sprintf("failed to read symlink `%s`: %s", currentPath, err.Error()),
			)
		}

		nextPath := driver.normalizePath(string(symlinkText))
		if pathCache[nextPath] {
			return nil, gofat.NewDriverErrorWithMessage(
				syscall.ELOOP,
				fmt.Sprintf("found cycle resolving symlink: hit `%s` twice", nextPath),
			)
		}
		pathCache[nextPath] = true

		object, err = driver.getObjectAtPathNoFollow(nextPath)
		if err != nil {
			return nil, err
		}

		stat = object.Stat()
		currentPath = nextPath
	}

	return object, nil
}

// getObjectAtPathNoFollow resolves a normalized absolute path to an object
// handle. Intermediate directory components are symlink-followed; the final
// component is not.
func (driver *CommonDriver) getObjectAtPathNoFollow(path string) (extObjectHandle, *gofat.DriverError) {
	if path == "/" || path == "" {
		return wrapObjectHandle(driver.implementation.GetRootDirectory(), "/"), nil
	}

	parentPath, baseName := posixpath.Split(path)
	parentObject, err := driver.getObjectAtPathFollowingLink(parentPath)
	if err != nil {
		return nil, err
	}

	parentStat := parentObject.Stat()
	if !parentStat.IsDir() {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.ENOTDIR,
			fmt.Sprintf("cannot resolve path `%s`: `%s` is not a directory", path, parentPath),
		)
	}

	object, err := driver.implementation.GetObject(baseName, parentObject)
	if err != nil {
		return nil, err
	}
	return wrapObjectHandle(object, path), nil
}

func (driver *CommonDriver) getObjectAtPathFollowingLink(path string) (extObjectHandle, *gofat.DriverError) {
	object, err := driver.getObjectAtPathNoFollow(path)
	if err != nil {
		return nil, err
	}

	stat := object.Stat()
	for stat.IsSymlink() {
		object, err = driver.resolveSymlink(object)
		if err != nil {
			return nil, err
		}
		stat = object.Stat()
	}

	return object, nil
}

func (driver *CommonDriver) getContentsOfObject(object extObjectHandle) ([]byte, *gofat.DriverError) {
	handle, err := newFileFromObjectHandle(driver, object, gofat.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	stat := object.Stat()
	buffer := make([]byte, stat.Size)
	_, readErr := handle.Read(buffer)
	if readErr != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, readErr.Error())
	}
	return buffer, nil
}

// OpenFile ---------------------------------------------------------------

func (driver *CommonDriver) OpenFile(path string, flags gofat.IOFlags, perm os.FileMode) (*File, error) {
	absPath := driver.normalizePath(path)

	if flags.RequiresWritePerm() && !driver.mountFlags.CanWrite() {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.EROFS,
			fmt.Sprintf("can't open `%s` for writing: image is mounted read-only", absPath),
		)
	}

	object, err := driver.getObjectAtPathFollowingLink(absPath)
	if err != nil {
		if err.ErrnoCode == syscall.ENOENT && flags.Create() {
			parentDir, baseName := posixpath.Split(absPath)
			parentObject, parentErr := driver.getObjectAtPathFollowingLink(parentDir)
			if parentErr != nil {
				return nil, parentErr
			}

			created, createErr := driver.implementation.CreateObject(baseName, parentObject, perm)
			if createErr != nil {
				return nil, createErr
			}
			object = wrapObjectHandle(created, absPath)
		} else {
			return nil, err
		}
	} else if flags.Exclusive() && flags.Create() {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.EEXIST, fmt.Sprintf("`%s` already exists", absPath),
		)
	}

	stat := object.Stat()
	if stat.IsDir() {
		return nil, gofat.NewDriverErrorWithMessage(
			syscall.EISDIR, fmt.Sprintf("`%s` is a directory", absPath),
		)
	}

	return newFileFromObjectHandle(driver, object, flags)
}

func (driver *CommonDriver) Chdir(path string) error {
	absPath := driver.normalizePath(path)
	object, err := driver.getObjectAtPathFollowingLink(absPath)
	if err != nil {
		return err
	}
	return driver.chdirToObject(object)
}

func (driver *CommonDriver) chdirToObject(object extObjectHandle) error {
	stat := object.Stat()
	if !stat.IsDir() {
		return gofat.NewDriverErrorWithMessage(
			syscall.ENOTDIR, fmt.Sprintf("not a directory: `%s`", object.AbsolutePath()),
		)
	}
	driver.workingDirPath = object.AbsolutePath()
	return nil
}

func (driver *CommonDriver) Open(path string) (*File, error) {
	return driver.OpenFile(path, gofat.O_RDONLY, 0)
}

func (driver *CommonDriver) ReadFile(path string) ([]byte, error) {
	path = driver.normalizePath(path)
	object, err := driver.getObjectAtPathFollowingLink(path)
	if err != nil {
		return nil, err
	}
	return driver.getContentsOfObject(object)
}

func (driver *CommonDriver) SameFile(fi1, fi2 os.FileInfo) bool {
	stat1, ok1 := fi1.Sys().(gofat.FileStat)
	stat2, ok2 := fi2.Sys().(gofat.FileStat)
	return ok1 && ok2 && stat1.InodeNumber == stat2.InodeNumber
}

func (driver *CommonDriver) Stat(path string) (gofat.FileStat, error) {
	path = driver.normalizePath(path)
	object, err := driver.getObjectAtPathFollowingLink(path)
	if err != nil {
		return gofat.FileStat{}, err
	}
	return object.Stat(), nil
}

// ReadDir ------------------------------------------------------------------

func (driver *CommonDriver) ReadDir(path string) ([]gofat.DirectoryEntry, error) {
	absPath := driver.normalizePath(path)

	directory, err := driver.getObjectAtPathFollowingLink(absPath)
	if err != nil {
		return nil, err
	}

	direntNames, err := directory.ListDir()
	if err != nil {
		return nil, err
	}

	output := make([]gofat.DirectoryEntry, 0, len(direntNames))
	for _, name := range direntNames {
		if name == "." || name == ".." {
			continue
		}

		direntObject, err := driver.implementation.GetObject(name, directory)
		if err != nil {
			return output, err
		}

		output = append(output, newDirectoryEntryFromHandle(direntObject))
	}

	return output, nil
}

// Readlink -------------------------------------------------------------------

func (driver *CommonDriver) Readlink(path string) (string, error) {
	path = driver.normalizePath(path)
	object, err := driver.getObjectAtPathNoFollow(path)
	if err != nil {
		return "", err
	}

	stat := object.Stat()
	if !stat.IsSymlink() {
		return "", gofat.NewDriverErrorWithMessage(
			syscall.EINVAL, fmt.Sprintf("`%s` is not a symlink", path),
		)
	}

	contents, err := driver.getContentsOfObject(object)
	if err != nil {
		return "", err
	}
	return string(contents), nil
}

func (driver *CommonDriver) Lstat(path string) (gofat.FileStat, error) {
	path = driver.normalizePath(path)
	object, err := driver.getObjectAtPathNoFollow(path)
	if err != nil {
		return gofat.FileStat{}, err
	}

	object, err = driver.resolveSymlink(object)
	if err != nil {
		return gofat.FileStat{}, err
	}
	return object.Stat(), nil
}

// Writing --------------------------------------------------------------------

func (driver *CommonDriver) Create(path string) (*File, error) {
	return driver.OpenFile(path, gofat.O_RDWR|gofat.O_CREATE|gofat.O_TRUNC, 0o666)
}

func removeDotsFromSlice(arr []string) []string {
	out := make([]string, 0, len(arr))
	for _, name := range arr {
		if name != "." && name != ".." {
			out = append(out, name)
		}
	}
	return out
}

// Getwd returns the working directory as an absolute path. The error return
// is always nil; it exists only for compatibility with [os.Getwd].
func (driver *CommonDriver) Getwd() (string, error) {
	return driver.workingDirPath, nil
}

func (driver *CommonDriver) GetFSFeatures() gofat.FSFeatures {
	return driver.implementation.GetFSFeatures()
}

func (driver *CommonDriver) Remove(path string) error {
	absPath := driver.normalizePath(path)
	object, err := driver.getObjectAtPathFollowingLink(absPath)
	if err != nil {
		return err
	}

	stat := object.Stat()
	if stat.IsDir() {
		names, err := object.ListDir()
		if err != nil {
			return err
		}
		if len(removeDotsFromSlice(names)) > 0 {
			return gofat.NewDriverErrorWithMessage(
				syscall.ENOTEMPTY, fmt.Sprintf("can't remove `%s`: directory not empty", absPath),
			)
		}
	}

	return object.Unlink()
}

func (driver *CommonDriver) Truncate(path string, size int64) error {
	absPath := driver.normalizePath(path)
	object, err := driver.getObjectAtPathFollowingLink(absPath)
	if err != nil {
		return err
	}
	return object.Resize(uint64(size))
}

func (driver *CommonDriver) WriteFile(path string, data []byte, perm os.FileMode) error {
	handle, err := driver.OpenFile(path, gofat.O_WRONLY|gofat.O_CREATE|gofat.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer handle.Close()

	_, err = handle.Write(data)
	return err
}

// Directories ------------------------------------------------------------

func (driver *CommonDriver) Mkdir(path string, perm os.FileMode) error {
	perm = (perm &^ os.ModeType) | os.ModeDir

	absPath := driver.normalizePath(path)
	parentDir, baseName := posixpath.Split(absPath)

	parentObject, err := driver.getObjectAtPathFollowingLink(parentDir)
	if err != nil {
		return err
	}

	parentStat := parentObject.Stat()
	if !parentStat.IsDir() {
		return gofat.NewDriverErrorWithMessage(
			syscall.ENOTDIR,
			fmt.Sprintf("cannot create `%s`: `%s` is not a directory", absPath, parentDir),
		)
	}

	_, err = driver.implementation.CreateObject(baseName, parentObject, perm)
	return err
}

func (driver *CommonDriver) MkdirAll(path string, perm os.FileMode) error {
	absPath := driver.normalizePath(path)
	if absPath == "/" {
		return nil
	}

	parentDir, baseName := posixpath.Split(absPath)
	perm = (perm &^ os.ModeType) | os.ModeDir

	parentObject, err := driver.getObjectAtPathFollowingLink(parentDir)
	if err != nil {
		if err.ErrnoCode == syscall.ENOENT {
			if mkErr := driver.MkdirAll(parentDir, perm); mkErr != nil {
				return mkErr
			}
			parentObject, err = driver.getObjectAtPathFollowingLink(parentDir)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	_, createErr := driver.implementation.CreateObject(baseName, parentObject, perm)
	if createErr != nil {
		if createErr.ErrnoCode == syscall.EEXIST {
			return nil
		}
		return createErr
	}
	return nil
}

func (driver *CommonDriver) RemoveAll(path string) error {
	path = driver.normalizePath(path)
	directory, err := driver.getObjectAtPathFollowingLink(path)
	if err != nil {
		return err
	}

	stat := directory.Stat()
	if !stat.IsDir() {
		return directory.Unlink()
	}

	return driver.removeDirectory(directory)
}

// removeDirectory is equivalent to `rm -rf` for a directory handle.
//
// Deletion is depth-first and accumulates per-child failures into a single
// multierror instead of aborting on the first one, matching the spec's
// WarnDeleteFailure semantics for recursive delete.
func (driver *CommonDriver) removeDirectory(directory extObjectHandle) error {
	direntNames, err := directory.ListDir()
	if err != nil {
		return err
	}

	var accumulated warnDeleteFailure
	for _, name := range removeDotsFromSlice(direntNames) {
		dirent, getErr := driver.implementation.GetObject(name, directory)
		if getErr != nil {
			accumulated.add(getErr)
			continue
		}

		childPath := posixpath.Join(directory.AbsolutePath(), name)
		wrapped := wrapObjectHandle(dirent, childPath)
		direntStat := dirent.Stat()

		if direntStat.IsDir() {
			if err := driver.removeDirectory(wrapped); err != nil {
				accumulated.add(err)
				continue
			}
		}

		if err := dirent.Unlink(); err != nil {
			accumulated.add(err)
		}
	}

	return accumulated.errorOrNil()
}
