package basedriver

import (
	"os"
	"time"

	gofat "github.com/dargueta/gofat"
)

// DirectoryEntry adapts an ObjectHandle into gofat.DirectoryEntry /
// os.DirEntry for use by ReadDir.
type DirectoryEntry struct {
	name string
	stat gofat.FileStat
}

func newDirectoryEntryFromHandle(object ObjectHandle) DirectoryEntry {
	return DirectoryEntry{name: object.Name(), stat: object.Stat()}
}

func (dirent DirectoryEntry) Name() string { return dirent.name }

func (dirent DirectoryEntry) IsDir() bool { return dirent.stat.IsDir() }

func (dirent DirectoryEntry) Type() os.FileMode { return dirent.stat.ModeFlags.Type() }

func (dirent DirectoryEntry) Info() (os.FileInfo, error) { return dirent, nil }

func (dirent DirectoryEntry) Size() int64 { return dirent.stat.Size }

func (dirent DirectoryEntry) Mode() os.FileMode { return dirent.stat.ModeFlags }

func (dirent DirectoryEntry) ModTime() time.Time { return dirent.stat.LastModified }

func (dirent DirectoryEntry) Stat() gofat.FileStat { return dirent.stat }

func (dirent DirectoryEntry) Sys() any { return dirent.stat }
