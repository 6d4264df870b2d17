package fat

import (
	"os"
	"testing"

	gofat "github.com/dargueta/gofat"
	fattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/require"
)

func newTestFATDriver(t *testing.T) *Driver {
	t.Helper()
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)
	return NewDriver(volume)
}

func TestDriver_CreateObjectFile(t *testing.T) {
	driver := newTestFATDriver(t)
	root := driver.GetRootDirectory()

	handle, err := driver.CreateObject("new.txt", root, 0o644)
	require.Nil(t, err)

	of, ok := handle.(*OFile)
	require.True(t, ok)
	require.Equal(t, "new.txt", of.Name())
	require.False(t, of.Stat().ModeFlags.IsDir())
}

func TestDriver_CreateObjectDirectoryInitializesDotEntries(t *testing.T) {
	driver := newTestFATDriver(t)
	root := driver.GetRootDirectory()

	handle, err := driver.CreateObject("sub", root, os.ModeDir|0o777)
	require.Nil(t, err)

	of, ok := handle.(*OFile)
	require.True(t, ok)
	require.True(t, of.Stat().ModeFlags.IsDir())

	names, lerr := of.ListDir()
	require.Nil(t, lerr)
	require.Contains(t, names, ".")
	require.Contains(t, names, "..")
}

func TestDriver_CreateObjectOnReadOnlyVolumeFails(t *testing.T) {
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, true)
	require.NoError(t, err)
	driver := NewDriver(volume)

	_, cerr := driver.CreateObject("nope.txt", driver.GetRootDirectory(), 0o644)
	require.NotNil(t, cerr)
	require.Equal(t, gofat.ErrReadOnlyFileSystem, cerr)
}

func TestDriver_GetObjectFindsExistingEntry(t *testing.T) {
	driver := newTestFATDriver(t)
	root := driver.GetRootDirectory()

	_, err := driver.CreateObject("find me.txt", root, 0o644)
	require.Nil(t, err)

	handle, gerr := driver.GetObject("find me.txt", root)
	require.Nil(t, gerr)
	require.Equal(t, "find me.txt", handle.Name())
}

func TestDriver_GetObjectMissingEntryReturnsNotExist(t *testing.T) {
	driver := newTestFATDriver(t)
	_, err := driver.GetObject("nothing-here.txt", driver.GetRootDirectory())
	require.NotNil(t, err)
}

func TestDriver_FSStatAndFeatures(t *testing.T) {
	driver := newTestFATDriver(t)

	stat := driver.FSStat()
	require.Greater(t, stat.TotalBlocks, uint64(0))

	features := driver.GetFSFeatures()
	require.False(t, features.HasHardLinks())
	require.False(t, features.HasSymbolicLinks())
	require.True(t, features.HasDirectories())
}
