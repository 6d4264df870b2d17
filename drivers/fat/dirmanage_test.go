package fat

import (
	"strings"
	"testing"

	gofat "github.com/dargueta/gofat"
	fattesting "github.com/dargueta/gofat/testing"
	"github.com/stretchr/testify/require"
)

func newTestDirectoryManager(t *testing.T) (*directoryManager, *Volume) {
	t.Helper()
	stream := fattesting.BuildFormattedImage(t, 512, 2880)
	volume, err := MountVolume(stream, false)
	require.NoError(t, err)
	return newDirectoryManager(volume), volume
}

func TestDirectoryManager_InsertThenLookupRoundTrips(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	entry, err := dm.insertEntry(root, "hello world.txt", 0, 0, 5)
	require.NoError(t, err)
	require.Equal(t, "hello world.txt", entry.Name())
	require.True(t, entry.HasLongName())

	found, err := dm.lookup(root, "hello world.txt")
	require.NoError(t, err)
	require.Equal(t, entry.ShortName(), found.ShortName())

	// Case-insensitive lookup by short name must also resolve.
	_, err = dm.lookup(root, strings.ToLower(found.ShortName()))
	require.NoError(t, err)
}

func TestDirectoryManager_InsertRejectsDuplicateName(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	_, err := dm.insertEntry(root, "dup.txt", 0, 0, 0)
	require.NoError(t, err)

	_, err = dm.insertEntry(root, "DUP.TXT", 0, 0, 0)
	require.ErrorIs(t, err, gofat.ErrExists)
}

func TestDirectoryManager_RemoveEntryTombstonesAndFreesChain(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	clusters, err := volume.fat.AllocateChain(1)
	require.NoError(t, err)
	freeBefore, err := volume.fat.ComputeFreeClusterCount()
	require.NoError(t, err)

	entry, err := dm.insertEntry(root, "x.txt", 0, clusters[0], 0)
	require.NoError(t, err)

	require.NoError(t, dm.removeEntry(root, entry.Name()))

	_, err = dm.lookup(root, "x.txt")
	require.ErrorIs(t, err, gofat.ErrNotExist)

	freeAfter, err := volume.fat.ComputeFreeClusterCount()
	require.NoError(t, err)
	require.Equal(t, freeBefore+1, freeAfter, "removing the entry must free its cluster chain")
}

func TestDirectoryManager_RemoveNonEmptyDirectoryFails(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	dirCluster, err := volume.fat.AllocateChain(1)
	require.NoError(t, err)
	zeroed := make([]byte, volume.boot.BytesPerCluster)
	require.NoError(t, volume.fatDriver.writeCluster(dirCluster[0], zeroed))

	dirEntry, err := dm.insertEntry(root, "SUBDIR", AttrDirectory, dirCluster[0], 0)
	require.NoError(t, err)

	child, err := dm.insertEntry(dirEntry, "child.txt", 0, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, child)

	require.ErrorIs(t, dm.removeEntry(root, "SUBDIR"), gofat.ErrDirectoryNotEmpty)
}

func TestDirectoryManager_FindFreeRunGrowsDirectoryWhenFull(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)

	dirCluster, err := volume.fat.AllocateChain(1)
	require.NoError(t, err)
	zeroed := make([]byte, volume.boot.BytesPerCluster)
	require.NoError(t, volume.fatDriver.writeCluster(dirCluster[0], zeroed))
	dirEntry := Dirent{
		FirstCluster:   dirCluster[0],
		AttributeFlags: AttrDirectory,
		mode:           AttrFlagsToFileMode(AttrDirectory),
	}

	entriesPerCluster := volume.boot.DirentsPerCluster
	for i := 0; i < entriesPerCluster; i++ {
		name := "F" + string(rune('A'+i%26)) + ".TXT"
		_, err := dm.insertEntry(&dirEntry, name, 0, 0, 0)
		require.NoError(t, err)
	}

	chainBefore, err := volume.fatDriver.listClusters(dirCluster[0])
	require.NoError(t, err)

	// One more entry than the first cluster can hold forces findFreeRun to grow the
	// chain by an additional cluster.
	_, err = dm.insertEntry(&dirEntry, "OVERFLOW.TXT", 0, 0, 0)
	require.NoError(t, err)

	chainAfter, err := volume.fatDriver.listClusters(dirCluster[0])
	require.NoError(t, err)
	require.Greater(t, len(chainAfter), len(chainBefore))
}

func TestDirectoryManager_SortedNamesExcludesDeletedAndDotEntries(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	_, err := dm.insertEntry(root, "b.txt", 0, 0, 0)
	require.NoError(t, err)
	_, err = dm.insertEntry(root, "a.txt", 0, 0, 0)
	require.NoError(t, err)
	gone, err := dm.insertEntry(root, "gone.txt", 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, dm.removeEntry(root, gone.Name()))

	names, err := dm.sortedNames(root)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestDirectoryManager_UpdateEntryPersistsSizeAndAttrs(t *testing.T) {
	dm, volume := newTestDirectoryManager(t)
	root := volume.RootDirent()

	entry, err := dm.insertEntry(root, "grow.txt", 0, 0, 0)
	require.NoError(t, err)

	require.NoError(t, dm.updateEntry(root, entry, AttrReadOnly, entry.FirstCluster, 42))
	require.EqualValues(t, 42, entry.Size())

	found, err := dm.lookup(root, "grow.txt")
	require.NoError(t, err)
	require.EqualValues(t, 42, found.Size())
	require.Equal(t, 0o444, int(found.Mode().Perm()))
}
