package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryCache_GetMissReturnsNil(t *testing.T) {
	cache := newDirectoryCache(2)
	require.Nil(t, cache.Get(ClusterID(5)))
}

func TestDirectoryCache_PutThenGetRoundTrips(t *testing.T) {
	cache := newDirectoryCache(2)
	dir := newCachedDirectory(ClusterID(5), nil)
	cache.Put(dir)

	require.Same(t, dir, cache.Get(ClusterID(5)))
}

func TestDirectoryCache_EvictsLeastRecentlyUsedAtCapacity(t *testing.T) {
	cache := newDirectoryCache(2)
	cache.Put(newCachedDirectory(ClusterID(1), nil))
	cache.Put(newCachedDirectory(ClusterID(2), nil))

	// Touch cluster 1 so cluster 2 becomes the least-recently-used entry.
	cache.Get(ClusterID(1))

	cache.Put(newCachedDirectory(ClusterID(3), nil))

	require.NotNil(t, cache.Get(ClusterID(1)))
	require.Nil(t, cache.Get(ClusterID(2)), "least-recently-used entry should have been evicted")
	require.NotNil(t, cache.Get(ClusterID(3)))
}

func TestDirectoryCache_InvalidateForcesReload(t *testing.T) {
	cache := newDirectoryCache(4)
	cache.Put(newCachedDirectory(ClusterID(7), nil))
	require.NotNil(t, cache.Get(ClusterID(7)))

	cache.Invalidate(ClusterID(7))
	require.Nil(t, cache.Get(ClusterID(7)))
}

func TestNewCachedDirectory_IndexesShortAndLongNames(t *testing.T) {
	shortOnly := Dirent{shortName: "A.TXT", name: "A.TXT", slotOffset: 0}
	withLong := Dirent{shortName: "LONGNA~1.DAT", name: "longname with spaces.dat", slotOffset: 32, lfnSlotCount: 2}
	deleted := Dirent{shortName: "GONE.TXT", name: "GONE.TXT", slotOffset: 64, isDeleted: true}

	dir := newCachedDirectory(ClusterID(2), []Dirent{shortOnly, withLong, deleted})

	require.Equal(t, []int64{0}, dir.byShortName.lookup("A.TXT"))
	require.Equal(t, []int64{32}, dir.byShortName.lookup("LONGNA~1.DAT"))
	require.Equal(t, []int64{32}, dir.byLongName.lookup("longname with spaces.dat"))
	require.Empty(t, dir.byShortName.lookup("GONE.TXT"), "deleted entries must not be indexed")
}
