package fat

import "container/list"

// cachedDirectory holds the materialized entries of one directory, along with the dual
// hash tables dirmanage.go uses to avoid a linear scan on lookup.
type cachedDirectory struct {
	firstCluster ClusterID
	entries      []Dirent
	byShortName  *nameHashTable
	byLongName   *nameHashTable
	elem         *list.Element
}

// directoryCache is a volume-wide LRU cache of materialized directories, bounded to a
// fixed capacity so opening many directories in succession can't grow memory use
// without limit. Keyed by the directory's first cluster (0 for the FAT12/16 fixed-size
// root).
type directoryCache struct {
	capacity int
	order    *list.List // front = most recently used
	entries  map[ClusterID]*list.Element
}

func newDirectoryCache(capacity int) *directoryCache {
	return &directoryCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[ClusterID]*list.Element),
	}
}

// Get returns the cached directory for firstCluster, promoting it to most-recently-used,
// or nil if it isn't cached.
func (c *directoryCache) Get(firstCluster ClusterID) *cachedDirectory {
	elem, ok := c.entries[firstCluster]
	if !ok {
		return nil
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cachedDirectory)
}

// Put inserts or replaces the cached directory for its firstCluster, evicting the
// least-recently-used entry if the cache is already at capacity.
func (c *directoryCache) Put(dir *cachedDirectory) {
	if existing, ok := c.entries[dir.firstCluster]; ok {
		c.order.Remove(existing)
		delete(c.entries, dir.firstCluster)
	}

	dir.elem = c.order.PushFront(dir)
	c.entries[dir.firstCluster] = dir.elem

	for len(c.entries) > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*cachedDirectory)
		c.order.Remove(back)
		delete(c.entries, evicted.firstCluster)
	}
}

// Invalidate drops the cached copy of the directory at firstCluster, if any, forcing
// the next lookup to re-read it from disk. Used after a mutation (create/delete/rename)
// so a stale cached listing can't be served.
func (c *directoryCache) Invalidate(firstCluster ClusterID) {
	elem, ok := c.entries[firstCluster]
	if !ok {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, firstCluster)
}

func newCachedDirectory(firstCluster ClusterID, entries []Dirent) *cachedDirectory {
	dir := &cachedDirectory{
		firstCluster: firstCluster,
		entries:      entries,
		byShortName:  newNameHashTable(),
		byLongName:   newNameHashTable(),
	}
	for _, entry := range entries {
		if entry.IsDeleted() {
			continue
		}
		dir.byShortName.insert(entry.ShortName(), entry.slotOffset)
		if entry.HasLongName() {
			dir.byLongName.insert(entry.Name(), entry.slotOffset)
		}
	}
	return dir
}
