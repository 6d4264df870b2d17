// Package diskcache implements a bounded, set-associative block cache for the data
// region of a volume (as opposed to the FAT region, which fat.FatTable keeps resident
// in full since it's small and needs whole-table scans for allocation anyway).
//
// It tracks present/dirty state per page the way a single-page cache would, but
// generalized into a fixed-memory cache that can sit in front of an arbitrarily large
// data region: only `Ways * Sets` pages are ever resident at once, and the
// least-recently-used way in a full set is written back and evicted to make room for a
// new page.
package diskcache

import (
	"container/list"
	"fmt"

	"github.com/dargueta/gofat/drivers/common"
)

// FetchPageFunc loads one page's worth of bytes (PageSize blocks) starting at the given
// block index into buffer.
type FetchPageFunc func(startBlock common.LogicalBlock, buffer []byte) error

// FlushPageFunc writes one page's worth of bytes back to storage.
type FlushPageFunc func(startBlock common.LogicalBlock, buffer []byte) error

type pageEntry struct {
	pageIndex uint
	data      []byte
	dirty     bool
	elem      *list.Element
}

// Cache is a fixed-capacity, set-associative page cache. "Set-associative" here means
// each page index maps deterministically to one of Sets buckets (pageIndex % Sets),
// and within that bucket the Ways most-recently-touched distinct pages are kept
// resident; this bounds both memory and worst-case eviction scans to Ways, rather than
// degrading into a full linear scan like a single big LRU list would for a large
// volume.
type Cache struct {
	bytesPerBlock uint
	blocksPerPage uint
	sets          uint
	ways          uint
	totalBlocks   uint

	fetch FetchPageFunc
	flush FlushPageFunc

	buckets []map[uint]*pageEntry
	lru     []*list.List // one LRU list per set, elements are *pageEntry
}

// New creates a cache with `sets` buckets of `ways` resident pages each, where a page
// is `blocksPerPage` blocks of `bytesPerBlock` bytes.
func New(
	bytesPerBlock, blocksPerPage, totalBlocks, sets, ways uint,
	fetch FetchPageFunc, flush FlushPageFunc,
) *Cache {
	if sets == 0 {
		sets = 1
	}
	if ways == 0 {
		ways = 1
	}

	c := &Cache{
		bytesPerBlock: bytesPerBlock,
		blocksPerPage: blocksPerPage,
		sets:          sets,
		ways:          ways,
		totalBlocks:   totalBlocks,
		fetch:         fetch,
		flush:         flush,
		buckets:       make([]map[uint]*pageEntry, sets),
		lru:           make([]*list.List, sets),
	}
	for i := uint(0); i < sets; i++ {
		c.buckets[i] = make(map[uint]*pageEntry)
		c.lru[i] = list.New()
	}
	return c
}

func (c *Cache) pageIndexOf(block common.LogicalBlock) uint {
	return uint(block) / c.blocksPerPage
}

func (c *Cache) setOf(pageIndex uint) uint {
	return pageIndex % c.sets
}

func (c *Cache) pageSizeBytes() uint {
	return c.blocksPerPage * c.bytesPerBlock
}

// touch marks entry as most-recently-used within its set.
func (c *Cache) touch(setIdx uint, entry *pageEntry) {
	c.lru[setIdx].MoveToFront(entry.elem)
}

// getPage returns the resident buffer for pageIndex, loading it (and evicting the
// LRU way in its set if the set is full) if it isn't already resident.
func (c *Cache) getPage(pageIndex uint) (*pageEntry, error) {
	setIdx := c.setOf(pageIndex)
	bucket := c.buckets[setIdx]

	if entry, ok := bucket[pageIndex]; ok {
		c.touch(setIdx, entry)
		return entry, nil
	}

	if uint(len(bucket)) >= c.ways {
		if err := c.evictOne(setIdx); err != nil {
			return nil, err
		}
	}

	data := make([]byte, c.pageSizeBytes())
	startBlock := common.LogicalBlock(pageIndex * c.blocksPerPage)
	if err := c.fetch(startBlock, data); err != nil {
		return nil, fmt.Errorf("diskcache: failed to load page %d: %w", pageIndex, err)
	}

	entry := &pageEntry{pageIndex: pageIndex, data: data}
	entry.elem = c.lru[setIdx].PushFront(entry)
	bucket[pageIndex] = entry
	return entry, nil
}

// evictOne writes back (if dirty) and drops the least-recently-used page in the given
// set, making room for a new one.
func (c *Cache) evictOne(setIdx uint) error {
	back := c.lru[setIdx].Back()
	if back == nil {
		return nil
	}
	entry := back.Value.(*pageEntry)

	if entry.dirty {
		startBlock := common.LogicalBlock(entry.pageIndex * c.blocksPerPage)
		if err := c.flush(startBlock, entry.data); err != nil {
			return fmt.Errorf("diskcache: failed to flush page %d during eviction: %w", entry.pageIndex, err)
		}
	}

	c.lru[setIdx].Remove(back)
	delete(c.buckets[setIdx], entry.pageIndex)
	return nil
}

// Read fills buffer (which may span multiple pages and need not be page-aligned) with
// data starting at the given block.
func (c *Cache) Read(start common.LogicalBlock, buffer []byte) error {
	startByte := uint(start) * c.bytesPerBlock
	endByte := startByte + uint(len(buffer))
	pageBytes := c.pageSizeBytes()

	bufOffset := uint(0)
	for cursor := startByte; cursor < endByte; {
		pageIndex := cursor / pageBytes
		pageOffset := cursor % pageBytes
		chunk := pageBytes - pageOffset
		if remaining := endByte - cursor; chunk > remaining {
			chunk = remaining
		}

		entry, err := c.getPage(pageIndex)
		if err != nil {
			return err
		}
		copy(buffer[bufOffset:bufOffset+chunk], entry.data[pageOffset:pageOffset+chunk])

		cursor += chunk
		bufOffset += chunk
	}
	return nil
}

// Write stores buffer (which may span multiple pages and need not be page-aligned)
// starting at the given block, marking every touched page dirty. Partial-page writes
// first bring the page in via fetch (read-modify-write), so a short write never
// corrupts the untouched bytes of a page it shares with other data.
func (c *Cache) Write(start common.LogicalBlock, buffer []byte) error {
	startByte := uint(start) * c.bytesPerBlock
	endByte := startByte + uint(len(buffer))
	pageBytes := c.pageSizeBytes()

	bufOffset := uint(0)
	for cursor := startByte; cursor < endByte; {
		pageIndex := cursor / pageBytes
		pageOffset := cursor % pageBytes
		chunk := pageBytes - pageOffset
		if remaining := endByte - cursor; chunk > remaining {
			chunk = remaining
		}

		entry, err := c.getPage(pageIndex)
		if err != nil {
			return err
		}
		copy(entry.data[pageOffset:pageOffset+chunk], buffer[bufOffset:bufOffset+chunk])
		entry.dirty = true

		cursor += chunk
		bufOffset += chunk
	}
	return nil
}

// FlushAll writes back every dirty resident page across all sets, without evicting
// them. Volume calls this before clearing the dirty-volume flag.
func (c *Cache) FlushAll() error {
	for _, bucket := range c.buckets {
		for _, entry := range bucket {
			if !entry.dirty {
				continue
			}
			startBlock := common.LogicalBlock(entry.pageIndex * c.blocksPerPage)
			if err := c.flush(startBlock, entry.data); err != nil {
				return fmt.Errorf("diskcache: failed to flush page %d: %w", entry.pageIndex, err)
			}
			entry.dirty = false
		}
	}
	return nil
}

// BulkRead bypasses the cache for a read much larger than one page (e.g. streaming a
// large file sequentially), but still snoops: any page in the requested range that's
// currently resident and dirty is flushed first so the bypass read sees consistent
// data, mirroring the "bulk-bypass-with-snoop" behavior of the two-level cache this
// type models.
func (c *Cache) BulkRead(start common.LogicalBlock, buffer []byte, fallback FetchPageFunc) error {
	startByte := uint(start) * c.bytesPerBlock
	endByte := startByte + uint(len(buffer))
	pageBytes := c.pageSizeBytes()

	for pageIndex := startByte / pageBytes; pageIndex*pageBytes < endByte; pageIndex++ {
		setIdx := c.setOf(pageIndex)
		if entry, ok := c.buckets[setIdx][pageIndex]; ok && entry.dirty {
			startBlock := common.LogicalBlock(entry.pageIndex * c.blocksPerPage)
			if err := c.flush(startBlock, entry.data); err != nil {
				return err
			}
			entry.dirty = false
		}
	}

	return fallback(start, buffer)
}
