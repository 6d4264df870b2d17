package diskcache

import (
	"testing"

	"github.com/dargueta/gofat/drivers/common"
	"github.com/stretchr/testify/require"
)

// backingStore is a simple byte-slice-backed device used to exercise the cache's
// fetch/flush callbacks without a real disk image.
type backingStore struct {
	bytesPerBlock uint
	data          []byte
	fetchCount    int
	flushCount    int
}

func newBackingStore(bytesPerBlock, totalBlocks uint) *backingStore {
	return &backingStore{bytesPerBlock: bytesPerBlock, data: make([]byte, bytesPerBlock*totalBlocks)}
}

func (s *backingStore) fetch(start common.LogicalBlock, buffer []byte) error {
	s.fetchCount++
	offset := uint(start) * s.bytesPerBlock
	copy(buffer, s.data[offset:offset+uint(len(buffer))])
	return nil
}

func (s *backingStore) flush(start common.LogicalBlock, buffer []byte) error {
	s.flushCount++
	offset := uint(start) * s.bytesPerBlock
	copy(s.data[offset:offset+uint(len(buffer))], buffer)
	return nil
}

func TestCache_WriteThenReadReturnsSameBytes(t *testing.T) {
	store := newBackingStore(512, 64)
	cache := New(512, 1, 64, 4, 2, store.fetch, store.flush)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, cache.Write(3, payload))

	out := make([]byte, 512)
	require.NoError(t, cache.Read(3, out))
	require.Equal(t, payload, out)
}

func TestCache_PartialPageWriteDoesNotClobberRestOfPage(t *testing.T) {
	store := newBackingStore(16, 8)
	cache := New(16, 2, 8, 2, 2, store.fetch, store.flush) // page = 2 blocks = 32 bytes

	full := make([]byte, 32)
	for i := range full {
		full[i] = 0xAA
	}
	require.NoError(t, cache.Write(0, full))

	require.NoError(t, cache.Write(0, []byte{0x01, 0x02, 0x03, 0x04}))

	out := make([]byte, 32)
	require.NoError(t, cache.Read(0, out))
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, out[:4])
	for _, b := range out[4:] {
		require.Equal(t, byte(0xAA), b)
	}
}

func TestCache_EvictsLeastRecentlyUsedWayWithinASet(t *testing.T) {
	store := newBackingStore(8, 64)
	// 1 set, 2 ways: both page 0 and page 1 map to the same (only) set and compete
	// for its 2 resident slots.
	cache := New(8, 1, 64, 1, 2, store.fetch, store.flush)

	require.NoError(t, cache.Write(0, []byte{1, 1, 1, 1, 1, 1, 1, 1}))
	require.NoError(t, cache.Write(1, []byte{2, 2, 2, 2, 2, 2, 2, 2}))

	// Touch page 0 again so page 1 becomes the least-recently-used of the two.
	out := make([]byte, 8)
	require.NoError(t, cache.Read(0, out))

	flushesBefore := store.flushCount
	// A third distinct page forces an eviction; page 1 (LRU) should be the one
	// written back, not page 0.
	require.NoError(t, cache.Write(2, []byte{3, 3, 3, 3, 3, 3, 3, 3}))
	require.Greater(t, store.flushCount, flushesBefore)

	// Page 1's data must have survived the eviction via the backing store.
	require.NoError(t, cache.Read(1, out))
	require.Equal(t, []byte{2, 2, 2, 2, 2, 2, 2, 2}, out)
}

func TestCache_FlushAllWritesBackDirtyPagesWithoutEvicting(t *testing.T) {
	store := newBackingStore(8, 64)
	cache := New(8, 1, 64, 4, 4, store.fetch, store.flush)

	require.NoError(t, cache.Write(0, []byte{9, 9, 9, 9, 9, 9, 9, 9}))
	require.Equal(t, 0, store.flushCount)

	require.NoError(t, cache.FlushAll())
	require.Equal(t, 1, store.flushCount)

	require.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9}, store.data[:8])

	// A second FlushAll with nothing newly dirtied should be a no-op.
	require.NoError(t, cache.FlushAll())
	require.Equal(t, 1, store.flushCount)
}

func TestCache_BulkReadSnoopsDirtyResidentPageBeforeBypassing(t *testing.T) {
	store := newBackingStore(8, 64)
	cache := New(8, 1, 64, 4, 4, store.fetch, store.flush)

	require.NoError(t, cache.Write(0, []byte{7, 7, 7, 7, 7, 7, 7, 7}))
	require.Equal(t, 0, store.flushCount)

	out := make([]byte, 8)
	require.NoError(t, cache.BulkRead(0, out, store.fetch))

	require.Equal(t, 1, store.flushCount, "dirty page must be flushed before the bypass read")
	require.Equal(t, []byte{7, 7, 7, 7, 7, 7, 7, 7}, out)
}
