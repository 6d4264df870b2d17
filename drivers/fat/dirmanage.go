package fat

import (
	"strings"
	"syscall"
	"time"
	"unicode/utf16"

	gofat "github.com/dargueta/gofat"
	"golang.org/x/exp/slices"
)

// directoryManager resolves paths, looks up and mutates directory entries, and keeps
// the volume-wide directory cache coherent. It sits between Volume (which only knows
// about clusters and the FAT) and openfile.go/fileapi.go (which only know about paths
// and file handles).
type directoryManager struct {
	volume *Volume
}

func newDirectoryManager(volume *Volume) *directoryManager {
	return &directoryManager{volume: volume}
}

// listEntries returns every live entry in dir, using the volume's directory cache when
// possible. Deleted slots are skipped by the scan and do not appear in the listing;
// findFreeRun treats any slot not covered by a listed entry as free.
func (dm *directoryManager) listEntries(dir *Dirent) (*cachedDirectory, error) {
	if cached := dm.volume.dirCache.Get(dir.FirstCluster); cached != nil {
		return cached, nil
	}

	var entries []Dirent
	var err error
	if dir.FirstCluster == 0 && dm.volume.boot.FATVersion != 32 {
		entries, err = dm.readFixedRootDirectory()
	} else {
		entries, err = dm.volume.fatDriver.ReadDirFromDirent(dir)
	}
	if err != nil {
		return nil, err
	}

	cached := newCachedDirectory(dir.FirstCluster, entries)
	dm.volume.dirCache.Put(cached)
	return cached, nil
}

// readFixedRootDirectory reads the FAT12/16 root directory, which lives in a
// fixed-size region immediately before the data area rather than in a cluster chain.
func (dm *directoryManager) readFixedRootDirectory() ([]Dirent, error) {
	boot := dm.volume.boot
	rootStart := boot.FirstDataSector - SectorID(boot.RootDirSectors)

	data, err := dm.volume.fatDriver.readAbsoluteSectors(rootStart, boot.RootDirSectors)
	if err != nil {
		return nil, err
	}

	// Reuse clusterToDirentSlice's LFN-aware scan by presenting the whole root region
	// as if it were one oversized "cluster".
	saved := boot.DirentsPerCluster
	boot.DirentsPerCluster = len(data) / DirentSize
	defer func() { boot.DirentsPerCluster = saved }()

	return dm.volume.fatDriver.clusterToDirentSlice(data)
}

// lookup finds the entry named `name` (case-insensitively, matching either its long or
// short name) directly inside dir.
func (dm *directoryManager) lookup(dir *Dirent, name string) (*Dirent, error) {
	cached, err := dm.listEntries(dir)
	if err != nil {
		return nil, err
	}

	upper := strings.ToUpper(name)
	for i := range cached.entries {
		entry := &cached.entries[i]
		if entry.IsDeleted() {
			continue
		}
		if strings.ToUpper(entry.Name()) == upper || strings.ToUpper(entry.ShortName()) == upper {
			return entry, nil
		}
	}
	return nil, gofat.ErrNotExist
}

// resolvePath walks a POSIX-style ("/"-separated) absolute or relative path, starting
// from `from`, through successive lookups. An empty path resolves to `from` itself.
func (dm *directoryManager) resolvePath(from *Dirent, path string) (*Dirent, error) {
	current := from
	for _, component := range strings.Split(path, "/") {
		if component == "" || component == "." {
			continue
		}
		if component == ".." {
			// Non-root FAT directories carry a ".." entry pointing at the parent, so
			// this is just another lookup. The root directory has no ".." entry, so
			// ".." from the root fails with ErrNotExist.
			next, err := dm.lookup(current, "..")
			if err != nil {
				return nil, err
			}
			current = next
			continue
		}

		next, err := dm.lookup(current, component)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// slotsNeeded returns how many consecutive 32-byte slots an entry with this name needs:
// one for the short entry, plus one LFN slot per 13 UTF-16 code units if it needs a long
// name at all.
func slotsNeeded(name, shortName string) int {
	if !needsLongName(name, shortName) {
		return 1
	}
	units := len(utf16.Encode([]rune(name)))
	return 1 + (units+12)/13
}

// chooseShortName synthesizes a short name for `name` that doesn't collide with any
// existing (non-deleted) short name in dir.
func (dm *directoryManager) chooseShortName(cached *cachedDirectory, name string) string {
	base, _ := splitBaseExtension(name)
	simple := sanitizeShortNameComponent(base) == base && len(name) <= 12 && !strings.Contains(name, " ")
	if simple {
		candidate := strings.ToUpper(name)
		if len(cached.byShortName.lookup(candidate)) == 0 {
			return candidate
		}
	}

	for tag := 1; tag <= 5; tag++ {
		candidate := shortNameCandidate(name, tag)
		if len(cached.byShortName.lookup(candidate)) == 0 {
			return candidate
		}
	}

	// Fall through to the CRC32 hash-tag scheme; collisions here are astronomically
	// unlikely so a single attempt is sufficient.
	return shortNameHashFallback(name)
}

// insertEntry allocates (reusing a tombstone run via first-fit where possible) and
// writes the directory slots for a new entry named `name` with the given attributes,
// first cluster, and size, then invalidates the cached listing for dir so the next
// lookup sees it.
func (dm *directoryManager) insertEntry(
	dir *Dirent, name string, attrs uint8, firstCluster ClusterID, size uint32,
) (*Dirent, error) {
	if err := validateLongName(name); err != nil {
		return nil, err
	}

	cached, err := dm.listEntries(dir)
	if err != nil {
		return nil, err
	}
	if _, err := dm.lookup(dir, name); err == nil {
		return nil, gofat.ErrExists
	}

	shortName := dm.chooseShortName(cached, name)
	needed := slotsNeeded(name, shortName)

	slotOffset, err := dm.findFreeRun(dir, cached, needed)
	if err != nil {
		return nil, err
	}

	rawName, rawExt := toRawShortName(shortName)
	checksum := shortNameChecksum(func() [11]byte {
		var b [11]byte
		copy(b[:8], rawName[:])
		copy(b[8:], rawExt[:])
		return b
	}())

	var slotBytes []byte
	if needsLongName(name, shortName) {
		for _, slot := range buildLFNSlots(name, checksum) {
			packed, err := packLFNSlot(slot)
			if err != nil {
				return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
			}
			slotBytes = append(slotBytes, packed...)
		}
	}
	slotBytes = append(slotBytes, packShortDirent(rawName, rawExt, attrs, firstCluster, size, time.Now())...)

	if err := dm.writeSlotsAt(dir, slotOffset, slotBytes); err != nil {
		return nil, err
	}

	dm.volume.dirCache.Invalidate(dir.FirstCluster)

	entry := Dirent{
		name:           name,
		shortName:      shortName,
		AttributeFlags: int(attrs),
		FirstCluster:   firstCluster,
		size:           int64(size),
		mode:           AttrFlagsToFileMode(attrs),
		slotOffset:     slotOffset + int64((needed-1)*DirentSize),
		lfnSlotCount:   needed - 1,
	}
	return &entry, nil
}

// findFreeRun locates `needed` consecutive free/tombstone slots in dir, growing the
// directory by one cluster if no run of that size exists yet (first-fit: the earliest
// sufficiently large run wins, not the smallest).
func (dm *directoryManager) findFreeRun(dir *Dirent, cached *cachedDirectory, needed int) (int64, error) {
	direntsPerCluster := dm.volume.boot.DirentsPerCluster
	totalSlots := 0
	if dir.FirstCluster == 0 && dm.volume.boot.FATVersion != 32 {
		totalSlots = int(dm.volume.boot.RootEntryCount)
	} else {
		chain, err := dm.volume.fatDriver.listClusters(dir.FirstCluster)
		if err != nil {
			return 0, err
		}
		totalSlots = len(chain) * direntsPerCluster
	}

	occupied := make([]bool, totalSlots)
	for _, entry := range cached.entries {
		if entry.IsDeleted() {
			continue
		}
		start := int(entry.slotOffset) / DirentSize
		span := entry.lfnSlotCount + 1
		for i := 0; i < span && start+i < totalSlots; i++ {
			occupied[start+i] = true
		}
	}

	run := 0
	for i := 0; i < totalSlots; i++ {
		if !occupied[i] {
			run++
			if run >= needed {
				return int64((i - needed + 1) * DirentSize), nil
			}
		} else {
			run = 0
		}
	}

	// No run large enough: grow the directory by one cluster (not supported for the
	// FAT12/16 fixed-size root, which is full).
	if dir.FirstCluster == 0 && dm.volume.boot.FATVersion != 32 {
		return 0, gofat.ErrNoSpaceLeft
	}

	newClusters, err := dm.volume.fat.AllocateChain(1)
	if err != nil {
		return 0, err
	}
	lastCluster, err := dm.lastClusterInChain(dir.FirstCluster)
	if err != nil {
		return 0, err
	}
	if err := dm.volume.fat.SetClusterAtIndex(uint(lastCluster), newClusters[0]); err != nil {
		return 0, err
	}

	zeroed := make([]byte, dm.volume.boot.BytesPerCluster)
	if err := dm.volume.fatDriver.writeCluster(newClusters[0], zeroed); err != nil {
		return 0, err
	}

	return int64(totalSlots * DirentSize), nil
}

func (dm *directoryManager) lastClusterInChain(first ClusterID) (ClusterID, error) {
	chain, err := dm.volume.fatDriver.listClusters(first)
	if err != nil {
		return 0, err
	}
	if len(chain) == 0 {
		return first, nil
	}
	return chain[len(chain)-1], nil
}

// writeSlotsAt writes slotBytes (a whole number of 32-byte slots) starting at byte
// offset slotOffset within dir's data, one cluster (or, for the fixed root, one
// contiguous region) at a time.
func (dm *directoryManager) writeSlotsAt(dir *Dirent, slotOffset int64, slotBytes []byte) error {
	if dir.FirstCluster == 0 && dm.volume.boot.FATVersion != 32 {
		boot := dm.volume.boot
		rootStart := boot.FirstDataSector - SectorID(boot.RootDirSectors)
		data, err := dm.volume.fatDriver.readAbsoluteSectors(rootStart, boot.RootDirSectors)
		if err != nil {
			return err
		}
		copy(data[slotOffset:], slotBytes)
		return dm.volume.fatDriver.writeAbsoluteSectors(rootStart, data)
	}

	bytesPerCluster := int64(dm.volume.boot.BytesPerCluster)
	clusterIndex := uint(slotOffset / bytesPerCluster)
	clusterOffset := slotOffset % bytesPerCluster

	clusterData, err := dm.volume.fatDriver.readClusterOfDirent(dir, clusterIndex)
	if err != nil {
		return err
	}
	copy(clusterData[clusterOffset:], slotBytes)
	return dm.volume.fatDriver.writeClusterOfDirent(dir, clusterIndex, clusterData)
}

// packShortDirent serializes the 8.3 directory entry fields this package controls
// directly, stamping created/modified/accessed with `now`.
func packShortDirent(name [8]byte, ext [3]byte, attrs uint8, firstCluster ClusterID, size uint32, now time.Time) []byte {
	raw := make([]byte, DirentSize)
	copy(raw[0:8], name[:])
	copy(raw[8:11], ext[:])
	raw[11] = attrs

	// Field offsets follow RawDirent's on-disk layout: 14-15 CreatedTime, 16-17
	// CreatedDate, 18-19 LastAccessedDate, 20-21 FirstClusterHigh, 22-23
	// LastModifiedTime, 24-25 LastModifiedDate, 26-27 FirstClusterLow.
	fatDate, fatTime := toFATDateTime(now)
	raw[14] = byte(fatTime)
	raw[15] = byte(fatTime >> 8)
	raw[16] = byte(fatDate)
	raw[17] = byte(fatDate >> 8)
	raw[18] = byte(fatDate) // LastAccessedDate shares the creation date
	raw[19] = byte(fatDate >> 8)

	raw[20] = byte(firstCluster >> 16)
	raw[21] = byte(firstCluster >> 24)

	raw[22] = byte(fatTime)
	raw[23] = byte(fatTime >> 8)
	raw[24] = byte(fatDate)
	raw[25] = byte(fatDate >> 8)

	raw[26] = byte(firstCluster)
	raw[27] = byte(firstCluster >> 8)
	raw[28] = byte(size)
	raw[29] = byte(size >> 8)
	raw[30] = byte(size >> 16)
	raw[31] = byte(size >> 24)
	return raw
}

// toFATDateTime converts a time.Time into the packed 16-bit FAT date and time fields.
func toFATDateTime(t time.Time) (date uint16, timeVal uint16) {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	date = uint16(year<<9) | uint16(t.Month())<<5 | uint16(t.Day())
	timeVal = uint16(t.Hour())<<11 | uint16(t.Minute())<<5 | uint16(t.Second()/2)
	return date, timeVal
}

// updateEntry rewrites the mutable fields of an already-written short entry (its
// attributes, first cluster, and size) in place, without touching its name, long-name
// chain, or slot position. The whole 8.3 slot is repacked, so its created, accessed and
// modified timestamps are also restamped with the current time. Used by openfile.go
// after a resize or attribute change.
func (dm *directoryManager) updateEntry(parent *Dirent, entry *Dirent, attrs uint8, firstCluster ClusterID, size uint32) error {
	rawName, rawExt := toRawShortName(entry.shortName)
	slotBytes := packShortDirent(rawName, rawExt, attrs, firstCluster, size, time.Now())
	if err := dm.writeSlotsAt(parent, entry.slotOffset, slotBytes); err != nil {
		return err
	}

	entry.AttributeFlags = int(attrs)
	entry.FirstCluster = firstCluster
	entry.size = int64(size)
	entry.mode = AttrFlagsToFileMode(attrs)
	dm.volume.dirCache.Invalidate(parent.FirstCluster)
	return nil
}

// removeEntry marks the short entry (and any preceding LFN chain) for `name` as
// deleted, frees its cluster chain, and invalidates the cached listing.
func (dm *directoryManager) removeEntry(dir *Dirent, name string) error {
	entry, err := dm.lookup(dir, name)
	if err != nil {
		return err
	}

	if entry.IsDir() {
		children, err := dm.listEntries(entry)
		if err != nil {
			return err
		}
		for _, child := range children.entries {
			if child.IsDeleted() {
				continue
			}
			if child.Name() == "." || child.Name() == ".." {
				continue
			}
			return gofat.ErrDirectoryNotEmpty
		}
	}

	span := entry.lfnSlotCount + 1
	firstSlot := entry.slotOffset - int64(entry.lfnSlotCount*DirentSize)
	tombstones := make([]byte, span*DirentSize)
	for i := 0; i < span; i++ {
		tombstones[i*DirentSize] = 0xE5
	}
	if err := dm.writeSlotsAt(dir, firstSlot, tombstones); err != nil {
		return err
	}

	if entry.FirstCluster != 0 {
		if err := dm.volume.fat.FreeChain(entry.FirstCluster); err != nil {
			return err
		}
	}

	dm.volume.dirCache.Invalidate(dir.FirstCluster)
	return nil
}

// sortedNames returns the non-deleted, non-dot entry names in dir in a stable order,
// convenient for ObjectHandle.ListDir implementations.
func (dm *directoryManager) sortedNames(dir *Dirent) ([]string, error) {
	cached, err := dm.listEntries(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cached.entries))
	for _, entry := range cached.entries {
		if entry.IsDeleted() || entry.Name() == "." || entry.Name() == ".." {
			continue
		}
		names = append(names, entry.Name())
	}
	slices.Sort(names)
	return names, nil
}
