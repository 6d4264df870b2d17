package fat

import "time"

// fatFeatures implements gofat.FSFeatures for the FAT family: directories and the
// DOS-packed created/accessed/modified timestamps, but none of the Unix-only
// features (symlinks, hard links, permission bits, ownership) the format has no
// on-disk representation for.
type fatFeatures struct {
	volume *Volume
}

func (f fatFeatures) HasDirectories() bool      { return true }
func (f fatFeatures) HasSymbolicLinks() bool    { return false }
func (f fatFeatures) HasHardLinks() bool        { return false }
func (f fatFeatures) HasCreatedTime() bool      { return true }
func (f fatFeatures) HasAccessedTime() bool     { return true }
func (f fatFeatures) HasModifiedTime() bool     { return true }
func (f fatFeatures) HasChangedTime() bool      { return false }
func (f fatFeatures) HasDeletedTime() bool      { return true }
func (f fatFeatures) HasUnixPermissions() bool  { return false }
func (f fatFeatures) HasUserID() bool           { return false }
func (f fatFeatures) HasGroupID() bool          { return false }
func (f fatFeatures) HasUserPermissions() bool  { return false }
func (f fatFeatures) HasGroupPermissions() bool { return false }

// TimestampEpoch is 1980-01-01, the earliest date the packed FAT date field can
// represent (year 0 in the field's 7-bit year-since-1980 encoding).
func (f fatFeatures) TimestampEpoch() time.Time {
	return time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
}

func (f fatFeatures) DefaultNameEncoding() string { return "cp437" }

func (f fatFeatures) SupportsBootCode() bool { return true }

// MaxBootCodeSize is the space available between the end of the BPB and the
// 0x55AA signature at the end of the boot sector. FAT32's extended BPB fields eat
// into that space relative to FAT12/16.
func (f fatFeatures) MaxBootCodeSize() int {
	if f.volume != nil && f.volume.boot != nil && f.volume.boot.FATVersion == 32 {
		return 420
	}
	return 448
}

func (f fatFeatures) DefaultBlockSize() int {
	if f.volume != nil && f.volume.boot != nil {
		return int(f.volume.boot.BytesPerCluster)
	}
	return 0
}
