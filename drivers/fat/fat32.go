package fat

import (
	"encoding/binary"
	"io"
	"syscall"

	gofat "github.com/dargueta/gofat"
)

// fsInfoLeadSignature, fsInfoStructSignature, and fsInfoTrailSignature are the magic
// values the FAT32 FSInfo sector must contain for it to be trusted; if any of them
// don't match, the free-cluster count and next-free hint are presumed stale and must
// be recomputed by a full FAT scan.
const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
)

// fsInfoUnknownCount is the sentinel value FAT32 uses in FSI_Free_Count/FSI_Nxt_Free to
// mean "unknown, must be recomputed".
const fsInfoUnknownCount uint32 = 0xFFFFFFFF

// rawFSInfoSector is the on-disk layout of the FAT32 FSInfo sector (one logical sector,
// always sector 1 relative to the volume unless the boot sector says otherwise).
type rawFSInfoSector struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

// FSInfo is the parsed, validated form of a FAT32 FSInfo sector.
type FSInfo struct {
	FreeClusterCount uint32
	NextFreeCluster  uint32
	valid            bool
}

// NewFSInfoFromStream reads and validates one sector's worth of FSInfo data. If the
// signatures don't match, valid is false and the caller should treat FreeClusterCount/
// NextFreeCluster as unknown rather than erroring the whole mount out: a corrupted
// FSInfo sector is recoverable by rescanning the FAT, unlike a corrupted BPB.
func NewFSInfoFromStream(reader io.Reader) (*FSInfo, error) {
	var raw rawFSInfoSector
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return nil, gofat.NewDriverErrorWithMessage(syscall.EIO, err.Error())
	}

	info := &FSInfo{
		FreeClusterCount: raw.FreeCount,
		NextFreeCluster:  raw.NextFree,
		valid: raw.LeadSignature == fsInfoLeadSignature &&
			raw.StructSignature == fsInfoStructSignature &&
			raw.TrailSignature == fsInfoTrailSignature,
	}
	if !info.valid || info.FreeClusterCount == fsInfoUnknownCount {
		info.FreeClusterCount = fsInfoUnknownCount
	}
	if !info.valid || info.NextFreeCluster == fsInfoUnknownCount {
		info.NextFreeCluster = fsInfoUnknownCount
	}
	return info, nil
}

// Bytes serializes the FSInfo sector back to its 512-byte on-disk form, padded to a
// full sector's worth of reserved bytes.
func (info *FSInfo) Bytes() []byte {
	raw := rawFSInfoSector{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       info.FreeClusterCount,
		NextFree:        info.NextFreeCluster,
		TrailSignature:  fsInfoTrailSignature,
	}

	buffer := make([]byte, 0, 512)
	w := newByteAppender(&buffer)
	binary.Write(w, binary.LittleEndian, &raw)
	return buffer
}

// byteAppender lets binary.Write append directly into a pre-sized slice without an
// intermediate bytes.Buffer allocation.
type byteAppender struct {
	buf *[]byte
}

func newByteAppender(buf *[]byte) *byteAppender {
	return &byteAppender{buf: buf}
}

func (w *byteAppender) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
