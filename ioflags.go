package gofat

// IOFlags mirrors the O_* constants accepted by [os.OpenFile], scoped down to
// the subset that makes sense for a FAT file (no O_APPEND-specific atomicity
// guarantees, no O_DIRECT, etc. -- see spec's open-mode table).
type IOFlags int

const (
	O_RDONLY IOFlags = 0
	O_WRONLY IOFlags = 1 << iota
	O_RDWR
	O_APPEND
	O_CREATE
	O_EXCL
	O_TRUNC
	O_SYNC
)

// RequiresWritePerm reports whether these flags need the mount to allow
// writes at all.
func (flags IOFlags) RequiresWritePerm() bool {
	return flags&(O_WRONLY|O_RDWR|O_CREATE|O_APPEND|O_TRUNC) != 0
}

// Create reports whether the file should be created if it doesn't exist.
func (flags IOFlags) Create() bool {
	return flags&O_CREATE != 0
}

// Truncate reports whether an existing file's contents should be discarded.
func (flags IOFlags) Truncate() bool {
	return flags&O_TRUNC != 0
}

// Exclusive reports whether opening an existing file should fail when
// combined with O_CREATE.
func (flags IOFlags) Exclusive() bool {
	return flags&O_EXCL != 0
}

// Writable reports whether the open mode permits writes at all.
func (flags IOFlags) Writable() bool {
	return flags&(O_WRONLY|O_RDWR) != 0
}

// Readable reports whether the open mode permits reads at all. O_WRONLY is
// the only mode that excludes reading.
func (flags IOFlags) Readable() bool {
	return flags&O_WRONLY == 0
}
