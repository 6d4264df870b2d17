package fat

import (
	"fmt"
	"hash/crc32"
	"strings"
	"syscall"
	"unicode"
	"unicode/utf16"

	gofat "github.com/dargueta/gofat"
	"golang.org/x/text/encoding/charmap"
)

// oemTranscoder converts between Unicode and the OEM code page used for the legacy
// 8.3 name field. Code page 437 is the one virtually every FAT implementation defaults
// to absent an explicit OEM ID in the boot sector.
var oemTranscoder = charmap.CodePage437

// invalidShortNameChars are the characters the FAT spec forbids in an 8.3 name, beyond
// control characters and space.
const invalidShortNameChars = `"*+,./:;<=>?[\]|`

// validateLongName checks that name is usable as a long file name: nonempty, under 256
// UTF-16 code units, and free of path separators and control characters.
func validateLongName(name string) *gofat.DriverError {
	if name == "" || name == "." || name == ".." {
		return gofat.NewDriverErrorWithMessage(syscall.EINVAL, "name must not be empty, '.', or '..'")
	}
	if len(utf16.Encode([]rune(name))) > 255 {
		return gofat.ErrNameTooLong
	}
	for _, r := range name {
		if r == '/' || r == '\\' || r == 0 {
			return gofat.NewDriverErrorWithMessage(syscall.EINVAL, fmt.Sprintf("name %q contains a path separator or NUL", name))
		}
		if unicode.IsControl(r) {
			return gofat.NewDriverErrorWithMessage(syscall.EINVAL, fmt.Sprintf("name %q contains a control character", name))
		}
	}
	return nil
}

// splitBaseExtension splits a long name into its base and extension the way the short
// name synthesis algorithm requires: the extension is everything after the LAST dot, or
// empty if there's no dot (or the name starts with one, e.g. ".bashrc").
func splitBaseExtension(name string) (base, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 || name[0] == '.' {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

// sanitizeShortNameComponent replaces characters invalid in an 8.3 name (and anything
// outside printable ASCII) with '_', maps to uppercase, and removes embedded spaces and
// dots, mirroring what Windows does when deriving a short name from a long one.
func sanitizeShortNameComponent(component string) string {
	var b strings.Builder
	for _, r := range component {
		switch {
		case r == ' ', r == '.':
			continue
		case strings.ContainsRune(invalidShortNameChars, r):
			b.WriteByte('_')
		default:
			upper := unicode.ToUpper(r)
			if upper > 0x7E || upper < 0x20 {
				b.WriteByte('_')
			} else {
				b.WriteRune(upper)
			}
		}
	}
	return b.String()
}

// shortNameCandidate synthesizes the Nth (1-based) numeric-tail short name candidate for
// longName, e.g. tag==1 gives "DOCUME~1.TXT". chooseShortName tries tags 1 through 5
// and, if all of them collide, uses shortNameHashFallback instead.
func shortNameCandidate(longName string, tag int) string {
	base, ext := splitBaseExtension(longName)
	base = sanitizeShortNameComponent(base)
	ext = sanitizeShortNameComponent(ext)

	suffix := fmt.Sprintf("~%d", tag)
	maxBaseLen := 8 - len(suffix)
	if maxBaseLen < 1 {
		maxBaseLen = 1
	}
	if len(base) > maxBaseLen {
		base = base[:maxBaseLen]
	}
	if base == "" {
		base = "_"
	}

	short := base + suffix
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if ext != "" {
		short += "." + ext
	}
	return short
}

// shortNameHashFallback synthesizes a short name using the CRC32-based fallback scheme
// once the "~1".."~5" numeric tail candidates have all collided, per the algorithm used
// by Windows once a directory accumulates enough similarly-prefixed long names.
func shortNameHashFallback(longName string) string {
	base, ext := splitBaseExtension(longName)
	base = sanitizeShortNameComponent(base)
	ext = sanitizeShortNameComponent(ext)

	sum := crc32.ChecksumIEEE([]byte(longName))
	hashTag := fmt.Sprintf("%04X", sum&0xFFFF)

	maxBaseLen := 8 - (1 + len(hashTag))
	if maxBaseLen < 1 {
		maxBaseLen = 1
	}
	if len(base) > maxBaseLen {
		base = base[:maxBaseLen]
	}
	if base == "" {
		base = "_"
	}

	short := base + "~" + hashTag
	if len(ext) > 3 {
		ext = ext[:3]
	}
	if ext != "" {
		short += "." + ext
	}
	return short
}

// toRawShortName packs an 8.3 name string like "DOCUME~1.TXT" into the fixed 8+3 raw
// on-disk fields, space-padded.
func toRawShortName(shortName string) (name [8]byte, ext [3]byte) {
	base, extension := splitBaseExtension(shortName)
	for i := range name {
		name[i] = ' '
	}
	for i := range ext {
		ext[i] = ' '
	}
	copy(name[:], base)
	copy(ext[:], extension)
	return name, ext
}

// fromRawShortName reassembles the dotted 8.3 display form from the raw name/extension
// fields, trimming padding spaces.
func fromRawShortName(name [8]byte, ext [3]byte) string {
	trimmedName := strings.TrimRight(string(name[:]), " ")
	trimmedExt := strings.TrimRight(string(ext[:]), " ")
	if trimmedExt == "" {
		return trimmedName
	}
	return trimmedName + "." + trimmedExt
}

// encodeOEMBytes transcodes a short name component into the code page stored with the
// volume, falling back to '_' for characters CP437 cannot represent.
func encodeOEMBytes(s string) []byte {
	encoded, err := oemTranscoder.NewEncoder().Bytes([]byte(s))
	if err != nil {
		out := make([]byte, len(s))
		for i := range out {
			out[i] = '_'
		}
		return out
	}
	return encoded
}
