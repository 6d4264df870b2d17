package fat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortNameCandidate_NumericTail(t *testing.T) {
	require.Equal(t, "DOCUME~1.TXT", shortNameCandidate("document.txt", 1))
	require.Equal(t, "DOCUME~2.TXT", shortNameCandidate("document.txt", 2))
	require.Equal(t, "LONGNA~1.DAT", shortNameCandidate("longname with spaces.dat", 1))
}

func TestShortNameCandidate_NoExtension(t *testing.T) {
	require.Equal(t, "NOEXTE~1", shortNameCandidate("noextensionatall", 1))
}

func TestShortNameHashFallback_ProducesUniqueAndStableNames(t *testing.T) {
	name1 := shortNameHashFallback("collide with this one.txt")
	name2 := shortNameHashFallback("collide with this one.txt")
	require.Equal(t, name1, name2, "hashing the same long name twice must be deterministic")

	other := shortNameHashFallback("collide with a different one.txt")
	require.NotEqual(t, name1, other)
}

// TestShortNameSynthesis_FifthCollisionFallsBackToHash checks the format of the
// hashed fallback short name used in spec.md #8 scenario 5, once five numeric-tail
// candidates have collided: a truncated base plus a '~' and 4 hex digits, keeping
// the extension, at most 12 characters in all. It calls shortNameHashFallback
// directly rather than creating the colliding names.
func TestShortNameSynthesis_FifthCollisionFallsBackToHash(t *testing.T) {
	longName := "collide with a sixth variant.txt"
	fallback := shortNameHashFallback(longName)

	require.Contains(t, fallback, "~")
	require.True(t, len(fallback) <= 12)

	base, ext := splitBaseExtension(fallback)
	require.Equal(t, "TXT", ext)

	tildeIdx := -1
	for i, r := range base {
		if r == '~' {
			tildeIdx = i
			break
		}
	}
	require.GreaterOrEqual(t, tildeIdx, 0)
	hexPart := base[tildeIdx+1:]
	require.Len(t, hexPart, 4)
	for _, r := range hexPart {
		require.True(t, (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F'), "expected uppercase hex digit, got %q", r)
	}
}

func TestToRawShortName_FromRawShortName_RoundTrip(t *testing.T) {
	cases := []string{"A.TXT", "LONGNA~1.DAT", "NOEXT"}
	for _, short := range cases {
		name, ext := toRawShortName(short)
		require.Equal(t, short, fromRawShortName(name, ext))
	}
}

func TestSanitizeShortNameComponent_UppercasesAndStripsInvalidChars(t *testing.T) {
	require.Equal(t, "HELLO", sanitizeShortNameComponent("hello"))
	require.Equal(t, "A_B", sanitizeShortNameComponent(fmt.Sprintf("a%cb", '+')))
	require.Equal(t, "NOSPACE", sanitizeShortNameComponent("no space"))
}

func TestValidateLongName_RejectsReservedAndOverlongNames(t *testing.T) {
	require.Error(t, validateLongName(""))
	require.Error(t, validateLongName("."))
	require.Error(t, validateLongName(".."))

	tooLong := make([]byte, 256)
	for i := range tooLong {
		tooLong[i] = 'a'
	}
	require.Error(t, validateLongName(string(tooLong)))

	require.Nil(t, validateLongName("a normal file name.txt"))
}
