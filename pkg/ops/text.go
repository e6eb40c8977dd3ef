package ops

import (
	"slices"
	"unicode/utf16"
)

// codeUnits returns the UTF-16 encoding of s. Invalid UTF-8 bytes become U+FFFD.
func codeUnits(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// Reverse returns s with its UTF-16 code units in reverse order.
//
// Reversal is unit by unit, not grapheme aware: combining marks detach from
// their base and surrogate pairs are split. A split surrogate half cannot be
// carried in a Go string and decodes to U+FFFD.
func Reverse(s string) string {
	units := codeUnits(s)
	slices.Reverse(units)
	return string(utf16.Decode(units))
}

// ValidAnagram reports whether a and b contain the same multiset of UTF-16
// code units. The comparison is case and whitespace sensitive.
func ValidAnagram(a, b string) bool {
	ua, ub := codeUnits(a), codeUnits(b)
	if len(ua) != len(ub) {
		return false
	}
	slices.Sort(ua)
	slices.Sort(ub)
	return slices.Equal(ua, ub)
}

// CompareCodeUnits orders a and b by their UTF-16 code unit sequences. It
// differs from Go's byte-wise string comparison only between supplementary
// characters and code points in U+E000..U+FFFF.
func CompareCodeUnits(a, b string) int {
	return slices.Compare(codeUnits(a), codeUnits(b))
}

// Sort sorts strs in place in ascending code unit order and returns the same
// slice. Equal elements keep their relative order. Uppercase ASCII sorts
// before lowercase.
func Sort(strs []string) []string {
	slices.SortStableFunc(strs, CompareCodeUnits)
	return strs
}
