package ot

import "unicode"

// Code points that extend the preceding grapheme cluster. An operation
// boundary landing on one of these would split a user-perceived character, so
// it is clamped left to the nearest safe position instead.

const (
	zeroWidthJoiner  = 0x200D
	variationSelFrom = 0xFE00
	variationSelTo   = 0xFE0F
)

// clampClusterBoundary moves pos left until it no longer splits a grapheme
// cluster. Interior document positions only; 0 and len(content) are always
// valid boundaries.
func clampClusterBoundary(content []rune, pos int) int {
	for pos > 0 && pos < len(content) && splitsCluster(content, pos) {
		pos--
	}
	return pos
}

// splitsCluster reports whether cutting before content[i] lands inside a
// multi-code-point grapheme cluster.
func splitsCluster(content []rune, i int) bool {
	r := content[i]
	if unicode.In(r, unicode.Mn, unicode.Mc, unicode.Me) {
		return true
	}
	if r == zeroWidthJoiner {
		return true
	}
	if r >= variationSelFrom && r <= variationSelTo {
		return true
	}
	// A ZWJ immediately before means this rune is joined to the previous one.
	return content[i-1] == zeroWidthJoiner
}
