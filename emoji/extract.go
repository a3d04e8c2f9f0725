// Package emoji extracts emoji grapheme clusters from post text.
package emoji

import (
	"unicode"

	"github.com/rivo/uniseg"
)

// presentation covers code points with default emoji presentation. Characters
// outside this set still count when forced into emoji presentation with a
// VS16 selector or a keycap combiner.
var presentation = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x231a, Hi: 0x231b, Stride: 1}, // watch, hourglass
		{Lo: 0x23e9, Hi: 0x23fa, Stride: 1}, // av controls
		{Lo: 0x25fd, Hi: 0x25fe, Stride: 1},
		{Lo: 0x2614, Hi: 0x2615, Stride: 1},
		{Lo: 0x2648, Hi: 0x2653, Stride: 1}, // zodiac
		{Lo: 0x267f, Hi: 0x267f, Stride: 1},
		{Lo: 0x2693, Hi: 0x2693, Stride: 1},
		{Lo: 0x26a1, Hi: 0x26a1, Stride: 1},
		{Lo: 0x26aa, Hi: 0x26ab, Stride: 1},
		{Lo: 0x26bd, Hi: 0x26be, Stride: 1},
		{Lo: 0x26c4, Hi: 0x26c5, Stride: 1},
		{Lo: 0x26ce, Hi: 0x26ce, Stride: 1},
		{Lo: 0x26d4, Hi: 0x26d4, Stride: 1},
		{Lo: 0x26ea, Hi: 0x26ea, Stride: 1},
		{Lo: 0x26f2, Hi: 0x26f3, Stride: 1},
		{Lo: 0x26f5, Hi: 0x26f5, Stride: 1},
		{Lo: 0x26fa, Hi: 0x26fa, Stride: 1},
		{Lo: 0x26fd, Hi: 0x26fd, Stride: 1},
		{Lo: 0x2705, Hi: 0x2705, Stride: 1},
		{Lo: 0x270a, Hi: 0x270b, Stride: 1},
		{Lo: 0x2728, Hi: 0x2728, Stride: 1},
		{Lo: 0x274c, Hi: 0x274c, Stride: 1},
		{Lo: 0x274e, Hi: 0x274e, Stride: 1},
		{Lo: 0x2753, Hi: 0x2755, Stride: 1},
		{Lo: 0x2757, Hi: 0x2757, Stride: 1},
		{Lo: 0x2795, Hi: 0x2797, Stride: 1},
		{Lo: 0x27b0, Hi: 0x27b0, Stride: 1},
		{Lo: 0x27bf, Hi: 0x27bf, Stride: 1},
		{Lo: 0x2b1b, Hi: 0x2b1c, Stride: 1},
		{Lo: 0x2b50, Hi: 0x2b50, Stride: 1},
		{Lo: 0x2b55, Hi: 0x2b55, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1f004, Hi: 0x1f004, Stride: 1}, // mahjong red dragon
		{Lo: 0x1f0cf, Hi: 0x1f0cf, Stride: 1}, // joker
		{Lo: 0x1f18e, Hi: 0x1f18e, Stride: 1},
		{Lo: 0x1f191, Hi: 0x1f19a, Stride: 1},
		{Lo: 0x1f1e6, Hi: 0x1f1ff, Stride: 1}, // regional indicators
		{Lo: 0x1f201, Hi: 0x1f202, Stride: 1},
		{Lo: 0x1f21a, Hi: 0x1f21a, Stride: 1},
		{Lo: 0x1f22f, Hi: 0x1f22f, Stride: 1},
		{Lo: 0x1f232, Hi: 0x1f23a, Stride: 1},
		{Lo: 0x1f250, Hi: 0x1f251, Stride: 1},
		{Lo: 0x1f300, Hi: 0x1f5ff, Stride: 1}, // symbols & pictographs
		{Lo: 0x1f600, Hi: 0x1f64f, Stride: 1}, // emoticons
		{Lo: 0x1f680, Hi: 0x1f6ff, Stride: 1}, // transport & map
		{Lo: 0x1f7e0, Hi: 0x1f7eb, Stride: 1}, // colored shapes
		{Lo: 0x1f90c, Hi: 0x1f9ff, Stride: 1}, // supplemental pictographs
		{Lo: 0x1fa70, Hi: 0x1faff, Stride: 1}, // extended pictographs
	},
}

const (
	variationSelector16 = 0xfe0f
	combiningKeycap     = 0x20e3
)

// Extract returns the emoji grapheme clusters in text, in order of
// appearance, duplicates included. Text is segmented into grapheme clusters
// first so multi-code-point emoji (ZWJ sequences, flags, skin tones, keycaps)
// come back as single entries. Empty input yields nil. Extract is pure and
// safe for concurrent use.
func Extract(text string) []string {
	if text == "" {
		return nil
	}

	var out []string
	state := -1
	remaining := text
	for len(remaining) > 0 {
		var cluster string
		cluster, remaining, _, state = uniseg.FirstGraphemeClusterInString(remaining, state)
		if isEmojiCluster(cluster) {
			out = append(out, cluster)
		}
	}
	return out
}

// isEmojiCluster reports whether a single grapheme cluster renders as emoji.
func isEmojiCluster(cluster string) bool {
	for _, r := range cluster {
		if unicode.In(r, presentation) {
			return true
		}
		// Text-default symbols promoted to emoji presentation.
		if r == variationSelector16 || r == combiningKeycap {
			return true
		}
	}
	return false
}
