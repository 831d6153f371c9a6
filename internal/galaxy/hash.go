package galaxy

import (
	"math"
	"unicode/utf16"
)

// StringHash is the 31-multiplier string hash over UTF-16 code units, folded to 32 bits
// and returned as an absolute value. It matches the hash used by the web client, so
// positions computed here and in the browser agree.
func StringHash(s string) uint32 {
	var h int32
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			h = h*31 + int32(hi)
			h = h*31 + int32(lo)
			continue
		}
		h = h*31 + int32(r)
	}
	if h < 0 {
		// -MinInt32 does not fit in int32 but does in uint32.
		return uint32(-int64(h))
	}
	return uint32(h)
}

// SeededFraction rescales a seed to [0, 1) via the fractional part of sin(seed)·10000.
func SeededFraction(seed uint32) float64 {
	x := math.Sin(float64(seed)) * 10000
	f := x - math.Floor(x)
	if f >= 1 {
		// tiny negative x rounds up to exactly 1
		return 0
	}
	return f
}

// StringFraction is SeededFraction(StringHash(s)).
func StringFraction(s string) float64 {
	return SeededFraction(StringHash(s))
}
