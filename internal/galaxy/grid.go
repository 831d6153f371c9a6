// Package galaxy maps 2D galactic grid codes onto 3D positions in the galactic disk.
package galaxy

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseableGridCode is returned when a grid code does not match <Letter>[-]<Number>.
var ErrUnparseableGridCode = errors.New("unparseable grid code")

// Letters is the number of angular sectors (A-Z).
const Letters = 26

// MaxGridNumber is the largest radial sector number; larger numbers clamp to the outer edge.
const MaxGridNumber = 24

var gridPattern = regexp.MustCompile(`^([A-Za-z])-?([0-9]+)$`)

// GridCode is a parsed sector reference such as "L-9".
type GridCode struct {
	Letter byte // upper-case 'A'..'Z'
	Number int
}

// ParseGridCode parses tokens like "L-9", "L9" or "l9". Surrounding whitespace is rejected.
func ParseGridCode(s string) (GridCode, error) {
	m := gridPattern.FindStringSubmatch(s)
	if m == nil {
		return GridCode{}, fmt.Errorf("%w: %q", ErrUnparseableGridCode, s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return GridCode{}, fmt.Errorf("%w: %q: %v", ErrUnparseableGridCode, s, err)
	}
	return GridCode{Letter: strings.ToUpper(m[1])[0], Number: n}, nil
}

// Index returns the zero-based alphabet index of the letter (A=0 ... Z=25).
func (g GridCode) Index() int {
	return int(g.Letter - 'A')
}

// Angle returns the sector angle in radians, in [0, 2π).
// The alphabet span is 26 so that Z stops one sector short of wrapping to A.
func (g GridCode) Angle() float64 {
	return float64(g.Index()) / Letters * 2 * math.Pi
}

// Normalized maps the grid number from [1, 24] to [0, 1], clamped.
func (g GridCode) Normalized() float64 {
	return clamp01(float64(g.Number-1) / (MaxGridNumber - 1))
}

// String returns the canonical "L-9" form.
func (g GridCode) String() string {
	return fmt.Sprintf("%c-%d", g.Letter, g.Number)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func lerp(lo, hi, t float64) float64 {
	return lo + (hi-lo)*t
}
