// Package colormap provides the color scales used by the galaxy map.
package colormap

import (
	"fmt"
	"image/color"
	"math"
	"sort"
)

// Colormap maps a normalized value in [0, 1] to a color.
type Colormap interface {
	At(t float64) color.Color
}

// Gradient interpolates linearly between evenly spaced stops.
type Gradient []color.RGBA

// At returns the color at t, clamped to the end stops.
func (g Gradient) At(t float64) color.Color {
	last := len(g) - 1
	pos := math.Max(0, math.Min(1, t)) * float64(last)
	i := int(pos)
	if i >= last {
		return g[last]
	}
	return mix(g[i], g[i+1], pos-float64(i))
}

func mix(a, b color.RGBA, t float64) color.RGBA {
	ch := func(x, y uint8) uint8 {
		return uint8(float64(x) + t*(float64(y)-float64(x)))
	}
	return color.RGBA{R: ch(a.R, b.R), G: ch(a.G, b.G), B: ch(a.B, b.B), A: 255}
}

// Palette is a fixed list of distinct colors indexed by category.
type Palette []color.RGBA

// AtIndex returns the color of category i, wrapping past the end.
func (p Palette) AtIndex(i int) color.Color {
	return p[i%len(p)]
}

// Hex renders c as #rrggbb.
func Hex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}

// Diverging runs blue through near-white to red; 0.5 is the galactic plane.
var Diverging = Gradient{
	{5, 48, 97, 255},
	{33, 102, 172, 255},
	{67, 147, 195, 255},
	{146, 197, 222, 255},
	{247, 247, 247, 255},
	{244, 165, 130, 255},
	{214, 96, 77, 255},
	{178, 24, 43, 255},
	{103, 0, 31, 255},
}

// Viridis is a perceptually uniform sequential scale.
var Viridis = Gradient{
	{68, 1, 84, 255},
	{59, 82, 139, 255},
	{33, 145, 140, 255},
	{94, 201, 98, 255},
	{253, 231, 37, 255},
}

// Categorical colors region legends, in region table order.
var Categorical = Palette{
	{31, 119, 180, 255}, {255, 127, 14, 255}, {44, 160, 44, 255}, {214, 39, 40, 255},
	{148, 103, 189, 255}, {140, 86, 75, 255}, {227, 119, 194, 255}, {127, 127, 127, 255},
	{188, 189, 34, 255}, {23, 190, 207, 255}, {174, 199, 232, 255}, {255, 187, 120, 255},
	{152, 223, 138, 255}, {255, 152, 150, 255}, {197, 176, 213, 255}, {196, 156, 148, 255},
	{247, 182, 210, 255}, {199, 199, 199, 255}, {219, 219, 141, 255}, {158, 218, 229, 255},
}

var named = map[string]Colormap{
	"diverging": Diverging,
	"viridis":   Viridis,
}

// Lookup returns the height scale registered under name.
func Lookup(name string) (Colormap, bool) {
	c, ok := named[name]
	return c, ok
}

// Names lists the registered scales in sorted order.
func Names() []string {
	names := make([]string, 0, len(named))
	for n := range named {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
