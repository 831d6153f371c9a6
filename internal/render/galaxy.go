// Package render draws top-down galaxy maps using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/pkg/colormap"
)

// ColorBy selects how stars are colored.
type ColorBy string

const (
	ColorByRegion ColorBy = "region"
	ColorByHeight ColorBy = "height"
)

// ParseColorBy accepts "" as region coloring.
func ParseColorBy(s string) (ColorBy, error) {
	switch ColorBy(s) {
	case "", ColorByRegion:
		return ColorByRegion, nil
	case ColorByHeight:
		return ColorByHeight, nil
	}
	return "", fmt.Errorf("unknown color mode %q", s)
}

// Config contains renderer configuration. DefaultColormap colors height maps.
type Config struct {
	MapSize         int
	DefaultColormap string
}

// Star is one plotted system.
type Star struct {
	Region      string
	Coordinates galaxy.Coordinates
}

// Options control a single render.
type Options struct {
	Size     int
	ColorBy  ColorBy
	Colormap string
}

var (
	background = color.RGBA{8, 10, 24, 255}
	ringColor  = color.RGBA{120, 130, 160, 90}
	edgeColor  = color.RGBA{200, 200, 220, 160}
)

// GalaxyRenderer renders the disk seen from above: X to the right, Z downwards.
type GalaxyRenderer struct {
	config     Config
	regions    *galaxy.RegionTable
	regionIdx  map[string]int
	bufferPool sync.Pool
}

// NewGalaxyRenderer creates a renderer for the given region table.
func NewGalaxyRenderer(regions *galaxy.RegionTable, cfg Config) *GalaxyRenderer {
	if cfg.MapSize <= 0 {
		cfg.MapSize = 1024
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "diverging"
	}
	idx := make(map[string]int)
	for i, p := range regions.Ordered() {
		idx[p.Name] = i
	}
	return &GalaxyRenderer{
		config:    cfg,
		regions:   regions,
		regionIdx: idx,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256*1024))
			},
		},
	}
}

// RegionColor is the legend color of a region; unknown names share the fallback color.
func (r *GalaxyRenderer) RegionColor(name string) color.Color {
	i, ok := r.regionIdx[name]
	if !ok {
		i = len(r.regionIdx)
	}
	return colormap.Categorical.AtIndex(i)
}

// Render draws stars in the order given and encodes the image as PNG.
func (r *GalaxyRenderer) Render(stars []Star, opts Options) ([]byte, error) {
	size := opts.Size
	if size <= 0 {
		size = r.config.MapSize
	}
	name := opts.Colormap
	if name == "" {
		name = r.config.DefaultColormap
	}
	cmap, ok := colormap.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown colormap %q", name)
	}

	dc := gg.NewContext(size, size)
	dc.SetColor(background)
	dc.Clear()

	diskRadius, diskHeight := r.regions.Extent()
	center := float64(size) / 2
	pad := float64(size) * 0.03
	scale := (center - pad) / diskRadius

	dc.SetLineWidth(1)
	for _, p := range r.regions.Ordered() {
		dc.SetColor(ringColor)
		dc.DrawCircle(center, center, p.MaxRadius*scale)
		dc.Stroke()
	}
	dc.SetColor(edgeColor)
	dc.DrawCircle(center, center, diskRadius*scale)
	dc.Stroke()

	dot := float64(size) / 512
	if dot < 1 {
		dot = 1
	}
	for _, s := range stars {
		c := s.Coordinates
		switch opts.ColorBy {
		case ColorByHeight:
			dc.SetColor(cmap.At(0.5 + c.Y/(2*diskHeight)))
		default:
			dc.SetColor(r.RegionColor(s.Region))
		}
		dc.DrawCircle(center+c.X*scale, center+c.Z*scale, dot)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *GalaxyRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy out; buf goes back to the pool.
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
