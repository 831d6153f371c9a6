package galaxy

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidRegion is returned for region profiles or tables that violate their bounds.
var ErrInvalidRegion = errors.New("invalid region profile")

// RegionProfile is the annulus and vertical band occupied by a named region.
type RegionProfile struct {
	Name      string  `json:"name" yaml:"name"`
	MinRadius float64 `json:"minRadius" yaml:"min_radius"`
	MaxRadius float64 `json:"maxRadius" yaml:"max_radius"`
	MinHeight float64 `json:"minHeight" yaml:"min_height"`
	MaxHeight float64 `json:"maxHeight" yaml:"max_height"`
}

// Validate checks that both ranges are non-empty and the annulus starts at or beyond the center.
func (p RegionProfile) Validate() error {
	if p.MinRadius < 0 {
		return fmt.Errorf("%w: %q: min radius %g is negative", ErrInvalidRegion, p.Name, p.MinRadius)
	}
	if !(p.MinRadius < p.MaxRadius) {
		return fmt.Errorf("%w: %q: radius range [%g, %g] is empty", ErrInvalidRegion, p.Name, p.MinRadius, p.MaxRadius)
	}
	if !(p.MinHeight < p.MaxHeight) {
		return fmt.Errorf("%w: %q: height range [%g, %g] is empty", ErrInvalidRegion, p.Name, p.MinHeight, p.MaxHeight)
	}
	return nil
}

// Contains reports whether c lies inside the region's annulus and height band.
func (p RegionProfile) Contains(c Coordinates) bool {
	r := c.DiskRadius()
	return r >= p.MinRadius && r <= p.MaxRadius && c.Y >= p.MinHeight && c.Y <= p.MaxHeight
}

func (p RegionProfile) scaled(f float64) RegionProfile {
	return RegionProfile{
		Name:      p.Name,
		MinRadius: p.MinRadius * f,
		MaxRadius: p.MaxRadius * f,
		MinHeight: p.MinHeight * f,
		MaxHeight: p.MaxHeight * f,
	}
}

// RegionTable is an immutable set of region profiles with a fallback for unknown names.
type RegionTable struct {
	profiles map[string]RegionProfile
	order    []string
	fallback RegionProfile
	radius   float64
	height   float64
}

// NewRegionTable validates the profiles and builds a table.
// The annuli may overlap but together must cover the disk from the center outwards.
func NewRegionTable(profiles []RegionProfile, fallback RegionProfile) (*RegionTable, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: table has no regions", ErrInvalidRegion)
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	t := &RegionTable{
		profiles: make(map[string]RegionProfile, len(profiles)),
		order:    make([]string, 0, len(profiles)),
		fallback: fallback,
	}
	for _, p := range profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: region without a name", ErrInvalidRegion)
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.profiles[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate region %q", ErrInvalidRegion, p.Name)
		}
		t.profiles[p.Name] = p
		t.order = append(t.order, p.Name)
		t.radius = math.Max(t.radius, p.MaxRadius)
		t.height = math.Max(t.height, math.Max(math.Abs(p.MinHeight), math.Abs(p.MaxHeight)))
	}
	if err := checkCoverage(profiles); err != nil {
		return nil, err
	}
	return t, nil
}

func checkCoverage(profiles []RegionProfile) error {
	spans := make([]RegionProfile, len(profiles))
	copy(spans, profiles)
	sort.Slice(spans, func(i, j int) bool { return spans[i].MinRadius < spans[j].MinRadius })

	reach := 0.0
	for _, p := range spans {
		if p.MinRadius > reach {
			return fmt.Errorf("%w: no region covers radii (%g, %g)", ErrInvalidRegion, reach, p.MinRadius)
		}
		reach = math.Max(reach, p.MaxRadius)
	}
	return nil
}

// Profile returns the named profile, or the fallback for unknown names.
func (t *RegionTable) Profile(name string) RegionProfile {
	p, _ := t.Lookup(name)
	return p
}

// Lookup is Profile but also reports whether the name was known.
func (t *RegionTable) Lookup(name string) (RegionProfile, bool) {
	if p, ok := t.profiles[name]; ok {
		return p, true
	}
	return t.fallback, false
}

// Profiles returns a copy of all named profiles.
func (t *RegionTable) Profiles() map[string]RegionProfile {
	out := make(map[string]RegionProfile, len(t.profiles))
	for k, v := range t.profiles {
		out[k] = v
	}
	return out
}

// Ordered returns the profiles in the order they were declared.
func (t *RegionTable) Ordered() []RegionProfile {
	out := make([]RegionProfile, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.profiles[name])
	}
	return out
}

// Fallback returns the profile used for unrecognized region names.
func (t *RegionTable) Fallback() RegionProfile {
	return t.fallback
}

// Extent returns the outermost radius and the largest absolute height of the table.
func (t *RegionTable) Extent() (radius, height float64) {
	return t.radius, t.height
}

// Scaled returns a copy of the table with every bound multiplied by f.
func (t *RegionTable) Scaled(f float64) (*RegionTable, error) {
	if !(f > 0) {
		return nil, fmt.Errorf("%w: scale %g must be positive", ErrInvalidRegion, f)
	}
	profiles := t.Ordered()
	for i := range profiles {
		profiles[i] = profiles[i].scaled(f)
	}
	return NewRegionTable(profiles, t.fallback.scaled(f))
}

// Default disk extent, in table units (1 unit ≈ 2 light-years).
const (
	DefaultDiskRadius = 25000
	DefaultDiskHeight = 1500
)

// LightYearsPerUnit converts table units to light-years.
const LightYearsPerUnit = 2

// DefaultRegions is the canonical region layout, center outwards.
var DefaultRegions = []RegionProfile{
	{Name: "Deep Core", MinRadius: 0, MaxRadius: 1250, MinHeight: -250, MaxHeight: 250},
	{Name: "Core Worlds", MinRadius: 1250, MaxRadius: 2500, MinHeight: -375, MaxHeight: 375},
	{Name: "Colonies", MinRadius: 2500, MaxRadius: 4375, MinHeight: -500, MaxHeight: 500},
	{Name: "Inner Rim", MinRadius: 4375, MaxRadius: 6250, MinHeight: -625, MaxHeight: 625},
	{Name: "Expansion Region", MinRadius: 6250, MaxRadius: 9375, MinHeight: -750, MaxHeight: 750},
	{Name: "Mid Rim", MinRadius: 9375, MaxRadius: 15000, MinHeight: -1000, MaxHeight: 1000},
	{Name: "Outer Rim Territories", MinRadius: 15000, MaxRadius: 22500, MinHeight: -1250, MaxHeight: 1250},
	{Name: "Outer Rim", MinRadius: 15000, MaxRadius: 22500, MinHeight: -1250, MaxHeight: 1250},
	{Name: "Wild Space", MinRadius: 22500, MaxRadius: 25000, MinHeight: -1500, MaxHeight: 1500},
	{Name: "Unknown Regions", MinRadius: 22500, MaxRadius: 25000, MinHeight: -1500, MaxHeight: 1500},
	{Name: "Hutt Space", MinRadius: 17500, MaxRadius: 23750, MinHeight: -1125, MaxHeight: 1125},
	{Name: "Corporate Sector", MinRadius: 10000, MaxRadius: 16250, MinHeight: -1063, MaxHeight: 1063},
}

// DefaultFallback is used for region names missing from the table.
var DefaultFallback = RegionProfile{Name: "Unknown", MinRadius: 12500, MaxRadius: 22500, MinHeight: -1250, MaxHeight: 1250}

// DefaultRegionTable builds the table from DefaultRegions and DefaultFallback.
func DefaultRegionTable() *RegionTable {
	t, err := NewRegionTable(DefaultRegions, DefaultFallback)
	if err != nil {
		panic(err)
	}
	return t
}
