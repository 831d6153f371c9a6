package galaxy

import (
	"math"
	"strings"
)

// Coordinates is a position in table units. X and Z span the disk plane; Y is the
// height above or below it.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DiskRadius is the distance from the galactic axis, sqrt(x²+z²).
func (c Coordinates) DiskRadius() float64 {
	return math.Hypot(c.X, c.Z)
}

// IsWithinGalacticBounds reports whether c lies inside the galaxy-wide disk cylinder.
func IsWithinGalacticBounds(c Coordinates, maxDiskRadius, maxDiskHeight float64) bool {
	return c.DiskRadius() <= maxDiskRadius && math.Abs(c.Y) <= maxDiskHeight
}

// Attributes are the optional per-system inputs that bias the height.
type Attributes struct {
	Population     *int64
	Classification string
}

var (
	centralizedTypes = []string{"capital", "trade hub", "industrial", "core world"}
	frontierTypes    = []string{"frontier", "mining", "agricultural", "backwater"}
)

const (
	spiralAmplitude  = 0.05
	spiralFrequency  = 6 * math.Pi
	populationPull   = 0.4
	populationDecade = 12
	centralizedScale = 0.6
	frontierScale    = 1.4
	jitterSpan       = 0.3 // ±15%
)

// Placement is a computed position together with the values it was derived from.
type Placement struct {
	GridCode     string        `json:"gridCode"`
	Profile      RegionProfile `json:"profile"`
	KnownRegion  bool          `json:"knownRegion"`
	Angle        float64       `json:"angle"`
	Radius       float64       `json:"radius"`
	BaseFraction float64       `json:"baseFraction"`
	HeightFactor float64       `json:"heightFactor"`
	Jitter       float64       `json:"jitter"`
	UnclampedY   float64       `json:"unclampedY"`
	Coordinates  Coordinates   `json:"coordinates"`
}

// Option configures a Transform.
type Option func(*Transform)

// WithSpiralClustering toggles the periodic radial perturbation that bunches systems
// into spiral-arm bands.
func WithSpiralClustering(on bool) Option {
	return func(t *Transform) { t.spiral = on }
}

// Transform converts grid codes to 3D coordinates against a fixed region table.
// It holds no mutable state and is safe for concurrent use.
type Transform struct {
	regions *RegionTable
	spiral  bool
}

// NewTransform creates a transform over regions.
func NewTransform(regions *RegionTable, opts ...Option) *Transform {
	t := &Transform{regions: regions, spiral: true}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Regions returns the region table the transform was built with.
func (t *Transform) Regions() *RegionTable {
	return t.regions
}

// Compute returns the 3D position of a system. The only error is ErrUnparseableGridCode.
func (t *Transform) Compute(gridCode, region, seedName string, attrs Attributes) (Coordinates, error) {
	p, err := t.Place(gridCode, region, seedName, attrs)
	if err != nil {
		return Coordinates{}, err
	}
	return p.Coordinates, nil
}

// Place is Compute but also returns the intermediate values.
func (t *Transform) Place(gridCode, region, seedName string, attrs Attributes) (Placement, error) {
	g, err := ParseGridCode(gridCode)
	if err != nil {
		return Placement{}, err
	}
	profile, known := t.regions.Lookup(region)

	angle := g.Angle()
	radius := t.Radius(g, profile)

	base := StringFraction(seedName + region)
	factor := HeightFactor(attrs)
	jitter := 1 + (StringFraction(seedName+"height")-0.5)*jitterSpan
	raw := lerp(profile.MinHeight, profile.MaxHeight, base) * factor * jitter
	height := clamp(raw, profile.MinHeight, profile.MaxHeight)

	return Placement{
		GridCode:     g.String(),
		Profile:      profile,
		KnownRegion:  known,
		Angle:        angle,
		Radius:       radius,
		BaseFraction: base,
		HeightFactor: factor,
		Jitter:       jitter,
		UnclampedY:   raw,
		Coordinates: Coordinates{
			X: math.Cos(angle) * radius,
			Y: height,
			Z: math.Sin(angle) * radius,
		},
	}, nil
}

// Radius maps the grid number into the profile's annulus.
func (t *Transform) Radius(g GridCode, profile RegionProfile) float64 {
	pos := g.Normalized()
	if t.spiral {
		pos = clamp01(pos + math.Sin(pos*spiralFrequency)*spiralAmplitude)
	}
	return lerp(profile.MinRadius, profile.MaxRadius, pos)
}

// HeightFactor is the multiplier applied to the base height: below 1 pulls toward the
// plane (large populations, centralized worlds), above 1 pushes away (frontier worlds).
func HeightFactor(attrs Attributes) float64 {
	factor := 1.0
	if attrs.Population != nil && *attrs.Population > 0 {
		pull := math.Min(math.Log10(float64(*attrs.Population))/populationDecade, 1)
		factor *= 1 - pull*populationPull
	}
	if c := strings.ToLower(attrs.Classification); c != "" {
		switch {
		case containsAny(c, centralizedTypes):
			factor *= centralizedScale
		case containsAny(c, frontierTypes):
			factor *= frontierScale
		}
	}
	return factor
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
