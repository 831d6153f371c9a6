// Package service provides business logic for the galaxy atlas server.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/cache"
	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/render"
	"github.com/galaxy-atlas/server/internal/store"
	"github.com/galaxy-atlas/server/pkg/colormap"
)

// ErrInvalidInput marks caller mistakes (bad query parameters or bodies).
var ErrInvalidInput = errors.New("invalid input")

// MaxPageSize bounds the systems listing.
const MaxPageSize = 500

var validate = validator.New()

// GalaxyServiceConfig contains galaxy service configuration.
type GalaxyServiceConfig struct {
	Store      *store.Store
	Transform  *galaxy.Transform
	Cache      *cache.Manager
	Renderer   *render.GalaxyRenderer
	DiskRadius float64
	DiskHeight float64
	Logger     *zap.Logger
}

// GalaxyService serves read-only views of the galaxy: the region legend, placement
// previews, system listings and the rendered map.
type GalaxyService struct {
	store      *store.Store
	transform  *galaxy.Transform
	cache      *cache.Manager
	renderer   *render.GalaxyRenderer
	diskRadius float64
	diskHeight float64
	log        *zap.Logger
}

// NewGalaxyService creates a new galaxy service.
func NewGalaxyService(cfg GalaxyServiceConfig) *GalaxyService {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r, h := cfg.DiskRadius, cfg.DiskHeight
	if r <= 0 || h <= 0 {
		r, h = cfg.Transform.Regions().Extent()
	}
	return &GalaxyService{
		store:      cfg.Store,
		transform:  cfg.Transform,
		cache:      cfg.Cache,
		renderer:   cfg.Renderer,
		diskRadius: r,
		diskHeight: h,
		log:        log.Named("galaxy"),
	}
}

// RegionInfo is one legend entry.
type RegionInfo struct {
	galaxy.RegionProfile
	Color   string `json:"color"`
	Systems int    `json:"systems"`
}

// RegionsResponse describes the region table and the disk.
type RegionsResponse struct {
	Regions           []RegionInfo         `json:"regions"`
	Fallback          galaxy.RegionProfile `json:"fallback"`
	DiskRadius        float64              `json:"diskRadius"`
	DiskHeight        float64              `json:"diskHeight"`
	LightYearsPerUnit float64              `json:"lightYearsPerUnit"`
}

// RegionsJSON returns the region legend with per-region system counts.
func (s *GalaxyService) RegionsJSON(ctx context.Context) ([]byte, error) {
	key := cache.QueryKey("regions")
	if data, ok := s.cache.GetQuery(key); ok {
		return data, nil
	}

	counts, err := s.store.CountByRegion(ctx)
	if err != nil {
		return nil, fmt.Errorf("count regions: %w", err)
	}
	table := s.transform.Regions()
	resp := RegionsResponse{
		Fallback:          table.Fallback(),
		DiskRadius:        s.diskRadius,
		DiskHeight:        s.diskHeight,
		LightYearsPerUnit: galaxy.LightYearsPerUnit,
	}
	for _, p := range table.Ordered() {
		resp.Regions = append(resp.Regions, RegionInfo{
			RegionProfile: p,
			Color:         colormap.Hex(s.renderer.RegionColor(p.Name)),
			Systems:       counts[p.Name],
		})
	}
	return s.storeQuery(key, resp)
}

// Region returns one named profile and whether it is part of the table.
func (s *GalaxyService) Region(name string) (galaxy.RegionProfile, bool) {
	return s.transform.Regions().Lookup(name)
}

// PreviewRequest asks where a system would be placed.
type PreviewRequest struct {
	GridCode       string `json:"gridCode" validate:"required"`
	Region         string `json:"region"`
	Name           string `json:"name" validate:"required"`
	Population     *int64 `json:"population,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// PreviewResponse is a placement plus its bounds check.
type PreviewResponse struct {
	galaxy.Placement
	WithinGalacticBounds bool `json:"withinGalacticBounds"`
}

// PreviewJSON computes a placement without touching the store. An unparseable grid code
// yields an error wrapping galaxy.ErrUnparseableGridCode.
func (s *GalaxyService) PreviewJSON(req PreviewRequest) ([]byte, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	pop := int64(-1)
	if req.Population != nil {
		pop = *req.Population
	}
	key := cache.QueryKey("preview", req.GridCode, req.Region, req.Name, pop, req.Classification)
	if data, ok := s.cache.GetQuery(key); ok {
		return data, nil
	}

	p, err := s.transform.Place(req.GridCode, req.Region, req.Name, galaxy.Attributes{
		Population:     req.Population,
		Classification: req.Classification,
	})
	if err != nil {
		return nil, err
	}
	return s.storeQuery(key, PreviewResponse{
		Placement:            p,
		WithinGalacticBounds: galaxy.IsWithinGalacticBounds(p.Coordinates, s.diskRadius, s.diskHeight),
	})
}

// SystemsPage is one page of the systems listing.
type SystemsPage struct {
	Systems []reconcile.PositionedRecord `json:"systems"`
	Total   int                          `json:"total"`
	Limit   int                          `json:"limit"`
	Offset  int                          `json:"offset"`
}

// SystemsJSON lists systems ordered by id.
func (s *GalaxyService) SystemsJSON(ctx context.Context, region string, limit, offset int) ([]byte, error) {
	if limit < 1 || limit > MaxPageSize {
		return nil, fmt.Errorf("%w: limit must be in 1..%d", ErrInvalidInput, MaxPageSize)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidInput)
	}
	key := cache.QueryKey("systems", region, limit, offset)
	if data, ok := s.cache.GetQuery(key); ok {
		return data, nil
	}

	systems, err := s.store.ListSystems(ctx, region, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list systems: %w", err)
	}
	total, err := s.store.CountSystems(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("count systems: %w", err)
	}
	return s.storeQuery(key, SystemsPage{Systems: systems, Total: total, Limit: limit, Offset: offset})
}

// System returns one system; a missing id wraps store.ErrNotFound.
func (s *GalaxyService) System(ctx context.Context, id string) (*reconcile.PositionedRecord, error) {
	return s.store.GetSystem(ctx, id)
}

// MapPNG renders every system with coordinates as a top-down PNG.
func (s *GalaxyService) MapPNG(ctx context.Context, size int, colorBy render.ColorBy, cmap string) ([]byte, error) {
	if size < 64 || size > 4096 {
		return nil, fmt.Errorf("%w: size must be in 64..4096", ErrInvalidInput)
	}
	if cmap != "" {
		if _, ok := colormap.Lookup(cmap); !ok {
			return nil, fmt.Errorf("%w: unknown colormap %q", ErrInvalidInput, cmap)
		}
	}
	key := cache.MapKey(size, string(colorBy), cmap, "")
	if data, ok := s.cache.GetMap(key); ok {
		return data, nil
	}

	const page = 1000
	var stars []render.Star
	for offset := 0; ; offset += page {
		recs, err := s.store.ListComputed(ctx, page, offset)
		if err != nil {
			return nil, fmt.Errorf("load systems: %w", err)
		}
		for _, rec := range recs {
			stars = append(stars, render.Star{Region: rec.Region, Coordinates: *rec.Coordinates})
		}
		if len(recs) < page {
			break
		}
	}

	data, err := s.renderer.Render(stars, render.Options{Size: size, ColorBy: colorBy, Colormap: cmap})
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetMap(key, data); err != nil {
		s.log.Warn("map not cached", zap.Int("size", size), zap.Error(err))
	}
	return data, nil
}

// Invalidate drops cached views after coordinates or systems change.
func (s *GalaxyService) Invalidate() {
	if err := s.cache.Invalidate(); err != nil {
		s.log.Warn("cache invalidation failed", zap.Error(err))
	}
}

func (s *GalaxyService) storeQuery(key string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s.cache.SetQuery(key, data)
	return data, nil
}
