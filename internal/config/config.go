// Package config handles configuration loading for the galaxy atlas server.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/pkg/colormap"
)

// ErrConfiguration is returned for configuration that cannot be used.
var ErrConfiguration = errors.New("invalid configuration")

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Galaxy    GalaxyConfig    `yaml:"galaxy"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Cache     CacheConfig     `yaml:"cache"`
	Render    RenderConfig    `yaml:"render"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// GalaxyConfig shapes the region table and the transform.
// An empty region list selects the built-in table.
type GalaxyConfig struct {
	Scale            float64                `yaml:"scale"`
	SpiralClustering *bool                  `yaml:"spiral_clustering"`
	DiskRadius       float64                `yaml:"disk_radius"`
	DiskHeight       float64                `yaml:"disk_height"`
	Fallback         *galaxy.RegionProfile  `yaml:"fallback"`
	Regions          []galaxy.RegionProfile `yaml:"regions"`
}

// ReconcileConfig tunes batch runs and background sweeps.
type ReconcileConfig struct {
	BatchSize           int `yaml:"batch_size"`
	Concurrency         int `yaml:"concurrency"`
	BatchIntervalMS     int `yaml:"batch_interval_ms"`
	MaxConcurrentSweeps int `yaml:"max_concurrent_sweeps"`
	RetentionDays       int `yaml:"retention_days"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	MapSizeMB      int `yaml:"map_size_mb"`
	MapTTLMinutes  int `yaml:"map_ttl_minutes"`
	QueryCacheSize int `yaml:"query_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	MapSize  int    `yaml:"map_size"`
	Colormap string `yaml:"colormap"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	spiral := true
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Galaxy Atlas",
		},
		Store: StoreConfig{
			SQLitePath: "./data/galaxy.db",
		},
		Galaxy: GalaxyConfig{
			Scale:            1,
			SpiralClustering: &spiral,
		},
		Reconcile: ReconcileConfig{
			BatchSize:           reconcile.DefaultBatchSize,
			Concurrency:         4,
			BatchIntervalMS:     0,
			MaxConcurrentSweeps: 1,
			RetentionDays:       7,
		},
		Cache: CacheConfig{
			MapSizeMB:      64,
			MapTTLMinutes:  10,
			QueryCacheSize: 256,
		},
		Render: RenderConfig{
			MapSize:  1024,
			Colormap: "diverging",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.Galaxy.Scale == 0 {
		cfg.Galaxy.Scale = defaults.Galaxy.Scale
	}
	if cfg.Galaxy.SpiralClustering == nil {
		cfg.Galaxy.SpiralClustering = defaults.Galaxy.SpiralClustering
	}
	if cfg.Reconcile.BatchSize == 0 {
		cfg.Reconcile.BatchSize = defaults.Reconcile.BatchSize
	}
	if cfg.Reconcile.Concurrency == 0 {
		cfg.Reconcile.Concurrency = defaults.Reconcile.Concurrency
	}
	if cfg.Reconcile.MaxConcurrentSweeps == 0 {
		cfg.Reconcile.MaxConcurrentSweeps = defaults.Reconcile.MaxConcurrentSweeps
	}
	if cfg.Reconcile.RetentionDays == 0 {
		cfg.Reconcile.RetentionDays = defaults.Reconcile.RetentionDays
	}
	if cfg.Cache.MapSizeMB == 0 {
		cfg.Cache.MapSizeMB = defaults.Cache.MapSizeMB
	}
	if cfg.Cache.MapTTLMinutes == 0 {
		cfg.Cache.MapTTLMinutes = defaults.Cache.MapTTLMinutes
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Render.MapSize == 0 {
		cfg.Render.MapSize = defaults.Render.MapSize
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
}

// Validate reports the first setting that cannot be used, wrapped in ErrConfiguration.
func (c *Config) Validate() error {
	if c.Store.SQLitePath == "" {
		return fmt.Errorf("%w: store.sqlite_path is required", ErrConfiguration)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrConfiguration, c.Server.Port)
	}
	if c.Reconcile.BatchSize < 1 || c.Reconcile.BatchSize > reconcile.MaxBatchSize {
		return fmt.Errorf("%w: reconcile.batch_size must be in 1..%d", ErrConfiguration, reconcile.MaxBatchSize)
	}
	if c.Reconcile.Concurrency < 1 {
		return fmt.Errorf("%w: reconcile.concurrency must be positive", ErrConfiguration)
	}
	if c.Reconcile.BatchIntervalMS < 0 {
		return fmt.Errorf("%w: reconcile.batch_interval_ms must not be negative", ErrConfiguration)
	}
	if _, ok := colormap.Lookup(c.Render.Colormap); !ok {
		return fmt.Errorf("%w: render.colormap %q is not one of %v", ErrConfiguration, c.Render.Colormap, colormap.Names())
	}
	if c.Render.MapSize < 64 || c.Render.MapSize > 4096 {
		return fmt.Errorf("%w: render.map_size must be in 64..4096", ErrConfiguration)
	}
	if _, err := c.RegionTable(); err != nil {
		return err
	}
	return nil
}

// RegionTable builds the immutable region table described by the galaxy section.
func (c *Config) RegionTable() (*galaxy.RegionTable, error) {
	profiles := c.Galaxy.Regions
	if len(profiles) == 0 {
		profiles = galaxy.DefaultRegions
	}
	fallback := galaxy.DefaultFallback
	if c.Galaxy.Fallback != nil {
		fallback = *c.Galaxy.Fallback
	}

	table, err := galaxy.NewRegionTable(profiles, fallback)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if c.Galaxy.Scale != 1 {
		table, err = table.Scaled(c.Galaxy.Scale)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	return table, nil
}

// Transform builds the coordinate transform for the galaxy section.
func (c *Config) Transform() (*galaxy.Transform, error) {
	table, err := c.RegionTable()
	if err != nil {
		return nil, err
	}
	spiral := c.Galaxy.SpiralClustering == nil || *c.Galaxy.SpiralClustering
	return galaxy.NewTransform(table, galaxy.WithSpiralClustering(spiral)), nil
}

// DiskBounds returns the validation bounds, defaulting to the extent of the table.
func (c *Config) DiskBounds(table *galaxy.RegionTable) (radius, height float64) {
	radius, height = table.Extent()
	if c.Galaxy.DiskRadius > 0 {
		radius = c.Galaxy.DiskRadius
	}
	if c.Galaxy.DiskHeight > 0 {
		height = c.Galaxy.DiskHeight
	}
	return radius, height
}
