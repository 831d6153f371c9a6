// Package cache provides caching for rendered maps and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	MapCacheSizeMB int
	MapTTL         time.Duration
	QueryCacheSize int
}

// Manager manages map image and query caches.
type Manager struct {
	mapCache   *bigcache.BigCache
	queryCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	mapCacheConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         cfg.MapTTL,
		CleanWindow:        cfg.MapTTL / 2,
		MaxEntriesInWindow: 256,
		MaxEntrySize:       2 * 1024 * 1024, // 2MB per map image
		HardMaxCacheSize:   cfg.MapCacheSizeMB,
		Verbose:            false,
	}

	mapCache, err := bigcache.New(context.Background(), mapCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create map cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		mapCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		mapCache:   mapCache,
		queryCache: queryCache,
	}, nil
}

// GetMap retrieves a rendered map from cache.
func (m *Manager) GetMap(key string) ([]byte, bool) {
	data, err := m.mapCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetMap stores a rendered map in cache.
func (m *Manager) SetMap(key string, data []byte) error {
	return m.mapCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Invalidate drops every cached entry. Called after coordinates change.
func (m *Manager) Invalidate() error {
	m.queryCache.Purge()
	return m.mapCache.Reset()
}

// MapKey generates a cache key for a map image.
func MapKey(size int, colorBy, colormap, region string) string {
	return fmt.Sprintf("map:%d:%s:%s:%s", size, colorBy, colormap, region)
}

// QueryKey generates a cache key for a query result.
func QueryKey(kind string, params ...interface{}) string {
	if len(params) == 0 {
		return kind
	}

	h := sha256.New()
	for _, p := range params {
		fmt.Fprintf(h, "%v\x00", p)
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"map_cache_len":   m.mapCache.Len(),
		"map_cache_cap":   m.mapCache.Capacity(),
		"query_cache_len": m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.mapCache.Close()
}
