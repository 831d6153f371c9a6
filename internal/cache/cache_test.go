package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{MapCacheSizeMB: 8, MapTTL: time.Minute, QueryCacheSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestMapAndQueryRoundTrip(t *testing.T) {
	m := newTestManager(t)

	key := MapKey(512, "region", "viridis", "")
	_, ok := m.GetMap(key)
	assert.False(t, ok)

	require.NoError(t, m.SetMap(key, []byte("png")))
	got, ok := m.GetMap(key)
	require.True(t, ok)
	assert.Equal(t, []byte("png"), got)

	m.SetQuery("q", []byte(`{"a":1}`))
	q, ok := m.GetQuery("q")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(q))
}

func TestInvalidateDropsEverything(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.SetMap("m", []byte{1}))
	m.SetQuery("q", []byte{2})

	require.NoError(t, m.Invalidate())

	_, ok := m.GetMap("m")
	assert.False(t, ok)
	_, ok = m.GetQuery("q")
	assert.False(t, ok)
}

func TestQueryKey(t *testing.T) {
	assert.Equal(t, "regions", QueryKey("regions"))

	a := QueryKey("systems", 50, 0, "Mid Rim")
	b := QueryKey("systems", 50, 0, "Mid Rim")
	c := QueryKey("systems", 50, 50, "Mid Rim")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "systems:")
}
