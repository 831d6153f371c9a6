package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxy-atlas/server/internal/cache"
	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/render"
	"github.com/galaxy-atlas/server/internal/store"
)

type fixture struct {
	store     *store.Store
	galaxy    *GalaxyService
	reconcile *ReconcileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "galaxy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cm, err := cache.NewManager(cache.Config{MapCacheSizeMB: 16, MapTTL: time.Minute, QueryCacheSize: 32})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	table := galaxy.DefaultRegionTable()
	tr := galaxy.NewTransform(table)
	gs := NewGalaxyService(GalaxyServiceConfig{
		Store:     st,
		Transform: tr,
		Cache:     cm,
		Renderer:  render.NewGalaxyRenderer(table, render.Config{MapSize: 256}),
	})
	rs := NewReconcileService(ReconcileServiceConfig{
		Store:     st,
		Runner:    reconcile.NewRunner(tr, reconcile.Config{Concurrency: 2}),
		Galaxy:    gs,
		BatchSize: 2,
	})

	_, err = st.UpsertSystems(context.Background(), []reconcile.PositionedRecord{
		{ID: "alderaan", Name: "Alderaan", Region: "Core Worlds", GridCode: "M-10"},
		{ID: "bespin", Name: "Bespin", Region: "Outer Rim Territories", GridCode: "K-18"},
		{ID: "corellia", Name: "Corellia", Region: "Core Worlds", GridCode: "M-11"},
		{ID: "dathomir", Name: "Dathomir", Region: "Outer Rim Territories", GridCode: "??"},
		{ID: "endor", Name: "Endor", Region: "Outer Rim Territories", GridCode: "H-16"},
	})
	require.NoError(t, err)

	return &fixture{store: st, galaxy: gs, reconcile: rs}
}

func TestRegionsJSON(t *testing.T) {
	f := newFixture(t)

	data, err := f.galaxy.RegionsJSON(context.Background())
	require.NoError(t, err)

	var resp RegionsResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	require.Len(t, resp.Regions, len(galaxy.DefaultRegions))
	assert.Equal(t, "Deep Core", resp.Regions[0].Name)
	assert.Equal(t, 25000.0, resp.DiskRadius)
	assert.Equal(t, 2.0, resp.LightYearsPerUnit)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, resp.Regions[0].Color)

	counts := map[string]int{}
	for _, r := range resp.Regions {
		counts[r.Name] = r.Systems
	}
	assert.Equal(t, 2, counts["Core Worlds"])
	assert.Equal(t, 3, counts["Outer Rim Territories"])
}

func TestPreviewJSON(t *testing.T) {
	f := newFixture(t)

	data, err := f.galaxy.PreviewJSON(PreviewRequest{GridCode: "L-9", Region: "Core Worlds", Name: "Coruscant"})
	require.NoError(t, err)

	var resp PreviewResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.True(t, resp.WithinGalacticBounds)
	assert.True(t, resp.KnownRegion)

	want, err := galaxy.NewTransform(galaxy.DefaultRegionTable()).Compute("L-9", "Core Worlds", "Coruscant", galaxy.Attributes{})
	require.NoError(t, err)
	assert.InDelta(t, want.X, resp.Coordinates.X, 1e-9)
	assert.InDelta(t, want.Y, resp.Coordinates.Y, 1e-9)

	_, err = f.galaxy.PreviewJSON(PreviewRequest{GridCode: "nine", Name: "X"})
	assert.ErrorIs(t, err, galaxy.ErrUnparseableGridCode)

	_, err = f.galaxy.PreviewJSON(PreviewRequest{GridCode: "A-1"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSystemsJSONAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	page := func() SystemsPage {
		data, err := f.galaxy.SystemsJSON(ctx, "Core Worlds", 10, 0)
		require.NoError(t, err)
		var p SystemsPage
		require.NoError(t, json.Unmarshal(data, &p))
		return p
	}

	before := page()
	assert.Equal(t, 2, before.Total)
	assert.Nil(t, before.Systems[0].Coordinates)

	res, err := f.reconcile.RunBatch(ctx, reconcile.BatchRequest{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Completed)
	assert.Equal(t, 1, res.Errors)

	after := page()
	require.NotNil(t, after.Systems[0].Coordinates, "cached page must be dropped after a batch")

	_, err = f.galaxy.SystemsJSON(ctx, "", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.galaxy.SystemsJSON(ctx, "", 10, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSystemNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.galaxy.System(context.Background(), "hoth")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMapPNG(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconcile.Sweep(ctx, 0, false, nil)
	require.NoError(t, err)

	a, err := f.galaxy.MapPNG(ctx, 128, render.ColorByRegion, "")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), a[:4])

	b, err := f.galaxy.MapPNG(ctx, 128, render.ColorByRegion, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = f.galaxy.MapPNG(ctx, 10, render.ColorByRegion, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.galaxy.MapPNG(ctx, 128, render.ColorByHeight, "rainbow")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStatusAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st, err := f.reconcile.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, Status{Systems: 5, WithGridCode: 5, Pending: 5, Computed: 0}, *st)

	sum, err := f.reconcile.Sweep(ctx, 0, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Completed)
	assert.Equal(t, 1, sum.Remaining)

	report, err := f.reconcile.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.True(t, report.OK())

	n, err := f.reconcile.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	st, err = f.reconcile.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Systems)
	assert.Equal(t, 5, st.Pending)
	assert.Zero(t, st.Computed)
}

func TestExecuteSweepJob(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.store.CreateJob(&store.SweepJob{
		ID:        "sweep-1",
		Status:    store.JobStatusQueued,
		Params:    store.SweepParams{BatchSize: 2},
		CreatedAt: time.Now(),
	}))
	require.NoError(t, f.reconcile.ExecuteSweepJob(context.Background(), f.store, "sweep-1"))

	job, err := f.store.GetJob("sweep-1")
	require.NoError(t, err)
	assert.Equal(t, 4, job.Progress.Completed)
	assert.Equal(t, 1, job.Progress.Errors)
	assert.Equal(t, 5, job.Progress.Total)
	assert.Equal(t, 1, job.Progress.Remaining)

	err = f.reconcile.ExecuteSweepJob(context.Background(), f.store, "missing")
	assert.Error(t, err)
}
