package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/store"
)

type cli struct {
	config string
	dir    string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "server.yaml")
	body := fmt.Sprintf("store:\n  sqlite_path: %s\nreconcile:\n  batch_size: 2\n  concurrency: 2\nlog:\n  level: error\n",
		filepath.Join(dir, "galaxy.db"))
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	return &cli{config: cfg, dir: dir}
}

func (c *cli) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	a := &app{}
	defer a.close()

	var out bytes.Buffer
	root := newRootCmd(a)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) writeSnapshot(t *testing.T, name string, systems []reconcile.PositionedRecord) string {
	t.Helper()
	path := filepath.Join(c.dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, store.WriteSnapshot(f, systems, false))
	require.NoError(t, f.Close())
	return path
}

var seedSystems = []reconcile.PositionedRecord{
	{ID: "alderaan", Name: "Alderaan", Region: "Core Worlds", GridCode: "M-10"},
	{ID: "bespin", Name: "Bespin", Region: "Outer Rim Territories", GridCode: "K-18"},
	{ID: "corellia", Name: "Corellia", Region: "Core Worlds", GridCode: "M-11"},
}

func TestImportSweepValidateExport(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "import", c.writeSnapshot(t, "seed.json", seedSystems))
	require.NoError(t, err)
	assert.Contains(t, out, "imported 3 systems")

	out, err = c.run(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "batch 1: 2/2 updated")
	assert.Contains(t, out, "3 updated, 0 errors, 0 remaining")

	out, err = c.run(t, "validate")
	require.NoError(t, err)
	var report reconcile.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Valid)

	exported := filepath.Join(c.dir, "backup.json.zst")
	out, err = c.run(t, "export", exported)
	require.NoError(t, err)
	assert.Contains(t, out, "exported 3 systems")

	f, err := os.Open(exported)
	require.NoError(t, err)
	defer f.Close()
	snap, err := store.ReadSnapshot(f, true)
	require.NoError(t, err)
	require.Len(t, snap.Systems, 3)
	assert.NotNil(t, snap.Systems[0].Coordinates)
}

func TestBatchCommand(t *testing.T) {
	c := newCLI(t)
	_, err := c.run(t, "import", c.writeSnapshot(t, "seed.json", seedSystems))
	require.NoError(t, err)

	out, err := c.run(t, "batch", "--batch-size", "2")
	require.NoError(t, err)
	var res reconcile.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Completed)
	assert.True(t, res.HasMore)
	assert.Equal(t, 0, res.NextOffset)

	_, err = c.run(t, "batch", "--batch-size", "5000")
	assert.ErrorIs(t, err, reconcile.ErrInvalidRequest)
}

func TestDestructiveCommandsNeedConfirmation(t *testing.T) {
	c := newCLI(t)

	_, err := c.run(t, "sweep", "--force")
	assert.ErrorIs(t, err, errNeedsConfirmation)

	_, err = c.run(t, "clear")
	assert.ErrorIs(t, err, errNeedsConfirmation)

	_, err = c.run(t, "batch", "--force")
	assert.ErrorIs(t, err, errNeedsConfirmation)

	_, err = c.run(t, "import", c.writeSnapshot(t, "seed.json", seedSystems))
	require.NoError(t, err)
	_, err = c.run(t, "sweep")
	require.NoError(t, err)

	out, err := c.run(t, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 3 systems")

	out, err = c.run(t, "sweep", "--force", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "3 updated")

	out, err = c.run(t, "batch", "--force", "--yes", "--batch-size", "5")
	require.NoError(t, err)
	var res reconcile.BatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Completed)
}

func TestPreviewAndRegions(t *testing.T) {
	c := newCLI(t)

	out, err := c.run(t, "preview", "L-9", "Core Worlds", "Coruscant", "--population", "1000000000000", "--classification", "Capital")
	require.NoError(t, err)
	var resp struct {
		Placement struct {
			KnownRegion  bool    `json:"knownRegion"`
			HeightFactor float64 `json:"heightFactor"`
		} `json:"placement"`
		Within bool `json:"withinGalacticBounds"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Placement.KnownRegion)
	assert.True(t, resp.Within)

	_, err = c.run(t, "preview", "nowhere", "Core Worlds", "X")
	assert.Error(t, err)

	_, err = c.run(t, "preview", "L-9")
	assert.Error(t, err)

	out, err = c.run(t, "regions")
	require.NoError(t, err)
	assert.Contains(t, out, "Deep Core")
	assert.Contains(t, out, "REGION")
}

func TestBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("reconcile:\n  batch_size: -3\n"), 0o644))

	a := &app{}
	defer a.close()
	root := newRootCmd(a)
	root.SetArgs([]string{"--config", cfg, "regions"})
	assert.Error(t, root.Execute())
}
