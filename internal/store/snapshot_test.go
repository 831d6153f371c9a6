package store

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/galaxy-atlas/server/internal/reconcile"
)

func TestSnapshotRoundTripFiles(t *testing.T) {
	for _, name := range []string{"systems.json", "systems.json.zst"} {
		t.Run(name, func(t *testing.T) {
			src := openTestStore(t)
			seed(t, src)
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), name)

			n, err := src.ExportFile(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			dst := openTestStore(t)
			n, err = dst.ImportFile(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			want, err := src.ListSystems(ctx, "", 10, 0)
			require.NoError(t, err)
			got, err := dst.ListSystems(ctx, "", 10, 0)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCompressedSnapshotIsNotPlainJSON(t *testing.T) {
	var buf bytes.Buffer
	systems := []reconcile.PositionedRecord{{ID: "a", Name: "A"}}
	require.NoError(t, WriteSnapshot(&buf, systems, true))
	assert.False(t, strings.HasPrefix(buf.String(), "{"))

	snap, err := ReadSnapshot(&buf, true)
	require.NoError(t, err)
	assert.Equal(t, systems, snap.Systems)
}

func TestReadSnapshotRejectsUnknownVersion(t *testing.T) {
	_, err := ReadSnapshot(strings.NewReader(`{"version":7,"systems":[]}`), false)
	assert.ErrorContains(t, err, "unsupported snapshot version")
}
