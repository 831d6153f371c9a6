package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/galaxy-atlas/server/internal/reconcile"
)

// SnapshotVersion is the format version written by WriteSnapshot.
const SnapshotVersion = 1

// Snapshot is the portable form of the systems table.
type Snapshot struct {
	Version    int                          `json:"version"`
	ExportedAt time.Time                    `json:"exported_at"`
	Systems    []reconcile.PositionedRecord `json:"systems"`
}

// WriteSnapshot encodes systems as JSON, zstd-compressed when compress is set.
func WriteSnapshot(w io.Writer, systems []reconcile.PositionedRecord, compress bool) error {
	snap := Snapshot{Version: SnapshotVersion, ExportedAt: time.Now().UTC(), Systems: systems}
	if !compress {
		return json.NewEncoder(w).Encode(snap)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader, compressed bool) (*Snapshot, error) {
	if compressed {
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

func isCompressedPath(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// ExportFile writes every system to path. Paths ending in .zst are compressed.
func (s *Store) ExportFile(ctx context.Context, path string) (int, error) {
	const page = 1000
	var all []reconcile.PositionedRecord
	for offset := 0; ; offset += page {
		systems, err := s.ListSystems(ctx, "", page, offset)
		if err != nil {
			return 0, err
		}
		all = append(all, systems...)
		if len(systems) < page {
			break
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	if err := WriteSnapshot(f, all, isCompressedPath(path)); err != nil {
		f.Close()
		return 0, err
	}
	return len(all), f.Close()
}

// ImportFile upserts every system of the snapshot at path.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	snap, err := ReadSnapshot(f, isCompressedPath(path))
	if err != nil {
		return 0, err
	}
	return s.UpsertSystems(ctx, snap.Systems)
}
