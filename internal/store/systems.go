package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/galaxy-atlas/server/internal/galaxy"
	"github.com/galaxy-atlas/server/internal/reconcile"
)

const systemColumns = `id, name, region, grid_coordinates, population, classification, coordinate_x, coordinate_y, coordinate_z`

const (
	hasGrid     = `grid_coordinates IS NOT NULL`
	missingXYZ  = `(coordinate_x IS NULL OR coordinate_y IS NULL OR coordinate_z IS NULL)`
	computedXYZ = `coordinate_x IS NOT NULL AND coordinate_y IS NOT NULL AND coordinate_z IS NOT NULL`
	anyXYZ      = `(coordinate_x IS NOT NULL OR coordinate_y IS NOT NULL OR coordinate_z IS NOT NULL)`
)

var (
	_ reconcile.RecordStore       = (*Store)(nil)
	_ reconcile.CoordinateClearer = (*Store)(nil)
	_ reconcile.ComputedLister    = (*Store)(nil)
)

func pendingWhere(includeComputed bool) string {
	if includeComputed {
		return hasGrid
	}
	return hasGrid + " AND " + missingXYZ
}

// FetchPending returns systems with a grid code, ordered by id. Unless includeComputed is
// set, only systems without complete coordinates are returned.
func (s *Store) FetchPending(ctx context.Context, limit, offset int, includeComputed bool) ([]reconcile.PositionedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+systemColumns+`
		FROM galactic_systems WHERE `+pendingWhere(includeComputed)+`
		ORDER BY id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSystems(rows)
}

// CountPending counts the systems FetchPending would page through.
func (s *Store) CountPending(ctx context.Context, includeComputed bool) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM galactic_systems WHERE "+pendingWhere(includeComputed)).Scan(&n)
	return n, err
}

// WriteCoordinates sets all three axes of one system in a single statement.
func (s *Store) WriteCoordinates(ctx context.Context, id string, c galaxy.Coordinates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE galactic_systems SET coordinate_x = ?, coordinate_y = ?, coordinate_z = ?, updated_at = ?
		WHERE id = ?
	`, c.X, c.Y, c.Z, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("system %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClearCoordinates nulls the coordinates of up to limit systems.
func (s *Store) ClearCoordinates(ctx context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE galactic_systems SET coordinate_x = NULL, coordinate_y = NULL, coordinate_z = NULL, updated_at = ?
		WHERE id IN (SELECT id FROM galactic_systems WHERE `+anyXYZ+` ORDER BY id LIMIT ?)
	`, time.Now().UTC().Format(time.RFC3339), limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountComputed counts systems with complete coordinates.
func (s *Store) CountComputed(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM galactic_systems WHERE "+computedXYZ).Scan(&n)
	return n, err
}

// ListComputed pages through systems with complete coordinates, ordered by id.
func (s *Store) ListComputed(ctx context.Context, limit, offset int) ([]reconcile.PositionedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+systemColumns+`
		FROM galactic_systems WHERE `+computedXYZ+`
		ORDER BY id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSystems(rows)
}

// UpsertSystems inserts or replaces systems in one transaction. Systems without an id get
// a generated one. It returns the number of systems written.
func (s *Store) UpsertSystems(ctx context.Context, systems []reconcile.PositionedRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO galactic_systems (`+systemColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			grid_coordinates = excluded.grid_coordinates,
			population = excluded.population,
			classification = excluded.classification,
			coordinate_x = excluded.coordinate_x,
			coordinate_y = excluded.coordinate_y,
			coordinate_z = excluded.coordinate_z,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, sys := range systems {
		if strings.TrimSpace(sys.Name) == "" {
			return 0, fmt.Errorf("system %d has no name", i)
		}
		id := sys.ID
		if id == "" {
			id = uuid.NewString()
		}
		var x, y, z sql.NullFloat64
		if sys.Coordinates != nil {
			x = sql.NullFloat64{Float64: sys.Coordinates.X, Valid: true}
			y = sql.NullFloat64{Float64: sys.Coordinates.Y, Valid: true}
			z = sql.NullFloat64{Float64: sys.Coordinates.Z, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			id, sys.Name, sys.Region,
			nullString(sys.GridCode), nullInt(sys.Population), nullString(sys.Classification),
			x, y, z, now,
		)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(systems), nil
}

// GetSystem returns one system by id.
func (s *Store) GetSystem(ctx context.Context, id string) (*reconcile.PositionedRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+systemColumns+" FROM galactic_systems WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	systems, err := scanSystems(rows)
	if err != nil {
		return nil, err
	}
	if len(systems) == 0 {
		return nil, fmt.Errorf("system %s: %w", id, ErrNotFound)
	}
	return &systems[0], nil
}

// ListSystems pages through all systems ordered by id, optionally restricted to a region.
func (s *Store) ListSystems(ctx context.Context, region string, limit, offset int) ([]reconcile.PositionedRecord, error) {
	query := "SELECT " + systemColumns + " FROM galactic_systems"
	args := []any{}
	if region != "" {
		query += " WHERE region = ?"
		args = append(args, region)
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSystems(rows)
}

// CountSystems counts all systems, optionally restricted to a region.
func (s *Store) CountSystems(ctx context.Context, region string) (int, error) {
	var n int
	var err error
	if region == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM galactic_systems").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM galactic_systems WHERE region = ?", region).Scan(&n)
	}
	return n, err
}

func scanSystems(rows *sql.Rows) ([]reconcile.PositionedRecord, error) {
	systems := []reconcile.PositionedRecord{}
	for rows.Next() {
		var sys reconcile.PositionedRecord
		var grid, class sql.NullString
		var pop sql.NullInt64
		var x, y, z sql.NullFloat64

		err := rows.Scan(&sys.ID, &sys.Name, &sys.Region, &grid, &pop, &class, &x, &y, &z)
		if err != nil {
			return nil, err
		}
		sys.GridCode = grid.String
		sys.Classification = class.String
		if pop.Valid {
			v := pop.Int64
			sys.Population = &v
		}
		if x.Valid && y.Valid && z.Valid {
			sys.Coordinates = &galaxy.Coordinates{X: x.Float64, Y: y.Float64, Z: z.Float64}
		}
		systems = append(systems, sys)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return systems, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// CountByRegion returns the number of systems per region name.
func (s *Store) CountByRegion(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT region, COUNT(*) FROM galactic_systems GROUP BY region")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var region string
		var n int
		if err := rows.Scan(&region, &n); err != nil {
			return nil, err
		}
		counts[region] = n
	}
	return counts, rows.Err()
}
