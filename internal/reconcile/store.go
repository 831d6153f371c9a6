// Package reconcile drives the coordinate transform over a record store in bounded,
// resumable batches.
package reconcile

import (
	"context"
	"errors"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

var (
	// ErrFetch wraps a store failure to list a batch. It is fatal to the batch.
	ErrFetch = errors.New("fetch batch")
	// ErrCount wraps a store failure to count remaining work after a batch.
	ErrCount = errors.New("count pending")
	// ErrWrite wraps a per-record store failure to persist coordinates.
	ErrWrite = errors.New("write coordinates")
	// ErrInvalidRequest is returned for out-of-range batch parameters.
	ErrInvalidRequest = errors.New("invalid batch request")
)

// PositionedRecord is one star system as seen by the reconciler.
type PositionedRecord struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Region         string              `json:"region"`
	GridCode       string              `json:"gridCode,omitempty"`
	Population     *int64              `json:"population,omitempty"`
	Classification string              `json:"classification,omitempty"`
	Coordinates    *galaxy.Coordinates `json:"coordinates,omitempty"`
}

// Attributes returns the transform inputs carried by the record.
func (r PositionedRecord) Attributes() galaxy.Attributes {
	return galaxy.Attributes{Population: r.Population, Classification: r.Classification}
}

// RecordStore is the persistence the reconciler needs.
//
// FetchPending and CountPending consider records with a grid code; unless
// includeComputed is set, only those whose coordinates are still missing.
// FetchPending must order by a stable key so offsets are meaningful.
type RecordStore interface {
	FetchPending(ctx context.Context, limit, offset int, includeComputed bool) ([]PositionedRecord, error)
	WriteCoordinates(ctx context.Context, id string, c galaxy.Coordinates) error
	CountPending(ctx context.Context, includeComputed bool) (int, error)
}

// CoordinateClearer is implemented by stores that can reset computed coordinates.
type CoordinateClearer interface {
	// ClearCoordinates nulls the coordinates of up to limit records and returns how many changed.
	ClearCoordinates(ctx context.Context, limit int) (int, error)
	CountComputed(ctx context.Context) (int, error)
}

// ComputedLister is implemented by stores that can page through records with coordinates.
type ComputedLister interface {
	ListComputed(ctx context.Context, limit, offset int) ([]PositionedRecord, error)
}
