package reconcile

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

// DefaultBatchSize is used when a request leaves the batch size unset.
const DefaultBatchSize = 50

// MaxBatchSize bounds a single batch.
const MaxBatchSize = 1000

var validate = validator.New()

// BatchRequest is the input of one reconcile batch.
type BatchRequest struct {
	BatchSize int `json:"batchSize" validate:"gte=1,lte=1000"`
	Offset    int `json:"offset" validate:"gte=0"`
	// ForceRecompute overwrites coordinates that were already computed.
	ForceRecompute bool `json:"forceRecompute"`
}

// EnsureDefaults fills in unset fields.
func (r *BatchRequest) EnsureDefaults() {
	if r.BatchSize == 0 {
		r.BatchSize = DefaultBatchSize
	}
}

// Validate checks the request bounds.
func (r *BatchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// FailureKind tells parse failures from write failures.
type FailureKind string

const (
	FailureParse FailureKind = "parse"
	FailureWrite FailureKind = "write"
)

// RecordFailure describes one record the batch skipped.
type RecordFailure struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	GridCode string      `json:"gridCode"`
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
}

// UpdatedRecord is a record whose coordinates were written by the batch.
type UpdatedRecord struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Region      string             `json:"region"`
	GridCode    string             `json:"gridCode"`
	Coordinates galaxy.Coordinates `json:"coordinates"`
}

// BatchResult summarizes one batch. It is not persisted.
type BatchResult struct {
	Total          int             `json:"total"`
	Completed      int             `json:"completed"`
	Errors         int             `json:"errors"`
	HasMore        bool            `json:"hasMore"`
	NextOffset     int             `json:"nextOffset"`
	Remaining      int             `json:"remaining"`
	UpdatedRecords []UpdatedRecord `json:"updatedRecords"`
	Failures       []RecordFailure `json:"failures"`
}

// SweepResult accumulates the batches of a full sweep.
type SweepResult struct {
	Batches   int  `json:"batches"`
	Total     int  `json:"total"`
	Completed int  `json:"completed"`
	Errors    int  `json:"errors"`
	Remaining int  `json:"remaining"`
	Cancelled bool `json:"cancelled"`
}

func (s *SweepResult) add(b *BatchResult) {
	s.Batches++
	s.Total += b.Total
	s.Completed += b.Completed
	s.Errors += b.Errors
	s.Remaining = b.Remaining
}
