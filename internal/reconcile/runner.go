package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/galaxy-atlas/server/internal/galaxy"
)

// Config tunes a Runner.
type Config struct {
	// Concurrency is the number of records of one batch transformed and written in parallel.
	Concurrency int
	// BatchInterval is the minimum spacing between batch starts within a sweep.
	BatchInterval time.Duration
	Logger        *zap.Logger
}

// Runner applies a galaxy.Transform to the records of a RecordStore.
type Runner struct {
	transform *galaxy.Transform
	cfg       Config
	log       *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(transform *galaxy.Transform, cfg Config) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{transform: transform, cfg: cfg, log: log.Named("reconcile")}
}

// Transform returns the transform the runner applies.
func (r *Runner) Transform() *galaxy.Transform {
	return r.transform
}

type recordOutcome struct {
	updated *UpdatedRecord
	failure *RecordFailure
}

// RunBatch computes and writes coordinates for one page of pending records.
//
// Per-record parse and write failures are counted and skipped; already applied writes
// are kept. A fetch failure aborts the batch and returns an ErrFetch error with no
// result. A failure to count the remaining work returns the batch result together with
// an ErrCount error.
//
// Without ForceRecompute, written records drop out of the pending set, so NextOffset
// only moves past the records this batch failed on.
func (r *Runner) RunBatch(ctx context.Context, store RecordStore, req BatchRequest) (*BatchResult, error) {
	req.EnsureDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()
	log := r.log.With(
		zap.Int("batch_offset", req.Offset),
		zap.Int("batch_size", req.BatchSize),
		zap.Bool("force", req.ForceRecompute),
	)

	records, err := store.FetchPending(ctx, req.BatchSize, req.Offset, req.ForceRecompute)
	if err != nil {
		batchesTotal.WithLabelValues(batchFetchError).Inc()
		log.Error("fetch batch failed", zap.Error(err))
		return nil, fmt.Errorf("%w at offset %d: %w", ErrFetch, req.Offset, err)
	}

	// A batch that has started runs to completion even if ctx is cancelled.
	writeCtx := context.WithoutCancel(ctx)
	outcomes := make([]recordOutcome, len(records))
	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i := range records {
		g.Go(func() error {
			outcomes[i] = r.reconcileRecord(writeCtx, store, records[i], log)
			return nil
		})
	}
	_ = g.Wait()

	res := &BatchResult{
		Total:          len(records),
		UpdatedRecords: make([]UpdatedRecord, 0, len(records)),
		Failures:       []RecordFailure{},
	}
	for _, o := range outcomes {
		if o.updated != nil {
			res.Completed++
			res.UpdatedRecords = append(res.UpdatedRecords, *o.updated)
			continue
		}
		res.Errors++
		res.Failures = append(res.Failures, *o.failure)
	}

	if req.ForceRecompute {
		res.NextOffset = req.Offset + req.BatchSize
	} else {
		res.NextOffset = req.Offset + res.Total - res.Completed
	}

	remaining, err := store.CountPending(writeCtx, req.ForceRecompute)
	if err != nil {
		batchesTotal.WithLabelValues(batchCountError).Inc()
		log.Error("count pending failed", zap.Error(err))
		return res, fmt.Errorf("%w: %w", ErrCount, err)
	}
	res.Remaining = remaining
	res.HasMore = res.Total > 0 && remaining > res.NextOffset

	batchesTotal.WithLabelValues(batchOK).Inc()
	log.Info("batch reconciled",
		zap.Int("total", res.Total),
		zap.Int("completed", res.Completed),
		zap.Int("errors", res.Errors),
		zap.Int("remaining", res.Remaining),
		zap.Bool("has_more", res.HasMore),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func (r *Runner) reconcileRecord(ctx context.Context, store RecordStore, rec PositionedRecord, log *zap.Logger) recordOutcome {
	coords, err := r.transform.Compute(rec.GridCode, rec.Region, rec.Name, rec.Attributes())
	if err != nil {
		recordsTotal.WithLabelValues(outcomeParseError).Inc()
		log.Warn("skipping record", zap.String("record_id", rec.ID), zap.String("grid_code", rec.GridCode), zap.Error(err))
		return recordOutcome{failure: &RecordFailure{
			ID:       rec.ID,
			Name:     rec.Name,
			GridCode: rec.GridCode,
			Kind:     FailureParse,
			Message:  err.Error(),
		}}
	}

	if err := store.WriteCoordinates(ctx, rec.ID, coords); err != nil {
		err = fmt.Errorf("%w for %s: %w", ErrWrite, rec.ID, err)
		recordsTotal.WithLabelValues(outcomeWriteError).Inc()
		log.Warn("write failed", zap.String("record_id", rec.ID), zap.Error(err))
		return recordOutcome{failure: &RecordFailure{
			ID:       rec.ID,
			Name:     rec.Name,
			GridCode: rec.GridCode,
			Kind:     FailureWrite,
			Message:  err.Error(),
		}}
	}

	recordsTotal.WithLabelValues(outcomeUpdated).Inc()
	return recordOutcome{updated: &UpdatedRecord{
		ID:          rec.ID,
		Name:        rec.Name,
		Region:      rec.Region,
		GridCode:    rec.GridCode,
		Coordinates: coords,
	}}
}

// BatchFunc observes each batch of a sweep as it finishes.
type BatchFunc func(*BatchResult)

// Sweep runs batches until no pending work is left after the cursor.
// Cancellation is checked between batches only. On error the returned result holds the
// totals of the batches that did complete.
func (r *Runner) Sweep(ctx context.Context, store RecordStore, batchSize int, force bool, onBatch BatchFunc) (*SweepResult, error) {
	sum := &SweepResult{}
	limiter := r.newLimiter()
	offset := 0
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			sum.Cancelled = true
			r.log.Info("sweep cancelled", zap.Int("batches", sum.Batches), zap.Int("completed", sum.Completed))
			return sum, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				sum.Cancelled = true
				return sum, err
			}
		}

		res, err := r.RunBatch(ctx, store, BatchRequest{BatchSize: batchSize, Offset: offset, ForceRecompute: force})
		if res != nil {
			sum.add(res)
			if onBatch != nil {
				onBatch(res)
			}
		}
		if err != nil {
			return sum, err
		}
		if !res.HasMore {
			break
		}
		offset = res.NextOffset
	}

	r.log.Info("sweep finished",
		zap.Int("batches", sum.Batches),
		zap.Int("total", sum.Total),
		zap.Int("completed", sum.Completed),
		zap.Int("errors", sum.Errors),
		zap.Int("remaining", sum.Remaining),
		zap.Duration("took", time.Since(start)),
	)
	return sum, nil
}

func (r *Runner) newLimiter() *rate.Limiter {
	if r.cfg.BatchInterval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(r.cfg.BatchInterval), 1)
}

// Clear nulls computed coordinates in batches until none are left and returns how many
// records were reset. It is destructive; callers must confirm before calling it.
func (r *Runner) Clear(ctx context.Context, store CoordinateClearer, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	cleared := 0
	for {
		if err := ctx.Err(); err != nil {
			return cleared, err
		}
		n, err := store.ClearCoordinates(ctx, batchSize)
		if err != nil {
			return cleared, fmt.Errorf("clear coordinates after %d: %w", cleared, err)
		}
		cleared += n
		if n < batchSize {
			break
		}
	}

	left, err := store.CountComputed(ctx)
	if err != nil {
		return cleared, fmt.Errorf("count computed: %w", err)
	}
	r.log.Info("coordinates cleared", zap.Int("cleared", cleared), zap.Int("still_computed", left))
	return cleared, nil
}
