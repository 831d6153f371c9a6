package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/reconcile"
	"github.com/galaxy-atlas/server/internal/store"
)

// ReconcileService runs the coordinate reconciler against the system store and keeps the
// galaxy views fresh afterwards.
type ReconcileService struct {
	store      *store.Store
	runner     *reconcile.Runner
	galaxy     *GalaxyService
	batchSize  int
	diskRadius float64
	diskHeight float64
	log        *zap.Logger
}

// ReconcileServiceConfig contains reconcile service configuration.
type ReconcileServiceConfig struct {
	Store      *store.Store
	Runner     *reconcile.Runner
	Galaxy     *GalaxyService
	BatchSize  int
	DiskRadius float64
	DiskHeight float64
	Logger     *zap.Logger
}

// NewReconcileService creates a new reconcile service.
func NewReconcileService(cfg ReconcileServiceConfig) *ReconcileService {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = reconcile.DefaultBatchSize
	}
	return &ReconcileService{
		store:      cfg.Store,
		runner:     cfg.Runner,
		galaxy:     cfg.Galaxy,
		batchSize:  cfg.BatchSize,
		diskRadius: cfg.DiskRadius,
		diskHeight: cfg.DiskHeight,
		log:        log.Named("reconcile-service"),
	}
}

// Status counts systems by reconciliation state.
type Status struct {
	Systems      int `json:"systems"`
	WithGridCode int `json:"withGridCode"`
	Pending      int `json:"pending"`
	Computed     int `json:"computed"`
}

// Status reports how much work is left.
func (s *ReconcileService) Status(ctx context.Context) (*Status, error) {
	var st Status
	var err error
	if st.Systems, err = s.store.CountSystems(ctx, ""); err != nil {
		return nil, err
	}
	if st.WithGridCode, err = s.store.CountPending(ctx, true); err != nil {
		return nil, err
	}
	if st.Pending, err = s.store.CountPending(ctx, false); err != nil {
		return nil, err
	}
	if st.Computed, err = s.store.CountComputed(ctx); err != nil {
		return nil, err
	}
	return &st, nil
}

// RunBatch runs one batch. Errors are the runner's; a result accompanies ErrCount.
func (s *ReconcileService) RunBatch(ctx context.Context, req reconcile.BatchRequest) (*reconcile.BatchResult, error) {
	res, err := s.runner.RunBatch(ctx, s.store, req)
	if res != nil && res.Completed > 0 {
		s.invalidate()
	}
	return res, err
}

// Sweep runs batches until nothing is pending, in the foreground.
func (s *ReconcileService) Sweep(ctx context.Context, batchSize int, force bool, onBatch reconcile.BatchFunc) (*reconcile.SweepResult, error) {
	if batchSize <= 0 {
		batchSize = s.batchSize
	}
	sum, err := s.runner.Sweep(ctx, s.store, batchSize, force, onBatch)
	if sum != nil && sum.Completed > 0 {
		s.invalidate()
	}
	return sum, err
}

// Clear resets every computed coordinate. Systems are kept.
func (s *ReconcileService) Clear(ctx context.Context) (int, error) {
	n, err := s.runner.Clear(ctx, s.store, s.batchSize)
	if n > 0 {
		s.invalidate()
	}
	return n, err
}

// Validate checks every computed coordinate against the disk and its region.
func (s *ReconcileService) Validate(ctx context.Context) (*reconcile.ValidationReport, error) {
	return s.runner.Validate(ctx, s.store, s.diskRadius, s.diskHeight, s.batchSize)
}

// ExecuteSweepJob runs a queued sweep job (called by JobManager worker) and records
// progress after every batch.
func (s *ReconcileService) ExecuteSweepJob(ctx context.Context, st *store.Store, jobID string) error {
	job, err := st.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %s", jobID)
	}

	log := s.log.With(zap.String("job_id", jobID))
	var progress store.SweepProgress
	onBatch := func(b *reconcile.BatchResult) {
		progress.Batches++
		progress.Total += b.Total
		progress.Completed += b.Completed
		progress.Errors += b.Errors
		progress.Remaining = b.Remaining
		if err := st.UpdateJobProgress(jobID, progress); err != nil {
			log.Warn("failed to record progress", zap.Error(err))
		}
	}

	sum, err := s.Sweep(ctx, job.Params.BatchSize, job.Params.ForceRecompute, onBatch)
	if err != nil {
		return err
	}
	log.Info("sweep job finished", zap.Int("completed", sum.Completed), zap.Int("errors", sum.Errors))
	return nil
}

func (s *ReconcileService) invalidate() {
	if s.galaxy != nil {
		s.galaxy.Invalidate()
	}
}
