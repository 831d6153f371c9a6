// Package api provides HTTP handlers for the galaxy atlas server.
package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/galaxy-atlas/server/internal/store"
)

// ErrQueueFull is returned by Submit when no more sweeps can be queued.
var ErrQueueFull = errors.New("sweep queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("job manager stopped")

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	MaxConcurrent int // Max concurrent sweeps (default 1)
	RetentionDays int // Days to keep finished jobs (default 7)
	CleanupPeriod time.Duration
	QueueSize     int
	Logger        *zap.Logger
}

// Executor runs one job to completion. ctx is cancelled on Cancel or Stop.
type Executor func(ctx context.Context, st *store.Store, jobID string) error

// JobManager runs sweep jobs in the background with SQLite persistence.
type JobManager struct {
	cfg      JobManagerConfig
	store    *store.Store
	exec     Executor
	log      *zap.Logger
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	stopped  bool
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
	baseCtx  context.Context
	stopAll  context.CancelFunc
}

// NewJobManager creates a job manager. The store stays owned by the caller.
func NewJobManager(st *store.Store, exec Executor, cfg JobManagerConfig) *JobManager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		cfg:     cfg,
		store:   st,
		exec:    exec,
		log:     log.Named("jobs"),
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
		baseCtx: ctx,
		stopAll: cancel,
	}
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from previous shutdown.
func (jm *JobManager) Start() {
	if n, err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		jm.log.Error("failed to mark running jobs as failed", zap.Error(err))
	} else if n > 0 {
		jm.log.Warn("marked interrupted jobs as failed", zap.Int64("jobs", n))
	}

	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		jm.log.Error("failed to list queued jobs", zap.Error(err))
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				jm.log.Info("re-queued job", zap.String("job_id", job.ID))
			default:
				jm.log.Warn("queue full, cannot re-queue job", zap.String("job_id", job.ID))
			}
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	jm.wg.Add(1)
	go jm.cleaner()
}

// Stop cancels running jobs, drains the workers and waits for them to exit.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		jm.mu.Lock()
		jm.stopped = true
		close(jm.stopCh)
		close(jm.queue)
		jm.mu.Unlock()

		jm.stopAll()
		jm.wg.Wait()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	log := jm.log.With(zap.String("job_id", jobID))

	ctx, cancel := context.WithCancel(jm.baseCtx)
	defer cancel()

	// Jobs still buffered at Stop stay queued so the next Start picks them up.
	jm.mu.Lock()
	if jm.stopped {
		jm.mu.Unlock()
		return
	}
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	job, err := jm.store.GetJob(jobID)
	if err != nil {
		log.Error("failed to load job", zap.Error(err))
		return
	}
	if job == nil || jm.baseCtx.Err() != nil {
		return
	}

	started, err := jm.store.UpdateJobStarted(jobID)
	if err != nil {
		log.Error("failed to update job as started", zap.Error(err))
		return
	}
	if !started {
		return
	}
	log.Info("sweep started", zap.Int("batch_size", job.Params.BatchSize), zap.Bool("force", job.Params.ForceRecompute))

	var execErr error
	if jm.exec != nil {
		execErr = jm.exec(ctx, jm.store, jobID)
	}

	status, msg := store.JobStatusCompleted, ""
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status, msg = store.JobStatusCancelled, "cancelled by user"
		if jm.isStopped() {
			msg = "server stopping"
		}
	case execErr != nil:
		status, msg = store.JobStatusFailed, execErr.Error()
	}
	if err := jm.store.UpdateJobStatus(jobID, status, msg); err != nil {
		log.Error("failed to update job status", zap.Error(err))
	}
	log.Info("sweep finished", zap.String("status", string(status)), zap.String("error", msg))
}

func (jm *JobManager) isStopped() bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.stopped
}

func (jm *JobManager) cleaner() {
	defer jm.wg.Done()
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	deleted, err := jm.store.DeleteExpiredJobs(jm.cfg.RetentionDays)
	if err != nil {
		jm.log.Error("cleanup error", zap.Error(err))
	} else if deleted > 0 {
		jm.log.Info("cleaned up expired jobs", zap.Int64("jobs", deleted))
	}
}

// Submit creates a new job and enqueues it for execution.
func (jm *JobManager) Submit(params store.SweepParams) (*store.SweepJob, error) {
	job := &store.SweepJob{
		ID:        uuid.NewString(),
		Status:    store.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()
	if jm.stopped {
		return nil, ErrStopped
	}

	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- job.ID:
	default:
		jm.store.UpdateJobStatus(job.ID, store.JobStatusFailed, ErrQueueFull.Error())
		return nil, ErrQueueFull
	}

	return job, nil
}

// Get returns a job by ID, or nil if it does not exist.
func (jm *JobManager) Get(id string) *store.SweepJob {
	job, err := jm.store.GetJob(id)
	if err != nil {
		jm.log.Error("error getting job", zap.String("job_id", id), zap.Error(err))
		return nil
	}
	return job
}

// List returns the most recent jobs.
func (jm *JobManager) List(limit int) ([]*store.SweepJob, error) {
	return jm.store.ListJobs(limit)
}

// Cancel attempts to cancel a queued or running job. A running sweep stops after its
// current batch.
func (jm *JobManager) Cancel(id string) bool {
	// Held across the row update so a worker cannot start the job in between.
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if cancel, ok := jm.running[id]; ok {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil || job == nil {
		return false
	}
	if job.Status == store.JobStatusQueued {
		if err := jm.store.UpdateJobStatus(id, store.JobStatusCancelled, "cancelled before start"); err != nil {
			jm.log.Error("failed to cancel queued job", zap.String("job_id", id), zap.Error(err))
			return false
		}
		return true
	}
	return false
}

// Delete deletes a finished job record.
func (jm *JobManager) Delete(id string) error {
	return jm.store.DeleteJob(id)
}
