package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the current state of a sweep job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will not change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// SweepParams contains the parameters for a sweep job.
type SweepParams struct {
	BatchSize      int  `json:"batch_size"`
	ForceRecompute bool `json:"force_recompute"`
}

// SweepProgress is the running total of a sweep job.
type SweepProgress struct {
	Batches   int `json:"batches"`
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Errors    int `json:"errors"`
	Remaining int `json:"remaining"`
}

// SweepJob is a full reconciliation sweep run in the background.
type SweepJob struct {
	ID         string        `json:"job_id"`
	Status     JobStatus     `json:"status"`
	Params     SweepParams   `json:"params"`
	Progress   SweepProgress `json:"progress"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// timeLayout is fixed-width so stored timestamps compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `job_id, status, params_json, batches, total, completed, errors, remaining, error, created_at, started_at, finished_at`

// CreateJob creates a new job record.
func (s *Store) CreateJob(job *SweepJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sweep_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.Progress.Batches,
		job.Progress.Total,
		job.Progress.Completed,
		job.Progress.Errors,
		job.Progress.Remaining,
		job.Error,
		job.CreatedAt.UTC().Format(timeLayout),
		nil,
		nil,
	)
	return err
}

// GetJob retrieves a job by ID. It returns nil without error when the job does not exist.
func (s *Store) GetJob(jobID string) (*SweepJob, error) {
	rows, err := s.db.Query("SELECT "+jobColumns+" FROM sweep_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// ListJobs returns the most recent jobs first.
func (s *Store) ListJobs(limit int) ([]*SweepJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM sweep_jobs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// UpdateJobStatus updates the job status and error; terminal statuses stamp finished_at.
func (s *Store) UpdateJobStatus(jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Terminal() {
		t := time.Now().UTC().Format(timeLayout)
		finishedAt = &t
	}

	_, err := s.db.Exec(`
		UPDATE sweep_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a queued job as running with start time. It reports false
// when the job has left the queued state, e.g. cancelled before a worker reached it.
func (s *Store) UpdateJobStarted(jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`
		UPDATE sweep_jobs SET status = ?, started_at = ?
		WHERE job_id = ? AND status = ?
	`, string(JobStatusRunning), now, jobID, string(JobStatusQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateJobProgress stores the running totals of a job.
func (s *Store) UpdateJobProgress(jobID string, p SweepProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sweep_jobs SET batches = ?, total = ?, completed = ?, errors = ?, remaining = ?
		WHERE job_id = ?
	`, p.Batches, p.Total, p.Completed, p.Errors, p.Remaining, jobID)
	return err
}

// ListQueuedJobs returns all queued jobs (for restart recovery).
func (s *Store) ListQueuedJobs() ([]*SweepJob, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM sweep_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.Exec(`
		UPDATE sweep_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredJobs deletes finished jobs older than retentionDays.
func (s *Store) DeleteExpiredJobs(retentionDays int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)
	result, err := s.db.Exec(`
		DELETE FROM sweep_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// DeleteJob deletes a job record.
func (s *Store) DeleteJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM sweep_jobs WHERE job_id = ?", jobID)
	return err
}

func scanJobs(rows *sql.Rows) ([]*SweepJob, error) {
	var jobs []*SweepJob
	for rows.Next() {
		var job SweepJob
		var paramsJSON string
		var createdAtStr string
		var startedAtStr, finishedAtStr sql.NullString

		err := rows.Scan(
			&job.ID,
			&job.Status,
			&paramsJSON,
			&job.Progress.Batches,
			&job.Progress.Total,
			&job.Progress.Completed,
			&job.Progress.Errors,
			&job.Progress.Remaining,
			&job.Error,
			&createdAtStr,
			&startedAtStr,
			&finishedAtStr,
		)
		if err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params: %w", err)
		}

		job.CreatedAt, _ = time.Parse(timeLayout, createdAtStr)
		if startedAtStr.Valid {
			t, _ := time.Parse(timeLayout, startedAtStr.String)
			job.StartedAt = &t
		}
		if finishedAtStr.Valid {
			t, _ := time.Parse(timeLayout, finishedAtStr.String)
			job.FinishedAt = &t
		}

		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
