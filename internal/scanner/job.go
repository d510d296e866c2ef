package scanner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrScanInProgress is returned by Run while another background scan runs.
var ErrScanInProgress = errors.New("scan already in progress")

// Run starts a background scan. Only one runs at a time. The scan outlives
// the caller's context; use Cancel to stop it. Returns a snapshot of the
// initial job state (safe to read without synchronization).
func (s *Service) Run(ctx context.Context, cfg Config) (*Job, error) {
	s.mu.Lock()
	if s.current != nil && s.current.Status == StatusRunning {
		s.mu.Unlock()
		return nil, ErrScanInProgress
	}

	job := &Job{
		ID:        uuid.New().String(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
		Config:    cfg,
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.current = job
	s.cancel = cancel
	snapshot := *job
	s.mu.Unlock()

	go s.runJob(runCtx, cancel, job)

	return &snapshot, nil
}

// Status returns a snapshot of the current or most recent job, or nil if no
// job has been started. Results are only attached once the job finishes.
func (s *Service) Status() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	snapshot := *s.current
	return &snapshot
}

// Cancel stops the running job, if any. Work already done is kept.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.Status != StatusRunning || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Service) runJob(ctx context.Context, cancel context.CancelFunc, job *Job) {
	defer cancel()

	results, err := s.scan(ctx, job.ID, job.Config, func(p Progress) {
		s.mu.Lock()
		job.Scanned = p.Scanned
		job.Found = p.Found
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	job.CompletedAt = &now
	job.Found = len(results)
	job.Hinted = CountHinted(results)
	job.Results = results
	switch {
	case errors.Is(err, context.Canceled):
		job.Status = StatusFailed
		job.Error = "scan canceled"
	case err != nil:
		job.Status = StatusFailed
		job.Error = err.Error()
	default:
		job.Status = StatusCompleted
	}
}
