package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/google/uuid"
)

// JobStore is a process-local domain.JobStore for local runs and tests.
// Jobs do not survive a restart.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*domain.OutboundJob
	seq    int64
	logger *slog.Logger
}

var _ domain.JobStore = (*JobStore)(nil)

func NewJobStore(logger *slog.Logger) *JobStore {
	return &JobStore{
		jobs:   make(map[uuid.UUID]*domain.OutboundJob),
		logger: logger.With("component", "job_store_memory"),
	}
}

func (s *JobStore) Insert(_ context.Context, job *domain.OutboundJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	job.Seq = s.seq
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) AcquireNext(_ context.Context, now time.Time) (*domain.OutboundJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.OutboundJob
	for _, j := range s.jobs {
		if j.State != domain.StateWaiting || j.AvailableAt.After(now) {
			continue
		}
		if next == nil || before(j, next) {
			next = j
		}
	}
	if next == nil {
		return nil, domain.ErrNoEligibleJob
	}

	started := now.UTC()
	next.State = domain.StateActive
	next.Attempts++
	next.StartedAt = &started
	next.UpdatedAt = started
	return next.Clone(), nil
}

// before orders by priority, then AvailableAt, then enqueue sequence.
func before(a, b *domain.OutboundJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.AvailableAt.Equal(b.AvailableAt) {
		return a.AvailableAt.Before(b.AvailableAt)
	}
	return a.Seq < b.Seq
}

func (s *JobStore) MarkCompleted(_ context.Context, id uuid.UUID, providerMessageID string, at time.Time) error {
	return s.updateActive(id, func(j *domain.OutboundJob) error {
		finished := at.UTC()
		j.State = domain.StateCompleted
		j.ProviderMessageID = providerMessageID
		j.LastError = ""
		j.FinishedAt = &finished
		j.UpdatedAt = finished
		return nil
	})
}

func (s *JobStore) MarkRetry(_ context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	return s.updateActive(id, func(j *domain.OutboundJob) error {
		j.State = domain.StateWaiting
		j.AvailableAt = availableAt.UTC()
		j.LastError = lastError
		j.StartedAt = nil
		j.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *JobStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string, at time.Time) error {
	return s.updateActive(id, func(j *domain.OutboundJob) error {
		finished := at.UTC()
		j.State = domain.StateFailed
		j.LastError = lastError
		j.FinishedAt = &finished
		j.UpdatedAt = finished
		return nil
	})
}

func (s *JobStore) Get(_ context.Context, id uuid.UUID) (*domain.OutboundJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *JobStore) Cancel(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(j *domain.OutboundJob) error {
		if j.State != domain.StateWaiting {
			return domain.ErrJobNotCancellable
		}
		finished := at.UTC()
		j.State = domain.StateCancelled
		j.FinishedAt = &finished
		j.UpdatedAt = finished
		return nil
	})
}

func (s *JobStore) Requeue(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.update(id, func(j *domain.OutboundJob) error {
		if j.State != domain.StateFailed && j.State != domain.StateCancelled {
			return domain.ErrJobNotRequeueable
		}
		j.State = domain.StateWaiting
		j.Attempts = 0
		j.LastError = ""
		j.AvailableAt = at.UTC()
		j.StartedAt = nil
		j.FinishedAt = nil
		j.UpdatedAt = at.UTC()
		return nil
	})
}

func (s *JobStore) CountByState(_ context.Context, now time.Time) (domain.JobCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c domain.JobCounts
	for _, j := range s.jobs {
		switch j.State {
		case domain.StateWaiting:
			if j.Delayed(now) {
				c.Delayed++
			} else {
				c.Waiting++
			}
		case domain.StateActive:
			c.Active++
		case domain.StateCompleted:
			c.Completed++
		case domain.StateFailed:
			c.Failed++
		case domain.StateCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}

func (s *JobStore) DeleteFinishedBefore(_ context.Context, state domain.JobState, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.State == state && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *JobStore) RecoverActive(ctx context.Context, reason string, staleBefore, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	finished := at.UTC()
	for _, j := range s.jobs {
		if j.State != domain.StateActive {
			continue
		}
		if j.StartedAt != nil && !j.StartedAt.Before(staleBefore) {
			continue
		}
		j.State = domain.StateFailed
		j.LastError = reason
		f := finished
		j.FinishedAt = &f
		j.UpdatedAt = finished
		n++
	}
	if n > 0 {
		s.logger.WarnContext(ctx, "Recovered interrupted jobs", "count", n)
	}
	return n, nil
}

func (s *JobStore) update(id uuid.UUID, fn func(*domain.OutboundJob) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	return fn(j)
}

func (s *JobStore) updateActive(id uuid.UUID, fn func(*domain.OutboundJob) error) error {
	return s.update(id, func(j *domain.OutboundJob) error {
		if j.State != domain.StateActive {
			return domain.ErrJobNotActive
		}
		return fn(j)
	})
}
