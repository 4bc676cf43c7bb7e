package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStore persists OutboundJobs. Implementations must make AcquireNext safe
// across concurrent workers: a waiting job is handed to exactly one caller.
type JobStore interface {
	Insert(ctx context.Context, job *OutboundJob) error

	// AcquireNext claims the eligible job with the lowest priority number,
	// oldest AvailableAt then enqueue order within the tier. It moves the job to
	// active, increments Attempts and sets StartedAt. Returns ErrNoEligibleJob
	// when nothing is ready.
	AcquireNext(ctx context.Context, now time.Time) (*OutboundJob, error)

	// MarkCompleted, MarkRetry and MarkFailed only apply to an active job and
	// return ErrJobNotActive when it already left that state.
	MarkCompleted(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error
	// MarkRetry returns an active job to waiting with a new AvailableAt.
	MarkRetry(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, at time.Time) error

	Get(ctx context.Context, id uuid.UUID) (*OutboundJob, error)
	// Cancel moves a waiting job to cancelled. ErrJobNotCancellable otherwise.
	Cancel(ctx context.Context, id uuid.UUID, at time.Time) error
	// Requeue moves a failed or cancelled job back to waiting with Attempts reset.
	Requeue(ctx context.Context, id uuid.UUID, at time.Time) error

	CountByState(ctx context.Context, now time.Time) (JobCounts, error)
	// DeleteFinishedBefore removes jobs in state whose FinishedAt is before cutoff.
	DeleteFinishedBefore(ctx context.Context, state JobState, cutoff time.Time) (int64, error)
	// RecoverActive fails active jobs claimed before staleBefore. Claims newer
	// than that may belong to a live dispatcher sharing the store.
	RecoverActive(ctx context.Context, reason string, staleBefore, at time.Time) (int64, error)
}
