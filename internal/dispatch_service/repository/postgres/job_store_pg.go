package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/aradsms/messaging_gateway/internal/platform/database"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `id, seq, kind, recipient, payload, priority, state, available_at, attempts, max_attempts,
	COALESCE(last_error, ''), COALESCE(conversation_id, ''), COALESCE(metadata, '{}'::jsonb),
	COALESCE(provider_message_id, ''), created_at, updated_at, started_at, finished_at`

const jobColumnsQualified = `j.id, j.seq, j.kind, j.recipient, j.payload, j.priority, j.state, j.available_at, j.attempts, j.max_attempts,
	COALESCE(j.last_error, ''), COALESCE(j.conversation_id, ''), COALESCE(j.metadata, '{}'::jsonb),
	COALESCE(j.provider_message_id, ''), j.created_at, j.updated_at, j.started_at, j.finished_at`

// PgJobStore is the durable domain.JobStore. Claiming uses FOR UPDATE SKIP LOCKED
// so several dispatcher processes can share one table.
type PgJobStore struct {
	db     database.DBPool
	logger *slog.Logger
}

var _ domain.JobStore = (*PgJobStore)(nil)

func NewPgJobStore(db database.DBPool, logger *slog.Logger) *PgJobStore {
	return &PgJobStore{db: db, logger: logger.With("component", "job_store_pg")}
}

func scanJob(row pgx.Row) (*domain.OutboundJob, error) {
	var (
		job          domain.OutboundJob
		kind, state  string
		payloadJSON  []byte
		metadataJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.Seq, &kind, &job.To, &payloadJSON, &job.Priority, &state, &job.AvailableAt,
		&job.Attempts, &job.MaxAttempts, &job.LastError, &job.ConversationID, &metadataJSON,
		&job.ProviderMessageID, &job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)

	job.Payload, err = domain.DecodePayload(job.Kind, payloadJSON)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode job metadata: %w", err)
		}
		if len(job.Metadata) == 0 {
			job.Metadata = nil
		}
	}
	return &job, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *PgJobStore) Insert(ctx context.Context, job *domain.OutboundJob) error {
	payload, err := domain.EncodePayload(job.Payload)
	if err != nil {
		return err
	}
	var metadata []byte
	if len(job.Metadata) > 0 {
		if metadata, err = json.Marshal(job.Metadata); err != nil {
			return fmt.Errorf("encode job metadata: %w", err)
		}
	}

	query := `INSERT INTO outbound_jobs (id, kind, recipient, payload, priority, state, available_at, attempts, max_attempts,
		conversation_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`
	err = r.db.QueryRow(ctx, query,
		job.ID, string(job.Kind), job.To, []byte(payload), job.Priority, string(job.State), job.AvailableAt,
		job.Attempts, job.MaxAttempts, nullIfEmpty(job.ConversationID), metadata, job.CreatedAt, job.UpdatedAt,
	).Scan(&job.Seq)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting outbound job", "error", err, "job_id", job.ID)
		return fmt.Errorf("insert outbound job: %w", err)
	}
	r.logger.DebugContext(ctx, "Outbound job inserted", "job_id", job.ID, "kind", job.Kind, "priority", job.Priority)
	return nil
}

func (r *PgJobStore) AcquireNext(ctx context.Context, now time.Time) (*domain.OutboundJob, error) {
	query := `WITH next_job AS (
			SELECT id FROM outbound_jobs
			WHERE state = $1 AND available_at <= $2
			ORDER BY priority ASC, available_at ASC, seq ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbound_jobs j
		SET state = $3, attempts = j.attempts + 1, started_at = $2, updated_at = $2
		FROM next_job
		WHERE j.id = next_job.id
		RETURNING ` + jobColumnsQualified

	job, err := scanJob(r.db.QueryRow(ctx, query, string(domain.StateWaiting), now.UTC(), string(domain.StateActive)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNoEligibleJob
		}
		r.logger.ErrorContext(ctx, "Error acquiring next job", "error", err)
		return nil, fmt.Errorf("acquire next job: %w", err)
	}
	return job, nil
}

func (r *PgJobStore) MarkCompleted(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error {
	query := `UPDATE outbound_jobs
		SET state = $1, provider_message_id = $2, last_error = NULL, finished_at = $3, updated_at = $3
		WHERE id = $4 AND state = $5`
	return r.exec(ctx, "mark job completed", id, query,
		string(domain.StateCompleted), providerMessageID, at.UTC(), id, string(domain.StateActive))
}

func (r *PgJobStore) MarkRetry(ctx context.Context, id uuid.UUID, availableAt time.Time, lastError string) error {
	query := `UPDATE outbound_jobs
		SET state = $1, available_at = $2, last_error = $3, started_at = NULL, updated_at = NOW()
		WHERE id = $4 AND state = $5`
	return r.exec(ctx, "mark job for retry", id, query,
		string(domain.StateWaiting), availableAt.UTC(), lastError, id, string(domain.StateActive))
}

func (r *PgJobStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, at time.Time) error {
	query := `UPDATE outbound_jobs
		SET state = $1, last_error = $2, finished_at = $3, updated_at = $3
		WHERE id = $4 AND state = $5`
	return r.exec(ctx, "mark job failed", id, query,
		string(domain.StateFailed), lastError, at.UTC(), id, string(domain.StateActive))
}

func (r *PgJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.OutboundJob, error) {
	query := `SELECT ` + jobColumns + ` FROM outbound_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting outbound job", "error", err, "job_id", id)
		return nil, fmt.Errorf("get outbound job: %w", err)
	}
	return job, nil
}

func (r *PgJobStore) Cancel(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE outbound_jobs SET state = $1, finished_at = $2, updated_at = $2 WHERE id = $3 AND state = $4`
	tag, err := r.db.Exec(ctx, query, string(domain.StateCancelled), at.UTC(), id, string(domain.StateWaiting))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error cancelling job", "error", err, "job_id", id)
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, domain.ErrJobNotCancellable)
	}
	return nil
}

func (r *PgJobStore) Requeue(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE outbound_jobs
		SET state = $1, attempts = 0, last_error = NULL, available_at = $2, started_at = NULL, finished_at = NULL, updated_at = $2
		WHERE id = $3 AND state IN ($4, $5)`
	tag, err := r.db.Exec(ctx, query, string(domain.StateWaiting), at.UTC(), id,
		string(domain.StateFailed), string(domain.StateCancelled))
	if err != nil {
		r.logger.ErrorContext(ctx, "Error requeueing job", "error", err, "job_id", id)
		return fmt.Errorf("requeue job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, domain.ErrJobNotRequeueable)
	}
	return nil
}

// explainMiss distinguishes a missing job from one in the wrong state.
func (r *PgJobStore) explainMiss(ctx context.Context, id uuid.UUID, wrongState error) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM outbound_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return wrongState
}

func (r *PgJobStore) CountByState(ctx context.Context, now time.Time) (domain.JobCounts, error) {
	query := `SELECT
			CASE WHEN state = $1 AND available_at > $2 THEN 'delayed' ELSE state END AS bucket,
			COUNT(*)
		FROM outbound_jobs
		GROUP BY bucket`
	rows, err := r.db.Query(ctx, query, string(domain.StateWaiting), now.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting jobs by state", "error", err)
		return domain.JobCounts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var counts domain.JobCounts
	for rows.Next() {
		var (
			bucket string
			n      int64
		)
		if err := rows.Scan(&bucket, &n); err != nil {
			return domain.JobCounts{}, fmt.Errorf("scan job count: %w", err)
		}
		switch bucket {
		case "delayed":
			counts.Delayed = n
		case string(domain.StateWaiting):
			counts.Waiting = n
		case string(domain.StateActive):
			counts.Active = n
		case string(domain.StateCompleted):
			counts.Completed = n
		case string(domain.StateFailed):
			counts.Failed = n
		case string(domain.StateCancelled):
			counts.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.JobCounts{}, fmt.Errorf("iterate job counts: %w", err)
	}
	return counts, nil
}

func (r *PgJobStore) DeleteFinishedBefore(ctx context.Context, state domain.JobState, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM outbound_jobs WHERE state = $1 AND finished_at < $2`, string(state), cutoff.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deleting finished jobs", "error", err, "state", state)
		return 0, fmt.Errorf("delete finished jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgJobStore) RecoverActive(ctx context.Context, reason string, staleBefore, at time.Time) (int64, error) {
	query := `UPDATE outbound_jobs SET state = $1, last_error = $2, finished_at = $3, updated_at = $3
		WHERE state = $4 AND (started_at IS NULL OR started_at < $5)`
	tag, err := r.db.Exec(ctx, query, string(domain.StateFailed), reason, at.UTC(), string(domain.StateActive), staleBefore.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recovering active jobs", "error", err)
		return 0, fmt.Errorf("recover active jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		r.logger.WarnContext(ctx, "Recovered interrupted jobs", "count", n)
	}
	return tag.RowsAffected(), nil
}

func (r *PgJobStore) exec(ctx context.Context, op string, id uuid.UUID, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating outbound job", "op", op, "error", err, "job_id", id)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id, domain.ErrJobNotActive)
	}
	return nil
}
