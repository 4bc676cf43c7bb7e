package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobRowColumns = []string{
	"id", "seq", "kind", "recipient", "payload", "priority", "state", "available_at", "attempts", "max_attempts",
	"last_error", "conversation_id", "metadata", "provider_message_id", "created_at", "updated_at", "started_at", "finished_at",
}

func setupJobStoreTest(t *testing.T) (*PgJobStore, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPgJobStore(mockPool, logger), mockPool
}

func TestPgJobStore_Insert(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	job, err := domain.NewOutboundJob("+221700000000", domain.TextPayload{Body: "hello"}, 0, 3, time.Time{})
	require.NoError(t, err)

	mockPool.ExpectQuery(`INSERT INTO outbound_jobs`).
		WithArgs(job.ID, "text", "+221700000000", pgxmock.AnyArg(), domain.PriorityNormal, "waiting",
			pgxmock.AnyArg(), 0, 3, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(mockPool.NewRows([]string{"seq"}).AddRow(int64(42)))

	require.NoError(t, store.Insert(context.Background(), job))
	assert.Equal(t, int64(42), job.Seq)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobStore_AcquireNext(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	id := uuid.New()

	t.Run("Claimed", func(t *testing.T) {
		started := now
		rows := mockPool.NewRows(jobRowColumns).AddRow(
			id, int64(7), "otp", "+221700000000", []byte(`{"template_name":"auth","language":"en","code":"4242"}`),
			1, "active", now, 1, 3, "", "conv-1", []byte(`{"source":"login"}`), "", now, now, &started, nil,
		)
		mockPool.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WithArgs("waiting", now, "active").
			WillReturnRows(rows)

		job, err := store.AcquireNext(context.Background(), now)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, domain.KindOTP, job.Kind)
		assert.Equal(t, domain.StateActive, job.State)
		assert.Equal(t, domain.OTPPayload{TemplateName: "auth", Language: "en", Code: "4242"}, job.Payload)
		assert.Equal(t, map[string]string{"source": "login"}, job.Metadata)
		assert.Equal(t, "conv-1", job.ConversationID)
		require.NotNil(t, job.StartedAt)
		assert.Nil(t, job.FinishedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Empty", func(t *testing.T) {
		mockPool.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WithArgs("waiting", now, "active").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.AcquireNext(context.Background(), now)
		assert.ErrorIs(t, err, domain.ErrNoEligibleJob)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		mockPool.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WithArgs("waiting", now, "active").
			WillReturnError(errors.New("connection reset"))

		_, err := store.AcquireNext(context.Background(), now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgJobStore_Cancel(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	id := uuid.New()
	now := time.Now().UTC()

	t.Run("Waiting", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs SET state = \$1`).
			WithArgs("cancelled", now, id, "waiting").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, store.Cancel(context.Background(), id, now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AlreadyActive", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs SET state = \$1`).
			WithArgs("cancelled", now, id, "waiting").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(id).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, store.Cancel(context.Background(), id, now), domain.ErrJobNotCancellable)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs SET state = \$1`).
			WithArgs("cancelled", now, id, "waiting").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(id).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, store.Cancel(context.Background(), id, now), domain.ErrJobNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgJobStore_CountByState(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	rows := mockPool.NewRows([]string{"bucket", "count"}).
		AddRow("waiting", int64(4)).
		AddRow("delayed", int64(2)).
		AddRow("active", int64(1)).
		AddRow("failed", int64(3))
	mockPool.ExpectQuery(`GROUP BY bucket`).
		WithArgs("waiting", now).
		WillReturnRows(rows)

	counts, err := store.CountByState(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCounts{Waiting: 4, Delayed: 2, Active: 1, Failed: 3}, counts)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobStore_MarkCompleted(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	id := uuid.New()
	now := time.Now().UTC()

	t.Run("Active", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs`).
			WithArgs("completed", "wamid.X", now, id, "active").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		assert.NoError(t, store.MarkCompleted(context.Background(), id, "wamid.X", now))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("AlreadyRecovered", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs`).
			WithArgs("completed", "wamid.X", now, id, "active").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(id).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

		err := store.MarkCompleted(context.Background(), id, "wamid.X", now)
		assert.ErrorIs(t, err, domain.ErrJobNotActive)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		mockPool.ExpectExec(`UPDATE outbound_jobs`).
			WithArgs("completed", "wamid.X", now, id, "active").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(id).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(false))

		err := store.MarkCompleted(context.Background(), id, "wamid.X", now)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgJobStore_MarkRetryAndFailed_RequireActive(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	id := uuid.New()
	now := time.Now().UTC()
	next := now.Add(time.Minute)

	mockPool.ExpectExec(`UPDATE outbound_jobs`).
		WithArgs("waiting", next, "provider 503", id, "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkRetry(context.Background(), id, next, "provider 503"))

	mockPool.ExpectExec(`UPDATE outbound_jobs`).
		WithArgs("failed", "provider 400", now, id, "active").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mockPool.ExpectQuery(`SELECT EXISTS`).
		WithArgs(id).
		WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))
	assert.ErrorIs(t, store.MarkFailed(context.Background(), id, "provider 400", now), domain.ErrJobNotActive)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgJobStore_RecoverActive(t *testing.T) {
	store, mockPool := setupJobStoreTest(t)
	defer mockPool.Close()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	staleBefore := at.Add(-40 * time.Second)
	mockPool.ExpectExec(`UPDATE outbound_jobs SET state = \$1, last_error = \$2`).
		WithArgs("failed", "interrupted", at, "active", staleBefore).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.RecoverActive(context.Background(), "interrupted", staleBefore, at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mockPool.ExpectExec(`UPDATE outbound_jobs SET state = \$1, last_error = \$2`).
		WithArgs("failed", "interrupted", at, "active", staleBefore).
		WillReturnError(errors.New("connection reset"))
	_, err = store.RecoverActive(context.Background(), "interrupted", staleBefore, at)
	assert.ErrorContains(t, err, "recover active jobs")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
