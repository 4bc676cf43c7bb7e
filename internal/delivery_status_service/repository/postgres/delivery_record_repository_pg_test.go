package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordRowColumns = []string{
	"id", "provider_message_id", "recipient", "conversation_id", "status",
	"sent_at", "delivered_at", "read_at", "failed_at", "error_code", "error_message",
	"metadata", "created_at", "updated_at",
}

var historyRowColumns = []string{"provider_message_id", "status", "raw_status", "reported_at", "error_code", "error_message"}

func setupRecordRepoTest(t *testing.T) (*PgDeliveryRecordRepository, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPgDeliveryRecordRepository(mockPool, logger), mockPool
}

func TestPgDeliveryRecordRepository_Create(t *testing.T) {
	repo, mockPool := setupRecordRepoTest(t)
	defer mockPool.Close()

	rec := domain.NewDeliveryRecord("wamid.1", "+221700000000", "", nil)

	t.Run("Inserted", func(t *testing.T) {
		mockPool.ExpectExec(`INSERT INTO delivery_records`).
			WithArgs(rec.ID, "wamid.1", "+221700000000", pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Create(context.Background(), rec))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("Duplicate", func(t *testing.T) {
		mockPool.ExpectExec(`INSERT INTO delivery_records`).
			WithArgs(rec.ID, "wamid.1", "+221700000000", pgxmock.AnyArg(), "pending", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		assert.ErrorIs(t, repo.Create(context.Background(), rec), domain.ErrDuplicateRecord)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDeliveryRecordRepository_GetByProviderMessageID(t *testing.T) {
	repo, mockPool := setupRecordRepoTest(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	id := uuid.New()

	t.Run("FoundWithHistory", func(t *testing.T) {
		sentAt := now.Add(-time.Minute)
		mockPool.ExpectQuery(`FROM delivery_records WHERE provider_message_id = \$1`).
			WithArgs("wamid.1").
			WillReturnRows(mockPool.NewRows(recordRowColumns).AddRow(
				id, "wamid.1", "+221700000000", "conv-1", "sent",
				&sentAt, nil, nil, nil, 0, "", []byte(`{}`), now, now,
			))
		mockPool.ExpectQuery(`FROM delivery_status_history`).
			WithArgs([]string{"wamid.1"}).
			WillReturnRows(mockPool.NewRows(historyRowColumns).
				AddRow("wamid.1", "sent", "sent", sentAt, 0, ""))

		rec, err := repo.GetByProviderMessageID(context.Background(), "wamid.1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSent, rec.Status)
		assert.Equal(t, "conv-1", rec.ConversationID)
		require.Len(t, rec.History, 1)
		assert.Equal(t, domain.StatusSent, rec.History[0].Status)
		assert.Nil(t, rec.Metadata)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery(`FROM delivery_records WHERE provider_message_id = \$1`).
			WithArgs("wamid.missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.GetByProviderMessageID(context.Background(), "wamid.missing")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgDeliveryRecordRepository_UpdateAppendsHistory(t *testing.T) {
	repo, mockPool := setupRecordRepoTest(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	id := uuid.New()
	deliveredAt := time.Unix(1700000100, 0).UTC()

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`FOR UPDATE`).
		WithArgs("wamid.1").
		WillReturnRows(mockPool.NewRows(recordRowColumns).AddRow(
			id, "wamid.1", "+221700000000", "", "pending",
			nil, nil, nil, nil, 0, "", []byte(`{}`), now, now,
		))
	mockPool.ExpectQuery(`FROM delivery_status_history`).
		WithArgs([]string{"wamid.1"}).
		WillReturnRows(mockPool.NewRows(historyRowColumns))
	mockPool.ExpectExec(`UPDATE delivery_records`).
		WithArgs("delivered", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "wamid.1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`INSERT INTO delivery_status_history`).
		WithArgs("wamid.1", "delivered", "delivered", deliveredAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	rec, err := repo.Update(context.Background(), "wamid.1", func(r *domain.DeliveryRecord) error {
		r.Apply(domain.StatusEvent{ProviderMessageID: "wamid.1", RawStatus: "delivered", Timestamp: deliveredAt})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, rec.Status)
	assert.Len(t, rec.History, 1)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgDeliveryRecordRepository_UpdateStoresLongRawStatus(t *testing.T) {
	repo, mockPool := setupRecordRepoTest(t)
	defer mockPool.Close()

	now := time.Now().UTC()
	reportedAt := time.Unix(1700000100, 0).UTC()
	raw := "pending_carrier_" + strings.Repeat("x", 200)

	mockPool.ExpectBegin()
	mockPool.ExpectQuery(`FOR UPDATE`).
		WithArgs("wamid.2").
		WillReturnRows(mockPool.NewRows(recordRowColumns).AddRow(
			uuid.New(), "wamid.2", "+221700000000", "", "pending",
			nil, nil, nil, nil, 0, "", []byte(`{}`), now, now,
		))
	mockPool.ExpectQuery(`FROM delivery_status_history`).
		WithArgs([]string{"wamid.2"}).
		WillReturnRows(mockPool.NewRows(historyRowColumns))
	mockPool.ExpectExec(`UPDATE delivery_records`).
		WithArgs("pending", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "wamid.2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mockPool.ExpectExec(`INSERT INTO delivery_status_history`).
		WithArgs("wamid.2", "pending", raw, reportedAt, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	rec, err := repo.Update(context.Background(), "wamid.2", func(r *domain.DeliveryRecord) error {
		r.Apply(domain.StatusEvent{ProviderMessageID: "wamid.2", RawStatus: raw, Timestamp: reportedAt})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMigration_RawStatusIsUnbounded(t *testing.T) {
	ddl, err := os.ReadFile("../../../../migrations/0001_delivery_pipeline.up.sql")
	require.NoError(t, err)
	column := regexp.MustCompile(`(?m)^\s*raw_status\s+(\S+)`).FindSubmatch(ddl)
	require.NotNil(t, column, "raw_status column not found")
	assert.Equal(t, "TEXT", string(column[1]))
}

func TestPgDeliveryRecordRepository_CountByStatus(t *testing.T) {
	repo, mockPool := setupRecordRepoTest(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(`GROUP BY status`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(mockPool.NewRows([]string{"status", "count"}).
			AddRow("delivered", int64(4)).
			AddRow("read", int64(1)))

	counts, err := repo.CountByStatus(context.Background(), time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, map[domain.Status]int64{domain.StatusDelivered: 4, domain.StatusRead: 1}, counts)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
