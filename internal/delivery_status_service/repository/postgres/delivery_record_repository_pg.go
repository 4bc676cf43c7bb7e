package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/aradsms/messaging_gateway/internal/platform/database"
	"github.com/jackc/pgx/v5"
)

const recordColumns = `id, provider_message_id, recipient, COALESCE(conversation_id, ''), status,
	sent_at, delivered_at, read_at, failed_at, COALESCE(error_code, 0), COALESCE(error_message, ''),
	COALESCE(metadata, '{}'::jsonb), created_at, updated_at`

// PgDeliveryRecordRepository stores records in delivery_records and their
// history in delivery_status_history, which is only ever inserted into.
type PgDeliveryRecordRepository struct {
	db     database.DBPool
	logger *slog.Logger
}

var _ domain.DeliveryRecordRepository = (*PgDeliveryRecordRepository)(nil)

func NewPgDeliveryRecordRepository(db database.DBPool, logger *slog.Logger) *PgDeliveryRecordRepository {
	return &PgDeliveryRecordRepository{db: db, logger: logger.With("component", "delivery_record_repository_pg")}
}

func scanRecord(row pgx.Row) (*domain.DeliveryRecord, error) {
	var (
		rec          domain.DeliveryRecord
		status       string
		metadataJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ProviderMessageID, &rec.Recipient, &rec.ConversationID, &status,
		&rec.SentAt, &rec.DeliveredAt, &rec.ReadAt, &rec.FailedAt, &rec.ErrorCode, &rec.ErrorMessage,
		&metadataJSON, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.Status(status)
	rec.History = []domain.StatusHistoryEntry{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode record metadata: %w", err)
		}
		if len(rec.Metadata) == 0 {
			rec.Metadata = nil
		}
	}
	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func (r *PgDeliveryRecordRepository) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	if rec.ProviderMessageID == "" {
		return domain.ErrMissingID
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode record metadata: %w", err)
	}

	query := `INSERT INTO delivery_records (id, provider_message_id, recipient, conversation_id, status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (provider_message_id) DO NOTHING`
	tag, err := r.db.Exec(ctx, query,
		rec.ID, rec.ProviderMessageID, rec.Recipient, nullIfEmpty(rec.ConversationID), string(rec.Status),
		metadata, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating delivery record", "error", err, "provider_message_id", rec.ProviderMessageID)
		return fmt.Errorf("create delivery record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateRecord
	}
	return nil
}

func (r *PgDeliveryRecordRepository) GetByProviderMessageID(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	rec, err := scanRecord(r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM delivery_records WHERE provider_message_id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting delivery record", "error", err, "provider_message_id", id)
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	if err := r.attachHistory(ctx, r.db, []*domain.DeliveryRecord{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update locks the record row for the length of the transaction.
func (r *PgDeliveryRecordRepository) Update(ctx context.Context, id string, fn func(*domain.DeliveryRecord) error) (*domain.DeliveryRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delivery record update: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.WarnContext(ctx, "Rollback failed", "error", rbErr, "provider_message_id", id)
		}
	}()

	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM delivery_records WHERE provider_message_id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("lock delivery record: %w", err)
	}
	if err := r.attachHistory(ctx, tx, []*domain.DeliveryRecord{rec}); err != nil {
		return nil, err
	}
	stored := len(rec.History)

	if err := fn(rec); err != nil {
		return nil, err
	}

	query := `UPDATE delivery_records
		SET status = $1, sent_at = $2, delivered_at = $3, read_at = $4, failed_at = $5,
			error_code = $6, error_message = $7, updated_at = $8
		WHERE provider_message_id = $9`
	if _, err := tx.Exec(ctx, query,
		string(rec.Status), rec.SentAt, rec.DeliveredAt, rec.ReadAt, rec.FailedAt,
		nullIfZero(rec.ErrorCode), nullIfEmpty(rec.ErrorMessage), rec.UpdatedAt, id,
	); err != nil {
		return nil, fmt.Errorf("update delivery record: %w", err)
	}

	for _, h := range rec.History[min(stored, len(rec.History)):] {
		if _, err := tx.Exec(ctx,
			`INSERT INTO delivery_status_history (provider_message_id, status, raw_status, reported_at, error_code, error_message)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, string(h.Status), h.RawStatus, h.Timestamp, nullIfZero(h.ErrorCode), nullIfEmpty(h.ErrorMessage),
		); err != nil {
			return nil, fmt.Errorf("append status history: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delivery record update: %w", err)
	}
	return rec, nil
}

func (r *PgDeliveryRecordRepository) ListByRecipient(ctx context.Context, recipient string, page domain.Page) ([]*domain.DeliveryRecord, error) {
	return r.list(ctx, `recipient = $1`, recipient, page)
}

func (r *PgDeliveryRecordRepository) ListByStatus(ctx context.Context, status domain.Status, page domain.Page) ([]*domain.DeliveryRecord, error) {
	return r.list(ctx, `status = $1`, string(status), page)
}

func (r *PgDeliveryRecordRepository) list(ctx context.Context, where string, arg any, page domain.Page) ([]*domain.DeliveryRecord, error) {
	page = page.Normalize()
	query := `SELECT ` + recordColumns + ` FROM delivery_records WHERE ` + where +
		` ORDER BY created_at DESC, provider_message_id DESC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, arg, page.Limit, page.Offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing delivery records", "error", err)
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	records := []*domain.DeliveryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}
	rows.Close()

	if err := r.attachHistory(ctx, r.db, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *PgDeliveryRecordRepository) attachHistory(ctx context.Context, q database.Querier, records []*domain.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[string]*domain.DeliveryRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		byID[rec.ProviderMessageID] = rec
		ids = append(ids, rec.ProviderMessageID)
	}

	rows, err := q.Query(ctx,
		`SELECT provider_message_id, status, raw_status, reported_at, COALESCE(error_code, 0), COALESCE(error_message, '')
		FROM delivery_status_history WHERE provider_message_id = ANY($1) ORDER BY id ASC`, ids)
	if err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id, status string
			h          domain.StatusHistoryEntry
		)
		if err := rows.Scan(&id, &status, &h.RawStatus, &h.Timestamp, &h.ErrorCode, &h.ErrorMessage); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		h.Status = domain.Status(status)
		if rec, ok := byID[id]; ok {
			rec.History = append(rec.History, h)
		}
	}
	return rows.Err()
}

func (r *PgDeliveryRecordRepository) CountByStatus(ctx context.Context, from, to time.Time) (map[domain.Status]int64, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}
	query := `SELECT status, COUNT(*) FROM delivery_records
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
		  AND ($2::timestamptz IS NULL OR created_at < $2)
		GROUP BY status`
	rows, err := r.db.Query(ctx, query, fromArg, toArg)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error counting delivery records", "error", err)
		return nil, fmt.Errorf("count delivery records: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *PgDeliveryRecordRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM delivery_records WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "Error purging delivery records", "error", err)
		return 0, fmt.Errorf("purge delivery records: %w", err)
	}
	return tag.RowsAffected(), nil
}
