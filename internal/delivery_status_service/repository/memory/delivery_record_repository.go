package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
)

// DeliveryRecordRepository keeps records in process memory. Update holds the
// store lock for the duration of fn, so same-id updates never interleave.
type DeliveryRecordRepository struct {
	mu      sync.Mutex
	records map[string]*domain.DeliveryRecord
}

var _ domain.DeliveryRecordRepository = (*DeliveryRecordRepository)(nil)

func NewDeliveryRecordRepository() *DeliveryRecordRepository {
	return &DeliveryRecordRepository{records: make(map[string]*domain.DeliveryRecord)}
}

func (r *DeliveryRecordRepository) Create(_ context.Context, rec *domain.DeliveryRecord) error {
	if rec.ProviderMessageID == "" {
		return domain.ErrMissingID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ProviderMessageID]; ok {
		return domain.ErrDuplicateRecord
	}
	r.records[rec.ProviderMessageID] = rec.Clone()
	return nil
}

func (r *DeliveryRecordRepository) GetByProviderMessageID(_ context.Context, id string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (r *DeliveryRecordRepository) Update(_ context.Context, id string, fn func(*domain.DeliveryRecord) error) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	working := stored.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// Keep the stored prefix of the history; only accept appended entries.
	working.History = append(append([]domain.StatusHistoryEntry(nil), stored.History...), working.History[min(len(stored.History), len(working.History)):]...)
	r.records[id] = working
	return working.Clone(), nil
}

func (r *DeliveryRecordRepository) ListByRecipient(_ context.Context, recipient string, page domain.Page) ([]*domain.DeliveryRecord, error) {
	return r.list(page, func(rec *domain.DeliveryRecord) bool { return rec.Recipient == recipient }), nil
}

func (r *DeliveryRecordRepository) ListByStatus(_ context.Context, status domain.Status, page domain.Page) ([]*domain.DeliveryRecord, error) {
	return r.list(page, func(rec *domain.DeliveryRecord) bool { return rec.Status == status }), nil
}

func (r *DeliveryRecordRepository) list(page domain.Page, match func(*domain.DeliveryRecord) bool) []*domain.DeliveryRecord {
	page = page.Normalize()
	r.mu.Lock()
	var matched []*domain.DeliveryRecord
	for _, rec := range r.records {
		if match(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ProviderMessageID > matched[j].ProviderMessageID
	})
	if page.Offset >= len(matched) {
		return []*domain.DeliveryRecord{}
	}
	end := min(page.Offset+page.Limit, len(matched))
	return matched[page.Offset:end]
}

func (r *DeliveryRecordRepository) CountByStatus(_ context.Context, from, to time.Time) (map[domain.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[domain.Status]int64)
	for _, rec := range r.records {
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.CreatedAt.Before(to) {
			continue
		}
		counts[rec.Status]++
	}
	return counts, nil
}

func (r *DeliveryRecordRepository) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			n++
		}
	}
	return n, nil
}
