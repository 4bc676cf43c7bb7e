package app

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
)

const lockStripes = 64

// EventPublisher receives every applied status change.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.StatusChangeEvent)
}

// ApplyResult reports what ApplyStatus did. Orphan means no record exists for
// the provider message id; nothing was changed.
type ApplyResult struct {
	Record  *domain.DeliveryRecord
	Outcome domain.ApplyOutcome
	Orphan  bool
}

// Tracker owns delivery record mutation. Reports for the same provider message
// id are serialized through a striped lock; the repository's Update keeps the
// read-modify-write atomic across processes.
type Tracker struct {
	repo      domain.DeliveryRecordRepository
	publisher EventPublisher
	logger    *slog.Logger
	stripes   [lockStripes]sync.Mutex
}

func NewTracker(repo domain.DeliveryRecordRepository, publisher EventPublisher, logger *slog.Logger) *Tracker {
	return &Tracker{
		repo:      repo,
		publisher: publisher,
		logger:    logger.With("component", "status_tracker"),
	}
}

func (t *Tracker) stripe(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &t.stripes[h.Sum32()%lockStripes]
}

// Seed creates the pending record for a message the provider accepted.
// Seeding the same id twice is a no-op.
func (t *Tracker) Seed(ctx context.Context, providerMessageID, recipient, conversationID string, metadata map[string]string) error {
	rec := domain.NewDeliveryRecord(providerMessageID, recipient, conversationID, metadata)
	if err := t.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrDuplicateRecord) {
			t.logger.WarnContext(ctx, "Delivery record already seeded", "provider_message_id", providerMessageID)
			return nil
		}
		return fmt.Errorf("seed delivery record: %w", err)
	}
	recordsSeededCounter.Inc()
	t.logger.InfoContext(ctx, "Delivery record seeded", "provider_message_id", providerMessageID, "recipient", recipient)
	return nil
}

// ApplyStatus records one provider status report and notifies subscribers.
func (t *Tracker) ApplyStatus(ctx context.Context, ev domain.StatusEvent) (ApplyResult, error) {
	if ev.ProviderMessageID == "" {
		return ApplyResult{}, domain.ErrMissingID
	}

	mu := t.stripe(ev.ProviderMessageID)
	mu.Lock()
	defer mu.Unlock()

	var outcome domain.ApplyOutcome
	rec, err := t.repo.Update(ctx, ev.ProviderMessageID, func(r *domain.DeliveryRecord) error {
		outcome = r.Apply(ev)
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			statusEventsCounter.WithLabelValues(string(domain.ParseStatus(ev.RawStatus)), "orphan").Inc()
			t.logger.WarnContext(ctx, "Status report for unknown message ignored",
				"provider_message_id", ev.ProviderMessageID, "raw_status", ev.RawStatus)
			return ApplyResult{Orphan: true}, nil
		}
		return ApplyResult{}, fmt.Errorf("apply status to %s: %w", ev.ProviderMessageID, err)
	}

	label := "duplicate"
	switch {
	case outcome.Advanced:
		label = "advanced"
	case outcome.Regressed():
		label = "regressed"
	}
	statusEventsCounter.WithLabelValues(string(outcome.Reported), label).Inc()
	t.logger.InfoContext(ctx, "Status applied",
		"provider_message_id", ev.ProviderMessageID, "reported", outcome.Reported,
		"previous", outcome.Previous, "current", outcome.Current, "outcome", label)

	if t.publisher != nil {
		last := rec.History[len(rec.History)-1]
		t.publisher.Publish(ctx, domain.StatusChangeEvent{
			MessageID:      rec.ProviderMessageID,
			Recipient:      rec.Recipient,
			ConversationID: rec.ConversationID,
			Status:         outcome.Reported,
			CurrentStatus:  outcome.Current,
			RawStatus:      ev.RawStatus,
			Regressed:      outcome.Regressed(),
			Timestamp:      last.Timestamp,
			ErrorCode:      ev.ErrorCode,
			ErrorMessage:   ev.ErrorMessage,
		})
	}
	return ApplyResult{Record: rec, Outcome: outcome}, nil
}

func (t *Tracker) Get(ctx context.Context, providerMessageID string) (*domain.DeliveryRecord, error) {
	return t.repo.GetByProviderMessageID(ctx, providerMessageID)
}

func (t *Tracker) ListByRecipient(ctx context.Context, recipient string, page domain.Page) ([]*domain.DeliveryRecord, error) {
	return t.repo.ListByRecipient(ctx, recipient, page.Normalize())
}

func (t *Tracker) ListByStatus(ctx context.Context, status domain.Status, page domain.Page) ([]*domain.DeliveryRecord, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return t.repo.ListByStatus(ctx, status, page.Normalize())
}

// Statistics summarises records created in [from, to). Zero bounds are open.
func (t *Tracker) Statistics(ctx context.Context, from, to time.Time) (domain.Statistics, error) {
	counts, err := t.repo.CountByStatus(ctx, from, to)
	if err != nil {
		return domain.Statistics{}, err
	}
	return domain.ComputeStatistics(counts, from, to), nil
}

// PurgeOlderThan deletes records created more than retention ago.
func (t *Tracker) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := t.repo.DeleteCreatedBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	recordsPurgedCounter.Add(float64(n))
	t.logger.InfoContext(ctx, "Delivery records purged", "count", n, "retention", retention.String())
	return n, nil
}
