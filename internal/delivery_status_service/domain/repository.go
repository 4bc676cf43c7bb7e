package domain

import (
	"context"
	"time"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Page selects a window of a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies the default and maximum limit.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// DeliveryRecordRepository persists delivery records.
type DeliveryRecordRepository interface {
	// Create fails with ErrDuplicateRecord if the provider message id exists.
	Create(ctx context.Context, rec *DeliveryRecord) error
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*DeliveryRecord, error)
	// Update loads the record, runs fn on it and stores the result atomically
	// with respect to other Update calls for the same id. History entries added
	// by fn are appended; existing ones are never rewritten.
	Update(ctx context.Context, providerMessageID string, fn func(*DeliveryRecord) error) (*DeliveryRecord, error)
	ListByRecipient(ctx context.Context, recipient string, page Page) ([]*DeliveryRecord, error)
	ListByStatus(ctx context.Context, status Status, page Page) ([]*DeliveryRecord, error)
	// CountByStatus counts records created in [from, to). Zero bounds are open.
	CountByStatus(ctx context.Context, from, to time.Time) (map[Status]int64, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
