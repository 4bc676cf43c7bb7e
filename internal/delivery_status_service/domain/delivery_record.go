package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusEvent is one status report from the provider for a sent message.
type StatusEvent struct {
	ProviderMessageID string    `json:"provider_message_id"`
	RawStatus         string    `json:"raw_status"`
	Timestamp         time.Time `json:"timestamp"`
	Recipient         string    `json:"recipient,omitempty"`
	ErrorCode         int       `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
}

// StatusHistoryEntry records one report as received. History is append-only.
type StatusHistoryEntry struct {
	Status       Status    `json:"status"`
	RawStatus    string    `json:"raw_status"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorCode    int       `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// DeliveryRecord tracks one provider message from acceptance to its final state.
type DeliveryRecord struct {
	ID                uuid.UUID            `json:"id"`
	ProviderMessageID string               `json:"provider_message_id"`
	Recipient         string               `json:"recipient"`
	ConversationID    string               `json:"conversation_id,omitempty"`
	Status            Status               `json:"status"`
	History           []StatusHistoryEntry `json:"history"`
	SentAt            *time.Time           `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time           `json:"delivered_at,omitempty"`
	ReadAt            *time.Time           `json:"read_at,omitempty"`
	FailedAt          *time.Time           `json:"failed_at,omitempty"`
	ErrorCode         int                  `json:"error_code,omitempty"`
	ErrorMessage      string               `json:"error_message,omitempty"`
	Metadata          map[string]string    `json:"metadata,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// NewDeliveryRecord creates the pending record for a message the provider accepted.
func NewDeliveryRecord(providerMessageID, recipient, conversationID string, metadata map[string]string) *DeliveryRecord {
	now := time.Now().UTC()
	return &DeliveryRecord{
		ID:                uuid.New(),
		ProviderMessageID: providerMessageID,
		Recipient:         recipient,
		ConversationID:    conversationID,
		Status:            StatusPending,
		History:           []StatusHistoryEntry{},
		Metadata:          metadata,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ApplyOutcome describes what one StatusEvent did to a record.
type ApplyOutcome struct {
	Previous Status
	Reported Status
	Current  Status
	Advanced bool
}

// Regressed reports whether the event named a different status that was not taken.
func (o ApplyOutcome) Regressed() bool {
	return !o.Advanced && o.Reported != o.Previous
}

// Apply records ev on r: the history entry is always appended, the per-status
// timestamp is set on first report, and the current status only moves forward.
func (r *DeliveryRecord) Apply(ev StatusEvent) ApplyOutcome {
	reported := ParseStatus(ev.RawStatus)
	ts := ev.Timestamp.UTC()
	if ev.Timestamp.IsZero() {
		ts = time.Now().UTC()
	}

	r.History = append(r.History, StatusHistoryEntry{
		Status:       reported,
		RawStatus:    ev.RawStatus,
		Timestamp:    ts,
		ErrorCode:    ev.ErrorCode,
		ErrorMessage: ev.ErrorMessage,
	})

	switch reported {
	case StatusSent:
		setOnce(&r.SentAt, ts)
	case StatusDelivered:
		setOnce(&r.DeliveredAt, ts)
	case StatusRead:
		setOnce(&r.ReadAt, ts)
	case StatusFailed:
		setOnce(&r.FailedAt, ts)
	}

	out := ApplyOutcome{Previous: r.Status, Reported: reported}
	r.Status, out.Advanced = Advance(r.Status, reported)
	out.Current = r.Status
	if out.Advanced && reported == StatusFailed {
		r.ErrorCode = ev.ErrorCode
		r.ErrorMessage = ev.ErrorMessage
	}
	r.UpdatedAt = time.Now().UTC()
	return out
}

func setOnce(dst **time.Time, ts time.Time) {
	if *dst == nil {
		t := ts
		*dst = &t
	}
}

// Clone copies r including its history and timestamps.
func (r *DeliveryRecord) Clone() *DeliveryRecord {
	c := *r
	c.History = append([]StatusHistoryEntry(nil), r.History...)
	if c.History == nil {
		c.History = []StatusHistoryEntry{}
	}
	for _, p := range []**time.Time{&c.SentAt, &c.DeliveredAt, &c.ReadAt, &c.FailedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
