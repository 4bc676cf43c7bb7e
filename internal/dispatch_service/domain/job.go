package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of an OutboundJob.
type JobState string

const (
	StateWaiting   JobState = "waiting"   // Eligible once AvailableAt has passed
	StateActive    JobState = "active"    // Claimed by a worker
	StateCompleted JobState = "completed" // Provider accepted the message
	StateFailed    JobState = "failed"    // Attempts exhausted or interrupted
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether no further automatic transition can happen.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

const (
	PriorityOTP    = 1
	PriorityNormal = 5
)

// DefaultPriority returns the tier used when the producer does not pick one.
func DefaultPriority(kind JobKind) int {
	if kind == KindOTP {
		return PriorityOTP
	}
	return PriorityNormal
}

// OutboundJob is one message waiting to be handed to the provider.
type OutboundJob struct {
	ID                uuid.UUID         `json:"id"`
	Seq               int64             `json:"-"` // Enqueue order, assigned by the store
	Kind              JobKind           `json:"kind"`
	To                string            `json:"to"`
	Payload           Payload           `json:"-"`
	Priority          int               `json:"priority"`
	State             JobState          `json:"state"`
	AvailableAt       time.Time         `json:"available_at"`
	Attempts          int               `json:"attempts"`
	MaxAttempts       int               `json:"max_attempts"`
	LastError         string            `json:"last_error,omitempty"`
	ConversationID    string            `json:"conversation_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
}

// NewOutboundJob builds a waiting job. A priority of 0 selects the kind's default tier.
func NewOutboundJob(to string, payload Payload, priority, maxAttempts int, availableAt time.Time) (*OutboundJob, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return nil, ErrInvalidRecipient
	}
	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, payload.Kind(), err)
	}
	if priority <= 0 {
		priority = DefaultPriority(payload.Kind())
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	now := time.Now().UTC()
	if availableAt.IsZero() {
		availableAt = now
	}
	return &OutboundJob{
		ID:          uuid.New(),
		Kind:        payload.Kind(),
		To:          to,
		Payload:     payload,
		Priority:    priority,
		State:       StateWaiting,
		AvailableAt: availableAt.UTC(),
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Delayed reports whether a waiting job is scheduled for later than now.
func (j *OutboundJob) Delayed(now time.Time) bool {
	return j.State == StateWaiting && j.AvailableAt.After(now)
}

// MarshalJSON includes the payload, which is otherwise hidden behind the interface.
func (j OutboundJob) MarshalJSON() ([]byte, error) {
	type alias OutboundJob
	var raw json.RawMessage
	if j.Payload != nil {
		var err error
		if raw, err = EncodePayload(j.Payload); err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		alias
		Payload json.RawMessage `json:"payload,omitempty"`
	}{alias: alias(j), Payload: raw})
}

// Clone returns a deep-enough copy for handing jobs across goroutines.
func (j *OutboundJob) Clone() *OutboundJob {
	c := *j
	if j.Metadata != nil {
		c.Metadata = make(map[string]string, len(j.Metadata))
		for k, v := range j.Metadata {
			c.Metadata[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// JobCounts is a snapshot of the queue by state.
type JobCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Cancelled int64 `json:"cancelled"`
	Paused    bool  `json:"paused"`
}
