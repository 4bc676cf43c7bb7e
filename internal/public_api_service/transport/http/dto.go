package http

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SendMessageRequest is the body of POST /api/v1/messages. Payload holds the
// kind-specific fields, e.g. {"body":"hi"} for text.
type SendMessageRequest struct {
	To             string            `json:"to" validate:"required,e164"`
	Kind           string            `json:"kind" validate:"required,oneof=text template media otp reply_buttons list cta_button"`
	Payload        json.RawMessage   `json:"payload" validate:"required"`
	DelaySeconds   int               `json:"delay_seconds,omitempty" validate:"gte=0,lte=2592000"`
	Priority       int               `json:"priority,omitempty" validate:"gte=0,lte=10"`
	MaxAttempts    int               `json:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	ConversationID string            `json:"conversation_id,omitempty" validate:"max=128"`
	Metadata       map[string]string `json:"metadata,omitempty" validate:"max=20"`
}

type SendMessageResponse struct {
	JobID       uuid.UUID `json:"job_id"`
	Kind        string    `json:"kind"`
	To          string    `json:"to"`
	Status      string    `json:"status"`
	AvailableAt time.Time `json:"available_at"`
}

// CleanupRequest overrides the configured retention windows for one run.
// Zero fields fall back to the configured values.
type CleanupRequest struct {
	CompletedRetentionHours int `json:"completed_retention_hours,omitempty" validate:"gte=0,lte=8760"`
	FailedRetentionHours    int `json:"failed_retention_hours,omitempty" validate:"gte=0,lte=8760"`
}

// PurgeRequest overrides the delivery record retention for one run.
type PurgeRequest struct {
	RetentionDays int `json:"retention_days,omitempty" validate:"gte=0,lte=3650"`
}

type PurgeResponse struct {
	Deleted int64 `json:"deleted"`
}

type PausedResponse struct {
	Paused bool `json:"paused"`
}

// GenericErrorResponse for API errors
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
