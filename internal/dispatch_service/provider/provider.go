package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
)

// SendRequest is one outbound message handed to a provider.
type SendRequest struct {
	JobID   string
	To      string
	Payload domain.Payload
}

// SendResponse carries the provider's message id, the join key for status callbacks.
type SendResponse struct {
	ProviderMessageID string
	StatusCode        int
}

// Sender is implemented by every messaging provider adapter.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResponse, error)
	GetName() string
}

// SendError describes a rejected or failed provider call.
type SendError struct {
	StatusCode int    // HTTP status, 0 for network failures
	Code       int    // Provider error code, if any
	Message    string
	Transient  bool   // Worth retrying: network, 5xx, throttling, breaker open
	Err        error  // Underlying cause, if any
}

func (e *SendError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	msg := fmt.Sprintf("provider %s error (status %d, code %d): %s", kind, e.StatusCode, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a SendError marked transient. Unknown
// errors (timeouts, panics) count as transient.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Transient
	}
	return err != nil
}
