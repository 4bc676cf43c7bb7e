package domain

import "strings"

// Status is the canonical delivery state of a sent message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// AllStatuses lists every canonical status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed}

// ParseStatus maps a provider status string to a canonical Status.
// Anything unrecognised maps to pending.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read", "played":
		return StatusRead
	case "failed", "undeliverable":
		return StatusFailed
	default:
		return StatusPending
	}
}

// Valid reports whether s is a canonical status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// Terminal statuses never change once reached.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Advance returns the status a record at current moves to when incoming is
// reported, and whether it moved. Failed is reachable from any non-terminal
// status; otherwise only forward moves are taken.
func Advance(current, incoming Status) (Status, bool) {
	if current.Terminal() || incoming == current {
		return current, false
	}
	if incoming == StatusFailed || incoming.rank() > current.rank() {
		return incoming, true
	}
	return current, false
}
