package domain

import (
	"math"
	"time"
)

// StatusChangeEvent is published after every applied status report, including
// duplicates and regressions, so subscribers see the full report stream.
type StatusChangeEvent struct {
	MessageID      string    `json:"message_id"`
	Recipient      string    `json:"recipient"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Status         Status    `json:"status"`         // as reported
	CurrentStatus  Status    `json:"current_status"` // after applying
	RawStatus      string    `json:"raw_status"`
	Regressed      bool      `json:"regressed"`
	Timestamp      time.Time `json:"timestamp"`
	ErrorCode      int       `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	// Origin is the node that produced the event; used to drop relay echoes.
	Origin string `json:"origin,omitempty"`
}

// Statistics summarises delivery outcomes over a window.
type Statistics struct {
	From         time.Time        `json:"from,omitempty"`
	To           time.Time        `json:"to,omitempty"`
	Total        int64            `json:"total"`
	ByStatus     map[Status]int64 `json:"by_status"`
	DeliveryRate float64          `json:"delivery_rate"`
	ReadRate     float64          `json:"read_rate"`
}

// ComputeStatistics derives rates from per-status counts. Delivery rate is
// (delivered+read)/total and read rate is read/(delivered+read), both as
// percentages rounded to two decimals, and 0 when the denominator is 0.
func ComputeStatistics(counts map[Status]int64, from, to time.Time) Statistics {
	st := Statistics{From: from, To: to, ByStatus: make(map[Status]int64, len(AllStatuses))}
	for _, s := range AllStatuses {
		st.ByStatus[s] = counts[s]
		st.Total += counts[s]
	}
	reached := counts[StatusDelivered] + counts[StatusRead]
	st.DeliveryRate = percent(reached, st.Total)
	st.ReadRate = percent(counts[StatusRead], reached)
	return st
}

func percent(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(d)*100*100) / 100
}
