package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// WebhookPayload is the provider's callback envelope. Only status updates are
// consumed here; inbound messages are passed through untouched.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry" validate:"dive"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes" validate:"dive"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product,omitempty"`
	Metadata         *ValueMetadata    `json:"metadata,omitempty"`
	Statuses         []StatusUpdate    `json:"statuses,omitempty" validate:"dive"`
	Messages         []json.RawMessage `json:"messages,omitempty"`
}

type ValueMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// StatusUpdate is one delivery status report for an earlier outbound message.
type StatusUpdate struct {
	ID           string        `json:"id" validate:"required"`
	Status       string        `json:"status" validate:"required"`
	Timestamp    UnixTimestamp `json:"timestamp"`
	RecipientID  string        `json:"recipient_id"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Errors       []StatusError `json:"errors,omitempty"`
}

type Conversation struct {
	ID string `json:"id"`
}

type StatusError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// FirstError returns the code and the most descriptive text of the first
// reported error, or zero values when there is none.
func (s StatusUpdate) FirstError() (int, string) {
	if len(s.Errors) == 0 {
		return 0, ""
	}
	e := s.Errors[0]
	if e.Message != "" {
		return e.Code, e.Message
	}
	return e.Code, e.Title
}

// UnixTimestamp decodes unix seconds sent either as a JSON number or as a
// numeric string. Missing or empty values decode to the zero time.
type UnixTimestamp struct {
	time.Time
}

func (t *UnixTimestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		data = []byte(s)
	}
	secs, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q is not unix seconds", data)
	}
	t.Time = time.Unix(secs, 0).UTC()
	return nil
}

func (t UnixTimestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return []byte(strconv.Quote(strconv.FormatInt(t.Unix(), 10))), nil
}
