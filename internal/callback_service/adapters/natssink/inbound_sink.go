package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aradsms/messaging_gateway/internal/platform/messagebroker"
)

// InboundEnvelope is published once per inbound user message.
type InboundEnvelope struct {
	PhoneNumberID string          `json:"phone_number_id,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	Message       json.RawMessage `json:"message"`
}

// InboundSink forwards inbound user messages to NATS for whatever consumes
// conversations. The delivery pipeline itself does not interpret them.
type InboundSink struct {
	nc      messagebroker.NATSClient
	subject string
	logger  *slog.Logger
}

func NewInboundSink(nc messagebroker.NATSClient, subject string, logger *slog.Logger) *InboundSink {
	return &InboundSink{nc: nc, subject: subject, logger: logger.With("component", "inbound_sink")}
}

func (s *InboundSink) HandleInbound(ctx context.Context, phoneNumberID string, messages []json.RawMessage) error {
	now := time.Now().UTC()
	for idx, msg := range messages {
		data, err := json.Marshal(InboundEnvelope{PhoneNumberID: phoneNumberID, ReceivedAt: now, Message: msg})
		if err != nil {
			return fmt.Errorf("encode inbound message %d: %w", idx, err)
		}
		if err := s.nc.Publish(ctx, s.subject, data); err != nil {
			return fmt.Errorf("publish inbound message %d: %w", idx, err)
		}
	}
	s.logger.DebugContext(ctx, "Inbound messages forwarded", "count", len(messages), "subject", s.subject)
	return nil
}
