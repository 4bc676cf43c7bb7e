package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/aradsms/messaging_gateway/internal/platform/messagebroker"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var relayedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fanout",
		Name:      "bridge_events_total",
		Help:      "Status events relayed through NATS.",
	},
	[]string{"direction", "result"}, // direction: out, in
)

// LocalPublisher delivers an event to subscribers connected to this node.
type LocalPublisher interface {
	Publish(ctx context.Context, event domain.StatusChangeEvent)
}

// Bridge relays status change events between replicas so a subscriber
// connected to any node sees every event. Events are stamped with the
// producing node's id and a node drops its own echoes.
type Bridge struct {
	nc      messagebroker.NATSClient
	local   LocalPublisher
	subject string
	nodeID  string
	logger  *slog.Logger
}

func NewBridge(nc messagebroker.NATSClient, local LocalPublisher, subject, nodeID string, logger *slog.Logger) *Bridge {
	return &Bridge{
		nc:      nc,
		local:   local,
		subject: subject,
		nodeID:  nodeID,
		logger:  logger.With("component", "nats_bridge", "node_id", nodeID),
	}
}

// Publish delivers event locally and forwards it to the other replicas.
// A relay failure is logged; local delivery has already happened.
func (b *Bridge) Publish(ctx context.Context, event domain.StatusChangeEvent) {
	event.Origin = b.nodeID
	b.local.Publish(ctx, event)

	data, err := json.Marshal(event)
	if err != nil {
		relayedCounter.WithLabelValues("out", "error").Inc()
		b.logger.ErrorContext(ctx, "Failed to encode status event", "error", err, "provider_message_id", event.MessageID)
		return
	}
	if err := b.nc.Publish(ctx, b.subject, data); err != nil {
		relayedCounter.WithLabelValues("out", "error").Inc()
		b.logger.WarnContext(ctx, "Failed to relay status event", "error", err, "provider_message_id", event.MessageID)
		return
	}
	relayedCounter.WithLabelValues("out", "ok").Inc()
}

// Start subscribes to the relay subject without a queue group, so every
// replica receives every event. The subscription is drained when ctx ends.
func (b *Bridge) Start(ctx context.Context) error {
	if _, err := b.nc.Subscribe(ctx, b.subject, "", b.handleMessage(ctx)); err != nil {
		return fmt.Errorf("subscribe to status events: %w", err)
	}
	b.logger.InfoContext(ctx, "Status event bridge started", "subject", b.subject)
	return nil
}

func (b *Bridge) handleMessage(ctx context.Context) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var event domain.StatusChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			relayedCounter.WithLabelValues("in", "malformed").Inc()
			b.logger.WarnContext(ctx, "Dropping malformed relayed event", "error", err, "subject", msg.Subject)
			return
		}
		if event.Origin == b.nodeID {
			relayedCounter.WithLabelValues("in", "echo").Inc()
			return
		}
		relayedCounter.WithLabelValues("in", "ok").Inc()
		b.local.Publish(ctx, event)
	}
}
