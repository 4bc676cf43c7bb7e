package app

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
)

// GlobalTopic receives every event.
const GlobalTopic = "global"

func RecipientTopic(recipient string) string { return "recipient:" + recipient }

func ConversationTopic(conversationID string) string { return "conversation:" + conversationID }

// Subscriber is anything that can take a pushed event, typically one live
// client connection. Push must not block; a subscriber that cannot keep up
// returns an error and misses the event.
type Subscriber interface {
	ID() string
	Push(event domain.StatusChangeEvent) error
}

// Publisher keeps the runtime topic registry and pushes status changes to the
// subscribers of the matching topics. Nothing is buffered for subscribers
// that are not connected when an event is published.
type Publisher struct {
	mu     sync.RWMutex
	topics map[string]map[string]Subscriber
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		topics: make(map[string]map[string]Subscriber),
		logger: logger.With("component", "fanout_publisher"),
	}
}

// Subscribe adds sub to topic. Subscribing twice is a no-op.
func (p *Publisher) Subscribe(topic string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.topics[topic]
	if !ok {
		subs = make(map[string]Subscriber)
		p.topics[topic] = subs
	}
	if _, exists := subs[sub.ID()]; exists {
		return
	}
	subs[sub.ID()] = sub
	subscriptionsGauge.Inc()
	p.logger.Debug("Subscribed", "topic", topic, "subscriber_id", sub.ID())
}

// Unsubscribe removes sub from topic. Unknown pairs are ignored.
func (p *Publisher) Unsubscribe(topic string, sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(topic, sub.ID())
}

// UnsubscribeAll drops every subscription held by sub, used on disconnect.
func (p *Publisher) UnsubscribeAll(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic := range p.topics {
		p.removeLocked(topic, sub.ID())
	}
}

func (p *Publisher) removeLocked(topic, id string) {
	subs, ok := p.topics[topic]
	if !ok {
		return
	}
	if _, exists := subs[id]; !exists {
		return
	}
	delete(subs, id)
	subscriptionsGauge.Dec()
	if len(subs) == 0 {
		delete(p.topics, topic)
	}
}

// Topics lists the topics sub is currently subscribed to.
func (p *Publisher) Topics(sub Subscriber) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for topic, subs := range p.topics {
		if _, ok := subs[sub.ID()]; ok {
			out = append(out, topic)
		}
	}
	return out
}

// SubscriberCount reports how many subscribers topic currently has.
func (p *Publisher) SubscriberCount(topic string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.topics[topic])
}

// Publish delivers event to the recipient topic, then the conversation topic
// when the event carries one, then the global topic. A subscriber on several
// of those topics gets the event once.
func (p *Publisher) Publish(ctx context.Context, event domain.StatusChangeEvent) {
	eventsPublishedCounter.Inc()

	topics := []string{RecipientTopic(event.Recipient)}
	if event.ConversationID != "" {
		topics = append(topics, ConversationTopic(event.ConversationID))
	}
	topics = append(topics, GlobalTopic)

	p.mu.RLock()
	seen := make(map[string]struct{})
	var targets []Subscriber
	for _, topic := range topics {
		for id, sub := range p.topics[topic] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, sub)
		}
	}
	p.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Push(event); err != nil {
			deliveriesCounter.WithLabelValues("dropped").Inc()
			p.logger.WarnContext(ctx, "Dropped event for subscriber",
				"subscriber_id", sub.ID(), "provider_message_id", event.MessageID, "error", err)
			continue
		}
		deliveriesCounter.WithLabelValues("delivered").Inc()
	}
}
