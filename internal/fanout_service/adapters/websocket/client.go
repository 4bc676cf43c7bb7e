package websocket

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/aradsms/messaging_gateway/internal/fanout_service/app"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 256
)

const (
	MessageTypeStatus       = "status"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

var (
	ErrSendBufferFull = errors.New("websocket client send buffer full")
	ErrClientClosed   = errors.New("websocket client closed")
)

// Registry is the subscription side of the fan-out publisher.
type Registry interface {
	Subscribe(topic string, sub app.Subscriber)
	Unsubscribe(topic string, sub app.Subscriber)
	UnsubscribeAll(sub app.Subscriber)
}

// Message is the envelope written to clients.
type Message struct {
	Type  string                    `json:"type"`
	Topic string                    `json:"topic,omitempty"`
	Data  *domain.StatusChangeEvent `json:"data,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// Command is what clients send to change their subscriptions.
type Command struct {
	Action string `json:"action"` // subscribe | unsubscribe | ping
	Topic  string `json:"topic"`
}

// Client is one websocket connection acting as a fan-out subscriber.
type Client struct {
	id       string
	conn     *websocket.Conn
	registry Registry
	logger   *slog.Logger

	mu     sync.Mutex
	send   chan Message
	closed bool
}

func NewClient(conn *websocket.Conn, registry Registry, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:       id,
		conn:     conn,
		registry: registry,
		logger:   logger.With("client_id", id),
		send:     make(chan Message, sendBufferSize),
	}
}

func (c *Client) ID() string { return c.id }

// Push queues event for the write pump without blocking.
func (c *Client) Push(event domain.StatusChangeEvent) error {
	return c.enqueue(Message{Type: MessageTypeStatus, Data: &event})
}

func (c *Client) enqueue(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ValidTopic accepts "global", "recipient:<addr>" and "conversation:<id>".
func ValidTopic(topic string) bool {
	if topic == app.GlobalTopic {
		return true
	}
	for _, prefix := range []string{app.RecipientTopic(""), app.ConversationTopic("")} {
		if rest, ok := strings.CutPrefix(topic, prefix); ok && rest != "" {
			return true
		}
	}
	return false
}

func (c *Client) subscribe(topic string) {
	if !ValidTopic(topic) {
		_ = c.enqueue(Message{Type: MessageTypeError, Topic: topic, Error: "invalid topic"})
		return
	}
	c.registry.Subscribe(topic, c)
	_ = c.enqueue(Message{Type: MessageTypeSubscribed, Topic: topic})
}

func (c *Client) handle(cmd Command) {
	switch cmd.Action {
	case "subscribe":
		c.subscribe(cmd.Topic)
	case "unsubscribe":
		c.registry.Unsubscribe(cmd.Topic, c)
		_ = c.enqueue(Message{Type: MessageTypeUnsubscribed, Topic: cmd.Topic})
	case "ping":
		_ = c.enqueue(Message{Type: MessageTypePong})
	default:
		_ = c.enqueue(Message{Type: MessageTypeError, Error: "unknown action"})
	}
}

func (c *Client) readPump() {
	defer func() {
		c.registry.UnsubscribeAll(c)
		c.close()
		_ = c.conn.Close()
		connectionsGauge.Dec()
		c.logger.Info("Websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set read deadline", "error", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd Command
		if err := c.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Unexpected websocket close", "error", err)
			}
			return
		}
		c.handle(cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Warn("Failed to write websocket message", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}
