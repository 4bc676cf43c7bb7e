package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fanout",
		Name:      "websocket_connections",
		Help:      "Open websocket subscriber connections.",
	},
)

// Handler upgrades GET /ws requests and registers the connection as a
// subscriber. Initial topics come from repeated ?topic= query parameters.
type Handler struct {
	registry       Registry
	allowedOrigins []string
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins list
// accepts any origin.
func NewHandler(registry Registry, allowedOrigins []string, logger *slog.Logger) *Handler {
	h := &Handler{
		registry:       registry,
		allowedOrigins: allowedOrigins,
		logger:         logger.With("component", "websocket_handler"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	h.logger.Warn("Websocket connection rejected", "origin", origin)
	return false
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	for _, topic := range topics {
		if !ValidTopic(topic) {
			http.Error(w, "invalid topic: "+topic, http.StatusBadRequest)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, h.registry, h.logger)
	connectionsGauge.Inc()
	for _, topic := range topics {
		client.subscribe(topic)
	}
	h.logger.InfoContext(r.Context(), "Websocket client connected", "client_id", client.ID(), "topics", topics)
	client.start()
}
