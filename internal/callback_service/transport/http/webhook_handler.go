package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aradsms/messaging_gateway/internal/callback_service/app"
	"github.com/aradsms/messaging_gateway/internal/callback_service/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
)

const MaxRequestBodySize = 1 << 20 // 1 MB

// CallbackIngestor processes one raw provider callback.
type CallbackIngestor interface {
	Ingest(ctx context.Context, rawBody []byte, signature string) (app.IngestResult, error)
}

type WebhookHandler struct {
	ingestor    CallbackIngestor
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(ingestor CallbackIngestor, verifyToken string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor:    ingestor,
		verifyToken: verifyToken,
		logger:      logger.With("component", "webhook_handler"),
	}
}

// RegisterRoutes mounts the provider callback endpoint.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/provider", h.handleVerify)
	r.Post("/webhooks/provider", h.handleCallback)
}

// handleVerify answers the provider's subscription handshake.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	challenge, err := app.Handshake(h.verifyToken, q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		h.logger.WarnContext(ctx, "Webhook verification rejected",
			"request_id", chi_middleware.GetReqID(ctx), "mode", q.Get("hub.mode"))
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	h.logger.InfoContext(ctx, "Webhook verification succeeded")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

// handleCallback reads the body exactly once; the same bytes are verified and decoded.
func (h *WebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WarnContext(ctx, "Callback body too large", "limit", tooLarge.Limit)
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.ErrorContext(ctx, "Failed to read callback body", "error", err)
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	result, err := h.ingestor.Ingest(ctx, rawBody, r.Header.Get(app.SignatureHeader))
	switch {
	case err == nil:
	case domain.IsAuthError(err):
		logger.WarnContext(ctx, "Callback rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	case errors.Is(err, domain.ErrMalformedPayload):
		logger.WarnContext(ctx, "Malformed callback payload", "error", err, "payload_size", len(rawBody))
		http.Error(w, "Malformed payload", http.StatusBadRequest)
		return
	default:
		logger.ErrorContext(ctx, "Error processing callback", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.WarnContext(ctx, "Failed to write callback response", "error", err)
	}
}
