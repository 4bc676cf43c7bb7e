package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	dispatchapp "github.com/aradsms/messaging_gateway/internal/dispatch_service/app"
	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MessageProducer is the intake side the message endpoint feeds.
type MessageProducer interface {
	Submit(ctx context.Context, to string, payload domain.Payload, delay time.Duration, opts dispatchapp.EnqueueOptions) (uuid.UUID, error)
}

type MessageHandler struct {
	producer MessageProducer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewMessageHandler(producer MessageProducer, validate *validator.Validate, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{
		producer: producer,
		validate: validate,
		logger:   logger.With("handler", "message"),
	}
}

// RegisterRoutes registers message routes with the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSendMessage)
}

func (h *MessageHandler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	kind := domain.JobKind(req.Kind)
	payload, err := domain.DecodePayload(kind, req.Payload)
	if err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid message payload", err.Error())
		return
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	jobID, err := h.producer.Submit(ctx, req.To, payload, delay, dispatchapp.EnqueueOptions{
		Priority:       req.Priority,
		MaxAttempts:    req.MaxAttempts,
		ConversationID: req.ConversationID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPayload) || errors.Is(err, domain.ErrInvalidRecipient) || errors.Is(err, domain.ErrNilPayload) {
			jsonError(w, logger, http.StatusBadRequest, "Invalid message", err.Error())
			return
		}
		logger.ErrorContext(ctx, "Failed to enqueue message", "error", err, "kind", kind)
		jsonError(w, logger, http.StatusInternalServerError, "Failed to queue message", "")
		return
	}

	logger.InfoContext(ctx, "Message accepted", "job_id", jobID, "kind", kind, "delay_seconds", req.DelaySeconds)
	respondJSON(w, logger, http.StatusAccepted, SendMessageResponse{
		JobID:       jobID,
		Kind:        req.Kind,
		To:          req.To,
		Status:      string(domain.StateWaiting),
		AvailableAt: time.Now().UTC().Add(delay),
	})
}
