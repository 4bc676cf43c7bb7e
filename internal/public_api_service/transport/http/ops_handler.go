package http

import (
	"context"
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

// QueueOperator is the operational surface of the dispatcher.
type QueueOperator interface {
	Stats(ctx context.Context) (domain.JobCounts, error)
	GetJob(ctx context.Context, id uuid.UUID) (*domain.OutboundJob, error)
	Pause()
	Resume()
	IsPaused() bool
	Cleanup(ctx context.Context, policy dispatchapp.RetentionPolicy) (dispatchapp.CleanupResult, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Requeue(ctx context.Context, id uuid.UUID) error
}

// DeliveryPurger removes old delivery records.
type DeliveryPurger interface {
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// RetentionDefaults are the configured windows used when a request does not override them.
type RetentionDefaults struct {
	Jobs       dispatchapp.RetentionPolicy
	Deliveries time.Duration
}

type OpsHandler struct {
	queue     QueueOperator
	purger    DeliveryPurger
	retention RetentionDefaults
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewOpsHandler(queue QueueOperator, purger DeliveryPurger, retention RetentionDefaults, validate *validator.Validate, logger *slog.Logger) *OpsHandler {
	return &OpsHandler{
		queue:     queue,
		purger:    purger,
		retention: retention,
		validate:  validate,
		logger:    logger.With("handler", "ops"),
	}
}

func (h *OpsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/stats", h.handleStats)
		r.Post("/pause", h.handlePause)
		r.Post("/resume", h.handleResume)
		r.Post("/cleanup", h.handleCleanup)
		r.Get("/jobs/{jobID}", h.handleGetJob)
		r.Post("/jobs/{jobID}/cancel", h.handleCancel)
		r.Post("/jobs/{jobID}/requeue", h.handleRequeue)
	})
	r.Post("/deliveries/purge", h.handlePurge)
}

func (h *OpsHandler) requestLogger(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", chi_middleware.GetReqID(r.Context()))
}

func (h *OpsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	counts, err := h.queue.Stats(r.Context())
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to read queue stats", "error", err)
		jsonError(w, logger, http.StatusInternalServerError, "Failed to read queue stats", "")
		return
	}
	respondJSON(w, logger, http.StatusOK, counts)
}

func (h *OpsHandler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.queue.Pause()
	respondJSON(w, h.requestLogger(r), http.StatusOK, PausedResponse{Paused: h.queue.IsPaused()})
}

func (h *OpsHandler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.queue.Resume()
	respondJSON(w, h.requestLogger(r), http.StatusOK, PausedResponse{Paused: h.queue.IsPaused()})
}

func (h *OpsHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var req CleanupRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}

	policy := h.retention.Jobs
	if req.CompletedRetentionHours > 0 {
		policy.Completed = time.Duration(req.CompletedRetentionHours) * time.Hour
	}
	if req.FailedRetentionHours > 0 {
		policy.Failed = time.Duration(req.FailedRetentionHours) * time.Hour
	}

	res, err := h.queue.Cleanup(ctx, policy)
	if err != nil {
		logger.ErrorContext(ctx, "Queue cleanup failed", "error", err)
		jsonError(w, logger, http.StatusInternalServerError, "Queue cleanup failed", "")
		return
	}
	respondJSON(w, logger, http.StatusOK, res)
}

func (h *OpsHandler) handlePurge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.requestLogger(r)

	var req PurgeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid request payload", err.Error())
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Validation failed", err.Error())
		return
	}
	retention := h.retention.Deliveries
	if req.RetentionDays > 0 {
		retention = time.Duration(req.RetentionDays) * 24 * time.Hour
	}

	n, err := h.purger.PurgeOlderThan(ctx, retention)
	if err != nil {
		logger.ErrorContext(ctx, "Delivery purge failed", "error", err)
		jsonError(w, logger, http.StatusInternalServerError, "Delivery purge failed", "")
		return
	}
	respondJSON(w, logger, http.StatusOK, PurgeResponse{Deleted: n})
}

func (h *OpsHandler) parseJobID(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid job ID format", "")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OpsHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	logger := h.requestLogger(r)
	id, ok := h.parseJobID(w, r, logger)
	if !ok {
		return
	}
	job, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		h.jobError(w, r, logger, err, id)
		return
	}
	respondJSON(w, logger, http.StatusOK, job)
}

func (h *OpsHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.queue.Cancel)
}

func (h *OpsHandler) handleRequeue(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.queue.Requeue)
}

func (h *OpsHandler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, uuid.UUID) error) {
	logger := h.requestLogger(r)
	id, ok := h.parseJobID(w, r, logger)
	if !ok {
		return
	}
	if err := op(r.Context(), id); err != nil {
		h.jobError(w, r, logger, err, id)
		return
	}
	job, err := h.queue.GetJob(r.Context(), id)
	if err != nil {
		h.jobError(w, r, logger, err, id)
		return
	}
	respondJSON(w, logger, http.StatusOK, job)
}

func (h *OpsHandler) jobError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, id uuid.UUID) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		jsonError(w, logger, http.StatusNotFound, "Job not found", "")
	case errors.Is(err, domain.ErrJobNotCancellable), errors.Is(err, domain.ErrJobNotRequeueable):
		jsonError(w, logger, http.StatusConflict, "Job state does not allow this operation", err.Error())
	default:
		logger.ErrorContext(r.Context(), "Job operation failed", "error", err, "job_id", id)
		jsonError(w, logger, http.StatusInternalServerError, "Job operation failed", "")
	}
}
