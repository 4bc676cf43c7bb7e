package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
)

// DeliveryQuerier is the read side of the status tracker.
type DeliveryQuerier interface {
	Get(ctx context.Context, providerMessageID string) (*domain.DeliveryRecord, error)
	ListByRecipient(ctx context.Context, recipient string, page domain.Page) ([]*domain.DeliveryRecord, error)
	ListByStatus(ctx context.Context, status domain.Status, page domain.Page) ([]*domain.DeliveryRecord, error)
	Statistics(ctx context.Context, from, to time.Time) (domain.Statistics, error)
}

type DeliveryHandler struct {
	deliveries DeliveryQuerier
	logger     *slog.Logger
}

func NewDeliveryHandler(deliveries DeliveryQuerier, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{deliveries: deliveries, logger: logger.With("handler", "delivery")}
}

func (h *DeliveryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/deliveries", h.handleList)
	r.Get("/deliveries/stats", h.handleStats)
	r.Get("/deliveries/{providerMessageID}", h.handleGet)
}

type deliveryListResponse struct {
	Items  []*domain.DeliveryRecord `json:"items"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

func (h *DeliveryHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	id := chi.URLParam(r, "providerMessageID")

	rec, err := h.deliveries.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			jsonError(w, logger, http.StatusNotFound, "Delivery record not found", "")
			return
		}
		logger.ErrorContext(ctx, "Failed to get delivery record", "error", err, "provider_message_id", id)
		jsonError(w, logger, http.StatusInternalServerError, "Failed to retrieve delivery record", "")
		return
	}
	respondJSON(w, logger, http.StatusOK, rec)
}

// handleList requires exactly one of recipient or status.
func (h *DeliveryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	q := r.URL.Query()

	page, err := parsePage(q.Get("limit"), q.Get("offset"))
	if err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid paging parameters", err.Error())
		return
	}

	recipient, status := q.Get("recipient"), q.Get("status")
	var records []*domain.DeliveryRecord
	switch {
	case recipient != "" && status == "":
		records, err = h.deliveries.ListByRecipient(ctx, recipient, page)
	case status != "" && recipient == "":
		records, err = h.deliveries.ListByStatus(ctx, domain.Status(status), page)
	default:
		jsonError(w, logger, http.StatusBadRequest, "Exactly one of recipient or status is required", "")
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidStatus) {
			jsonError(w, logger, http.StatusBadRequest, "Unknown status", err.Error())
			return
		}
		logger.ErrorContext(ctx, "Failed to list delivery records", "error", err)
		jsonError(w, logger, http.StatusInternalServerError, "Failed to list delivery records", "")
		return
	}
	if records == nil {
		records = []*domain.DeliveryRecord{}
	}
	page = page.Normalize()
	respondJSON(w, logger, http.StatusOK, deliveryListResponse{Items: records, Limit: page.Limit, Offset: page.Offset})
}

// handleStats accepts RFC 3339 from/to bounds; either may be omitted.
func (h *DeliveryHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.With("request_id", chi_middleware.GetReqID(ctx))
	q := r.URL.Query()

	from, err := parseTime(q.Get("from"))
	if err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid from parameter", err.Error())
		return
	}
	to, err := parseTime(q.Get("to"))
	if err != nil {
		jsonError(w, logger, http.StatusBadRequest, "Invalid to parameter", err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		jsonError(w, logger, http.StatusBadRequest, "to must be after from", "")
		return
	}

	stats, err := h.deliveries.Statistics(ctx, from, to)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to compute delivery statistics", "error", err)
		jsonError(w, logger, http.StatusInternalServerError, "Failed to compute statistics", "")
		return
	}
	respondJSON(w, logger, http.StatusOK, stats)
}

func parsePage(limit, offset string) (domain.Page, error) {
	var page domain.Page
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return page, errors.New("limit must be a non-negative integer")
		}
		page.Limit = n
	}
	if offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return page, errors.New("offset must be a non-negative integer")
		}
		page.Offset = n
	}
	return page, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
