package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aradsms/messaging_gateway/internal/callback_service/domain"
	statusapp "github.com/aradsms/messaging_gateway/internal/delivery_status_service/app"
	statusdomain "github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	"github.com/go-playground/validator/v10"
)

// StatusApplier is the part of the status tracker the ingestor drives.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, ev statusdomain.StatusEvent) (statusapp.ApplyResult, error)
}

// InboundMessageSink receives user-originated messages found in callbacks.
type InboundMessageSink interface {
	HandleInbound(ctx context.Context, phoneNumberID string, messages []json.RawMessage) error
}

// IngestResult summarises one accepted callback.
type IngestResult struct {
	Statuses int `json:"statuses"`
	Applied  int `json:"applied"`
	Orphans  int `json:"orphans"`
	Messages int `json:"messages"`
}

// Ingestor turns an authenticated provider callback into status events.
type Ingestor struct {
	verifier *SignatureVerifier
	tracker  StatusApplier
	sink     InboundMessageSink
	validate *validator.Validate
	logger   *slog.Logger
}

// NewIngestor wires the callback path. sink may be nil, in which case
// inbound messages are counted and dropped.
func NewIngestor(verifier *SignatureVerifier, tracker StatusApplier, sink InboundMessageSink, validate *validator.Validate, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		verifier: verifier,
		tracker:  tracker,
		sink:     sink,
		validate: validate,
		logger:   logger.With("component", "callback_ingestor"),
	}
}

// Ingest verifies rawBody against signature, validates the whole payload and
// only then applies its status updates in document order. A malformed payload
// applies nothing.
func (i *Ingestor) Ingest(ctx context.Context, rawBody []byte, signature string) (IngestResult, error) {
	if err := i.verifier.Verify(rawBody, signature); err != nil {
		callbacksCounter.WithLabelValues("unauthorized").Inc()
		return IngestResult{}, err
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		callbacksCounter.WithLabelValues("malformed").Inc()
		return IngestResult{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := i.validate.StructCtx(ctx, payload); err != nil {
		callbacksCounter.WithLabelValues("malformed").Inc()
		return IngestResult{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	var (
		result   IngestResult
		firstErr error
	)
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				result.Statuses++
				applied, err := i.apply(ctx, st)
				switch {
				case err != nil:
					if firstErr == nil {
						firstErr = err
					}
				case applied:
					result.Applied++
				default:
					result.Orphans++
				}
			}
			if n := len(change.Value.Messages); n > 0 {
				result.Messages += n
				i.forwardInbound(ctx, change.Value)
			}
		}
	}

	if firstErr != nil {
		callbacksCounter.WithLabelValues("error").Inc()
		return result, firstErr
	}
	callbacksCounter.WithLabelValues("accepted").Inc()
	i.logger.InfoContext(ctx, "Callback ingested",
		"statuses", result.Statuses, "applied", result.Applied, "orphans", result.Orphans, "messages", result.Messages)
	return result, nil
}

func (i *Ingestor) apply(ctx context.Context, st domain.StatusUpdate) (bool, error) {
	code, msg := st.FirstError()
	res, err := i.tracker.ApplyStatus(ctx, statusdomain.StatusEvent{
		ProviderMessageID: st.ID,
		RawStatus:         st.Status,
		Timestamp:         st.Timestamp.Time,
		Recipient:         st.RecipientID,
		ErrorCode:         code,
		ErrorMessage:      msg,
	})
	if err != nil {
		statusUpdatesCounter.WithLabelValues("error").Inc()
		i.logger.ErrorContext(ctx, "Failed to apply status update",
			"error", err, "provider_message_id", st.ID, "raw_status", st.Status)
		if errors.Is(err, statusdomain.ErrMissingID) {
			return false, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		return false, fmt.Errorf("apply status update %s: %w", st.ID, err)
	}
	if res.Orphan {
		statusUpdatesCounter.WithLabelValues("orphan").Inc()
		return false, nil
	}
	statusUpdatesCounter.WithLabelValues("applied").Inc()
	return true, nil
}

func (i *Ingestor) forwardInbound(ctx context.Context, value domain.ChangeValue) {
	inboundMessagesCounter.Add(float64(len(value.Messages)))
	if i.sink == nil {
		i.logger.DebugContext(ctx, "Inbound messages ignored, no sink configured", "count", len(value.Messages))
		return
	}
	phoneNumberID := ""
	if value.Metadata != nil {
		phoneNumberID = value.Metadata.PhoneNumberID
	}
	if err := i.sink.HandleInbound(ctx, phoneNumberID, value.Messages); err != nil {
		i.logger.WarnContext(ctx, "Inbound message sink failed", "error", err, "count", len(value.Messages))
	}
}
