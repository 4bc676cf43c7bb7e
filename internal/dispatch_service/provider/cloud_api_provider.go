package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/prometheus/client_golang/prometheus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Graph API error code for per-number throttling.
const throttledErrorCode = 130429

// CloudAPIConfig configures the Graph-style messaging API adapter.
type CloudAPIConfig struct {
	BaseURL       string // e.g. https://graph.facebook.com/v19.0
	PhoneNumberID string
	AccessToken   string
	RatePerSecond float64
	RateBurst     int
}

// CloudAPIProvider posts messages to {BaseURL}/{PhoneNumberID}/messages.
// Calls pass through a token-bucket limiter and a circuit breaker.
type CloudAPIProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	cfg        CloudAPIConfig
	limiter    *rate.Limiter
	cb         *gobreaker.CircuitBreaker[*SendResponse]
}

func NewCloudAPIProvider(cfg CloudAPIConfig, httpClient *http.Client, logger *slog.Logger) *CloudAPIProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	p := &CloudAPIProvider{
		logger:     logger.With("provider", "cloud_api"),
		httpClient: httpClient,
		cfg:        cfg,
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	p.limiter = rate.NewLimiter(limit, burst)

	name := p.GetName()
	ProviderCircuitState.WithLabelValues(name).Set(0)
	p.cb = gobreaker.NewCircuitBreaker[*SendResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Permanent rejections say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("Provider circuit breaker state changed", "from", from.String(), "to", to.String())
			ProviderCircuitState.WithLabelValues(name).Set(float64(to))
		},
	})
	return p
}

func (p *CloudAPIProvider) GetName() string {
	return "cloud_api"
}

type cloudErrorBody struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		FBTraceID    string `json:"fbtrace_id"`
	} `json:"error"`
}

type cloudSuccessBody struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (p *CloudAPIProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName()))
	defer timer.ObserveDuration()

	if err := p.limiter.Wait(ctx); err != nil {
		ProviderResultsCounter.WithLabelValues(p.GetName(), "rejected").Inc()
		return nil, &SendError{Message: "rate limiter wait aborted", Transient: true, Err: err}
	}

	resp, err := p.cb.Execute(func() (*SendResponse, error) {
		return p.post(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			ProviderResultsCounter.WithLabelValues(p.GetName(), "rejected").Inc()
			return nil, &SendError{Message: "circuit breaker open", Transient: true, Err: err}
		}
		if IsTransient(err) {
			ProviderResultsCounter.WithLabelValues(p.GetName(), "transient_error").Inc()
		} else {
			ProviderResultsCounter.WithLabelValues(p.GetName(), "permanent_error").Inc()
		}
		return nil, err
	}
	ProviderResultsCounter.WithLabelValues(p.GetName(), "success").Inc()
	return resp, nil
}

func (p *CloudAPIProvider) post(ctx context.Context, req SendRequest) (*SendResponse, error) {
	body, err := BuildMessageBody(req.To, req.Payload)
	if err != nil {
		return nil, &SendError{Message: "build request body", Err: err}
	}
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, &SendError{Message: "marshal request body", Err: err}
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + p.cfg.PhoneNumberID + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &SendError{Message: "create HTTP request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.AccessToken)

	p.logger.DebugContext(ctx, "Sending message to provider", "job_id", req.JobID, "kind", req.Payload.Kind())

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.WarnContext(ctx, "Provider request failed", "job_id", req.JobID, "error", err)
		return nil, &SendError{Message: "request failed", Transient: true, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, &SendError{StatusCode: httpResp.StatusCode, Message: "read response body", Transient: true, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		se := &SendError{
			StatusCode: httpResp.StatusCode,
			Message:    http.StatusText(httpResp.StatusCode),
			Transient:  httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests,
		}
		var eb cloudErrorBody
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			se.Code = eb.Error.Code
			se.Message = eb.Error.Message
			if eb.Error.Code == throttledErrorCode {
				se.Transient = true
			}
		}
		p.logger.WarnContext(ctx, "Provider rejected message",
			"job_id", req.JobID, "status_code", se.StatusCode, "code", se.Code, "transient", se.Transient, "error", se.Message)
		return nil, se
	}

	var ok cloudSuccessBody
	if err := json.Unmarshal(respBody, &ok); err != nil || len(ok.Messages) == 0 || ok.Messages[0].ID == "" {
		// Accepted but unusable: without an id the message cannot be tracked.
		return nil, &SendError{StatusCode: httpResp.StatusCode, Message: "response carried no message id", Err: err}
	}

	p.logger.InfoContext(ctx, "Provider accepted message", "job_id", req.JobID, "provider_message_id", ok.Messages[0].ID)
	return &SendResponse{ProviderMessageID: ok.Messages[0].ID, StatusCode: httpResp.StatusCode}, nil
}

// BuildMessageBody renders the Graph API JSON body for a payload.
func BuildMessageBody(to string, payload domain.Payload) (map[string]any, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
	}

	switch p := payload.(type) {
	case domain.TextPayload:
		body["type"] = "text"
		body["text"] = map[string]any{"body": p.Body, "preview_url": p.PreviewURL}
	case domain.TemplatePayload:
		tpl := map[string]any{"name": p.Name, "language": map[string]any{"code": p.Language}}
		if len(p.Parameters) > 0 {
			tpl["components"] = []any{map[string]any{"type": "body", "parameters": textParams(p.Parameters...)}}
		}
		body["type"] = "template"
		body["template"] = tpl
	case domain.MediaPayload:
		media := map[string]any{}
		if p.MediaID != "" {
			media["id"] = p.MediaID
		} else {
			media["link"] = p.Link
		}
		if p.Caption != "" && p.MediaType != domain.MediaAudio {
			media["caption"] = p.Caption
		}
		if p.Filename != "" && p.MediaType == domain.MediaDocument {
			media["filename"] = p.Filename
		}
		body["type"] = string(p.MediaType)
		body[string(p.MediaType)] = media
	case domain.OTPPayload:
		body["type"] = "template"
		body["template"] = map[string]any{
			"name":     p.TemplateName,
			"language": map[string]any{"code": p.Language},
			"components": []any{
				map[string]any{"type": "body", "parameters": textParams(p.Code)},
				map[string]any{"type": "button", "sub_type": "url", "index": "0", "parameters": textParams(p.Code)},
			},
		}
	case domain.ReplyButtonsPayload:
		buttons := make([]any, 0, len(p.Buttons))
		for _, b := range p.Buttons {
			buttons = append(buttons, map[string]any{"type": "reply", "reply": map[string]any{"id": b.ID, "title": b.Title}})
		}
		body["type"] = "interactive"
		body["interactive"] = interactive("button", p.Body, p.Header, p.Footer, map[string]any{"buttons": buttons})
	case domain.ListPayload:
		sections := make([]any, 0, len(p.Sections))
		for _, s := range p.Sections {
			rows := make([]any, 0, len(s.Rows))
			for _, r := range s.Rows {
				row := map[string]any{"id": r.ID, "title": r.Title}
				if r.Description != "" {
					row["description"] = r.Description
				}
				rows = append(rows, row)
			}
			section := map[string]any{"rows": rows}
			if s.Title != "" {
				section["title"] = s.Title
			}
			sections = append(sections, section)
		}
		body["type"] = "interactive"
		body["interactive"] = interactive("list", p.Body, p.Header, p.Footer,
			map[string]any{"button": p.ButtonText, "sections": sections})
	case domain.CTAButtonPayload:
		body["type"] = "interactive"
		body["interactive"] = interactive("cta_url", p.Body, p.Header, p.Footer, map[string]any{
			"name":       "cta_url",
			"parameters": map[string]any{"display_text": p.DisplayText, "url": p.URL},
		})
	case nil:
		return nil, domain.ErrNilPayload
	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrUnknownJobKind, payload)
	}
	return body, nil
}

func textParams(values ...string) []any {
	params := make([]any, 0, len(values))
	for _, v := range values {
		params = append(params, map[string]any{"type": "text", "text": v})
	}
	return params
}

func interactive(kind, bodyText, header, footer string, action map[string]any) map[string]any {
	out := map[string]any{
		"type":   kind,
		"body":   map[string]any{"text": bodyText},
		"action": action,
	}
	if header != "" {
		out["header"] = map[string]any{"type": "text", "text": header}
	}
	if footer != "" {
		out["footer"] = map[string]any{"text": footer}
	}
	return out
}
