package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// MockProvider accepts every message locally. It is used with PROVIDER_MODE=mock
// and in tests.
type MockProvider struct {
	logger         *slog.Logger
	FailSend       bool          // Simulate a failure on every call
	FailTransient  bool          // Whether simulated failures are transient
	SimulatedDelay time.Duration // Simulated network latency

	mu   sync.Mutex
	sent []SendRequest
}

func NewMockProvider(logger *slog.Logger, failSend bool, delay time.Duration) *MockProvider {
	return &MockProvider{
		logger:         logger.With("provider", "mock"),
		FailSend:       failSend,
		FailTransient:  true,
		SimulatedDelay: delay,
	}
}

func (p *MockProvider) Send(ctx context.Context, req SendRequest) (*SendResponse, error) {
	timer := prometheus.NewTimer(ProviderRequestDurationHist.WithLabelValues(p.GetName()))
	defer timer.ObserveDuration()

	p.logger.InfoContext(ctx, "MockProvider: Send called", "job_id", req.JobID, "to", req.To)

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, &SendError{Message: "send cancelled", Transient: true, Err: ctx.Err()}
		}
	}

	p.mu.Lock()
	p.sent = append(p.sent, req)
	fail, transient := p.FailSend, p.FailTransient
	p.mu.Unlock()

	if fail {
		p.logger.WarnContext(ctx, "mock provider simulated send failure", "to", req.To)
		status := 400
		if transient {
			status = 503
		}
		ProviderResultsCounter.WithLabelValues(p.GetName(), "simulated_failure").Inc()
		return nil, &SendError{StatusCode: status, Message: "mock provider simulated send failure", Transient: transient}
	}

	id := "mock-" + uuid.NewString()
	ProviderResultsCounter.WithLabelValues(p.GetName(), "success").Inc()
	return &SendResponse{ProviderMessageID: id, StatusCode: 200}, nil
}

// SetFailure switches simulated failures on or off at runtime.
func (p *MockProvider) SetFailure(fail, transient bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailSend = fail
	p.FailTransient = transient
}

// Sent returns a copy of the requests seen so far.
func (p *MockProvider) Sent() []SendRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SendRequest(nil), p.sent...)
}

func (p *MockProvider) GetName() string {
	return "mock"
}
