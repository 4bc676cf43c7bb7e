package app

import (
	"context"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/google/uuid"
)

// JobEnqueuer is the intake side of the Dispatcher.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, to string, payload domain.Payload, opts EnqueueOptions) (uuid.UUID, error)
	Schedule(ctx context.Context, to string, payload domain.Payload, delay time.Duration, opts EnqueueOptions) (uuid.UUID, error)
}

// Producer offers one typed call per message kind on top of a JobEnqueuer.
type Producer struct {
	q JobEnqueuer
}

func NewProducer(q JobEnqueuer) *Producer {
	return &Producer{q: q}
}

// Submit enqueues payload, or schedules it when delay is positive.
func (p *Producer) Submit(ctx context.Context, to string, payload domain.Payload, delay time.Duration, opts EnqueueOptions) (uuid.UUID, error) {
	if delay > 0 {
		return p.q.Schedule(ctx, to, payload, delay, opts)
	}
	return p.q.Enqueue(ctx, to, payload, opts)
}

func (p *Producer) SendText(ctx context.Context, to, body string, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, domain.TextPayload{Body: body}, opts)
}

func (p *Producer) SendTemplate(ctx context.Context, to, name, language string, params []string, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, domain.TemplatePayload{Name: name, Language: language, Parameters: params}, opts)
}

// SendOTP enqueues at the OTP tier unless opts says otherwise.
func (p *Producer) SendOTP(ctx context.Context, to, templateName, language, code string, opts EnqueueOptions) (uuid.UUID, error) {
	if opts.Priority == 0 {
		opts.Priority = domain.PriorityOTP
	}
	return p.q.Enqueue(ctx, to, domain.OTPPayload{TemplateName: templateName, Language: language, Code: code}, opts)
}

func (p *Producer) SendMedia(ctx context.Context, to string, media domain.MediaPayload, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, media, opts)
}

func (p *Producer) SendReplyButtons(ctx context.Context, to string, msg domain.ReplyButtonsPayload, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, msg, opts)
}

func (p *Producer) SendList(ctx context.Context, to string, msg domain.ListPayload, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, msg, opts)
}

func (p *Producer) SendCTA(ctx context.Context, to string, msg domain.CTAButtonPayload, opts EnqueueOptions) (uuid.UUID, error) {
	return p.q.Enqueue(ctx, to, msg, opts)
}
