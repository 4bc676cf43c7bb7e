package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/aradsms/messaging_gateway/internal/dispatch_service/provider"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// interruptedReason is recorded on jobs whose claim went stale.
const interruptedReason = "interrupted: process stopped while the job was active"

// RecordSeeder creates the pending delivery record for an accepted send.
type RecordSeeder interface {
	Seed(ctx context.Context, providerMessageID, recipient, conversationID string, metadata map[string]string) error
}

// Config holds the Dispatcher tuning knobs.
type Config struct {
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	PollInterval  time.Duration
	SendTimeout   time.Duration
	// RecoveryGrace is added to SendTimeout to decide when an active claim is
	// stale. Only stale claims are recovered, so replicas can share a store.
	RecoveryGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = 5
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = 30 * time.Second
	}
	return c
}

// EnqueueOptions are per-job overrides. Zero values select defaults.
type EnqueueOptions struct {
	Priority       int
	MaxAttempts    int
	ConversationID string
	Metadata       map[string]string
}

// RetentionPolicy says how long terminal jobs are kept.
type RetentionPolicy struct {
	Completed time.Duration // also applies to cancelled jobs
	Failed    time.Duration
}

// CleanupResult reports how many jobs a Cleanup pass removed.
type CleanupResult struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Dispatcher owns the outbound queue: it persists jobs, runs a bounded pool of
// workers that hand them to the provider, and retries failures with backoff.
type Dispatcher struct {
	store  domain.JobStore
	sender provider.Sender
	seeder RecordSeeder
	cfg    Config
	logger *slog.Logger

	paused atomic.Bool
	wake   chan struct{}
	now    func() time.Time
}

func NewDispatcher(store domain.JobStore, sender provider.Sender, seeder RecordSeeder, cfg Config, logger *slog.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		store:  store,
		sender: sender,
		seeder: seeder,
		cfg:    cfg,
		logger: logger.With("component", "dispatcher"),
		wake:   make(chan struct{}, cfg.Workers),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue persists a job that is eligible immediately and returns its id.
func (d *Dispatcher) Enqueue(ctx context.Context, to string, payload domain.Payload, opts EnqueueOptions) (uuid.UUID, error) {
	return d.enqueueAt(ctx, to, payload, d.now(), opts)
}

// Schedule persists a job that becomes eligible after delay.
func (d *Dispatcher) Schedule(ctx context.Context, to string, payload domain.Payload, delay time.Duration, opts EnqueueOptions) (uuid.UUID, error) {
	if delay < 0 {
		delay = 0
	}
	return d.enqueueAt(ctx, to, payload, d.now().Add(delay), opts)
}

func (d *Dispatcher) enqueueAt(ctx context.Context, to string, payload domain.Payload, at time.Time, opts EnqueueOptions) (uuid.UUID, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = d.cfg.MaxAttempts
	}
	job, err := domain.NewOutboundJob(to, payload, opts.Priority, maxAttempts, at)
	if err != nil {
		return uuid.Nil, err
	}
	job.ConversationID = opts.ConversationID
	job.Metadata = opts.Metadata

	if err := d.store.Insert(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s job: %w", job.Kind, err)
	}
	jobsEnqueuedCounter.WithLabelValues(string(job.Kind)).Inc()
	d.logger.InfoContext(ctx, "Job enqueued",
		"job_id", job.ID, "kind", job.Kind, "priority", job.Priority, "available_at", job.AvailableAt)
	d.signal()
	return job.ID, nil
}

// signal wakes one idle worker without blocking.
func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pause stops job pickup. Queued jobs stay queued and in-flight jobs finish.
func (d *Dispatcher) Pause() {
	if d.paused.CompareAndSwap(false, true) {
		queuePausedGauge.Set(1)
		d.logger.Info("Dispatcher paused")
	}
}

func (d *Dispatcher) Resume() {
	if d.paused.CompareAndSwap(true, false) {
		queuePausedGauge.Set(0)
		d.logger.Info("Dispatcher resumed")
		for i := 0; i < d.cfg.Workers; i++ {
			d.signal()
		}
	}
}

func (d *Dispatcher) IsPaused() bool {
	return d.paused.Load()
}

func (d *Dispatcher) Stats(ctx context.Context) (domain.JobCounts, error) {
	counts, err := d.store.CountByState(ctx, d.now())
	if err != nil {
		return domain.JobCounts{}, err
	}
	counts.Paused = d.IsPaused()
	return counts, nil
}

func (d *Dispatcher) GetJob(ctx context.Context, id uuid.UUID) (*domain.OutboundJob, error) {
	return d.store.Get(ctx, id)
}

// Cancel removes a waiting or delayed job from the queue.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := d.store.Cancel(ctx, id, d.now()); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "Job cancelled", "job_id", id)
	return nil
}

// Requeue returns a failed or cancelled job to the queue with a fresh attempt budget.
func (d *Dispatcher) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := d.store.Requeue(ctx, id, d.now()); err != nil {
		return err
	}
	d.logger.InfoContext(ctx, "Job requeued", "job_id", id)
	d.signal()
	return nil
}

// Cleanup deletes terminal jobs older than the retention windows.
func (d *Dispatcher) Cleanup(ctx context.Context, policy RetentionPolicy) (CleanupResult, error) {
	now := d.now()
	var (
		res CleanupResult
		err error
	)
	if res.Completed, err = d.store.DeleteFinishedBefore(ctx, domain.StateCompleted, now.Add(-policy.Completed)); err != nil {
		return res, err
	}
	if res.Cancelled, err = d.store.DeleteFinishedBefore(ctx, domain.StateCancelled, now.Add(-policy.Completed)); err != nil {
		return res, err
	}
	if res.Failed, err = d.store.DeleteFinishedBefore(ctx, domain.StateFailed, now.Add(-policy.Failed)); err != nil {
		return res, err
	}
	jobsCleanedCounter.WithLabelValues(string(domain.StateCompleted)).Add(float64(res.Completed))
	jobsCleanedCounter.WithLabelValues(string(domain.StateCancelled)).Add(float64(res.Cancelled))
	jobsCleanedCounter.WithLabelValues(string(domain.StateFailed)).Add(float64(res.Failed))
	d.logger.InfoContext(ctx, "Job cleanup finished",
		"completed_removed", res.Completed, "cancelled_removed", res.Cancelled, "failed_removed", res.Failed)
	return res, nil
}

// Run recovers jobs orphaned by a crashed process, then runs the worker pool until
// ctx is cancelled. In-flight jobs are allowed to finish. Recovery repeats every
// stale window so claims left by a dead peer do not stay active forever.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := d.recoverStale(ctx); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Dispatcher started", "workers", d.cfg.Workers, "max_attempts", d.cfg.MaxAttempts)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.recoveryLoop(gctx)
		return nil
	})
	for i := 0; i < d.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			d.workerLoop(gctx, worker)
			return nil
		})
	}
	err := g.Wait()
	d.logger.Info("Dispatcher stopped")
	return err
}

// staleAfter is how long a claim may stay active before it is considered
// orphaned. A live worker always records an outcome well within it.
func (d *Dispatcher) staleAfter() time.Duration {
	return d.cfg.SendTimeout + d.cfg.RecoveryGrace
}

func (d *Dispatcher) recoverStale(ctx context.Context) error {
	now := d.now()
	if _, err := d.store.RecoverActive(ctx, interruptedReason, now.Add(-d.staleAfter()), now); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	}
	return nil
}

func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(d.staleAfter())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.recoverStale(ctx); err != nil && ctx.Err() == nil {
				d.logger.ErrorContext(ctx, "Stale job recovery failed", "error", err)
			}
		}
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) {
	logger := d.logger.With("worker", worker)
	for {
		if ctx.Err() != nil {
			return
		}
		if d.IsPaused() {
			d.idle(ctx)
			continue
		}

		job, err := d.store.AcquireNext(ctx, d.now())
		if err != nil {
			if !errors.Is(err, domain.ErrNoEligibleJob) && ctx.Err() == nil {
				logger.ErrorContext(ctx, "Failed to acquire job", "error", err)
			}
			d.idle(ctx)
			continue
		}
		d.process(ctx, job)
	}
}

func (d *Dispatcher) idle(ctx context.Context) {
	t := time.NewTimer(d.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-d.wake:
	case <-t.C:
	}
}

// process runs one attempt. It uses a context detached from shutdown so a
// stopping process still records the outcome of a send it already started.
func (d *Dispatcher) process(parent context.Context, job *domain.OutboundJob) {
	ctx := context.WithoutCancel(parent)
	timer := prometheus.NewTimer(jobAttemptDurationHist.WithLabelValues(string(job.Kind)))
	defer timer.ObserveDuration()

	logger := d.logger.With("job_id", job.ID, "kind", job.Kind, "attempt", job.Attempts)
	logger.InfoContext(ctx, "Processing job")

	resp, err := d.send(ctx, job)
	if err == nil {
		d.complete(ctx, logger, job, resp.ProviderMessageID)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		jobsProcessedCounter.WithLabelValues(string(job.Kind), "failed").Inc()
		logger.WarnContext(ctx, "Job failed after max attempts",
			"max_attempts", job.MaxAttempts, "transient", provider.IsTransient(err), "error", err)
		if markErr := d.store.MarkFailed(ctx, job.ID, err.Error(), d.now()); markErr != nil {
			d.logMarkError(ctx, logger, "Failed to mark job failed", markErr)
		}
		return
	}

	next := d.now().Add(d.Backoff(job.Attempts))
	jobsProcessedCounter.WithLabelValues(string(job.Kind), "retry").Inc()
	if provider.IsTransient(err) {
		logger.WarnContext(ctx, "Transient send failure, scheduling retry", "next_attempt_at", next, "error", err)
	} else {
		logger.WarnContext(ctx, "Provider rejected job, scheduling retry", "next_attempt_at", next, "error", err)
	}
	if markErr := d.store.MarkRetry(ctx, job.ID, next, err.Error()); markErr != nil {
		d.logMarkError(ctx, logger, "Failed to mark job for retry", markErr)
	}
}

func (d *Dispatcher) logMarkError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	if errors.Is(err, domain.ErrJobNotActive) {
		logger.WarnContext(ctx, "Job claim was recovered before its outcome was recorded", "error", err)
		return
	}
	logger.ErrorContext(ctx, msg, "error", err)
}

// send calls the provider under the send timeout. A panic counts as a failed attempt.
func (d *Dispatcher) send(ctx context.Context, job *domain.OutboundJob) (resp *provider.SendResponse, err error) {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "Recovered panic during send", "job_id", job.ID, "panic", r)
			resp, err = nil, fmt.Errorf("panic during send: %v", r)
		}
	}()

	resp, err = d.sender.Send(sendCtx, provider.SendRequest{JobID: job.ID.String(), To: job.To, Payload: job.Payload})
	if err == nil && (resp == nil || resp.ProviderMessageID == "") {
		err = errors.New("provider returned no message id")
	}
	return resp, err
}

func (d *Dispatcher) complete(ctx context.Context, logger *slog.Logger, job *domain.OutboundJob, providerMessageID string) {
	jobsProcessedCounter.WithLabelValues(string(job.Kind), "completed").Inc()
	if err := d.store.MarkCompleted(ctx, job.ID, providerMessageID, d.now()); err != nil {
		d.logMarkError(ctx, logger.With("provider_message_id", providerMessageID), "Failed to mark job completed", err)
	} else {
		logger.InfoContext(ctx, "Job completed", "provider_message_id", providerMessageID)
	}

	if d.seeder == nil {
		return
	}
	if err := d.seeder.Seed(ctx, providerMessageID, job.To, job.ConversationID, job.Metadata); err != nil {
		// The message is out; re-sending would duplicate it. Left for reconciliation.
		seedFailuresCounter.Inc()
		logger.ErrorContext(ctx, "Reconciliation gap: delivery record not created for sent message",
			"provider_message_id", providerMessageID, "recipient", job.To, "error", err)
	}
}

// Backoff returns the delay before the attempt following attempt n (1-based):
// base * 2^(n-1), capped at BackoffMax.
func (d *Dispatcher) Backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffMax {
			return d.cfg.BackoffMax
		}
	}
	if delay > d.cfg.BackoffMax {
		return d.cfg.BackoffMax
	}
	return delay
}
