package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	callbackapp "github.com/aradsms/messaging_gateway/internal/callback_service/app"
	"github.com/aradsms/messaging_gateway/internal/callback_service/adapters/natssink"
	callbackhttp "github.com/aradsms/messaging_gateway/internal/callback_service/transport/http"
	statusapp "github.com/aradsms/messaging_gateway/internal/delivery_status_service/app"
	statusdomain "github.com/aradsms/messaging_gateway/internal/delivery_status_service/domain"
	statusmemory "github.com/aradsms/messaging_gateway/internal/delivery_status_service/repository/memory"
	statuspg "github.com/aradsms/messaging_gateway/internal/delivery_status_service/repository/postgres"
	dispatchapp "github.com/aradsms/messaging_gateway/internal/dispatch_service/app"
	dispatchdomain "github.com/aradsms/messaging_gateway/internal/dispatch_service/domain"
	"github.com/aradsms/messaging_gateway/internal/dispatch_service/provider"
	dispatchmemory "github.com/aradsms/messaging_gateway/internal/dispatch_service/repository/memory"
	dispatchpg "github.com/aradsms/messaging_gateway/internal/dispatch_service/repository/postgres"
	"github.com/aradsms/messaging_gateway/internal/fanout_service/adapters/natsbridge"
	"github.com/aradsms/messaging_gateway/internal/fanout_service/adapters/websocket"
	fanoutapp "github.com/aradsms/messaging_gateway/internal/fanout_service/app"
	"github.com/aradsms/messaging_gateway/internal/platform/config"
	"github.com/aradsms/messaging_gateway/internal/platform/database"
	"github.com/aradsms/messaging_gateway/internal/platform/messagebroker"
	httptransport "github.com/aradsms/messaging_gateway/internal/public_api_service/transport/http"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// pipeline is the fully wired process: dispatcher, tracker, fan-out and the
// HTTP surface over them.
type pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	dispatcher *dispatchapp.Dispatcher
	tracker    *statusapp.Tracker
	publisher  *fanoutapp.Publisher
	bridge     *natsbridge.Bridge // nil unless NATS is enabled
	router     http.Handler

	pool *pgxpool.Pool
	nats *messagebroker.NatsClient
}

func buildPipeline(ctx context.Context, cfg *config.Config, sender provider.Sender, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{cfg: cfg, logger: logger}

	var (
		jobs    dispatchdomain.JobStore
		records statusdomain.DeliveryRecordRepository
	)
	switch cfg.StoreBackend {
	case "postgres":
		pool, err := database.NewDBPool(ctx, cfg.PostgresDSN, database.PoolOptions{MaxConns: cfg.PostgresMaxConns})
		if err != nil {
			return nil, err
		}
		p.pool = pool
		jobs = dispatchpg.NewPgJobStore(pool, logger)
		records = statuspg.NewPgDeliveryRecordRepository(pool, logger)
		logger.Info("Connected to PostgreSQL")
	default:
		logger.Warn("Using in-memory stores; jobs and delivery records do not survive a restart")
		jobs = dispatchmemory.NewJobStore(logger)
		records = statusmemory.NewDeliveryRecordRepository()
	}

	p.publisher = fanoutapp.NewPublisher(logger)
	var (
		events statusapp.EventPublisher = p.publisher
		sink   callbackapp.InboundMessageSink
	)
	if cfg.NATSEnabled {
		nc, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName+"-"+cfg.NodeID, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.nats = nc
		p.bridge = natsbridge.NewBridge(nc, p.publisher, cfg.StatusEventsSubject, cfg.NodeID, logger)
		events = p.bridge
		sink = natssink.NewInboundSink(nc, cfg.InboundMessagesSubject, logger)
		logger.Info("Connected to NATS", "url", cfg.NATSUrl)
	}

	p.tracker = statusapp.NewTracker(records, events, logger)

	if sender == nil {
		sender = newSender(cfg, logger)
	}
	p.dispatcher = dispatchapp.NewDispatcher(jobs, sender, p.tracker, dispatchapp.Config{
		Workers:      cfg.DispatcherWorkers,
		MaxAttempts:  cfg.DispatcherMaxAttempts,
		BackoffBase:  cfg.BackoffBase(),
		BackoffMax:   cfg.BackoffMax(),
		PollInterval: cfg.PollInterval(),
		SendTimeout:  cfg.ProviderTimeout(),
	}, logger)

	validate := validator.New()
	verifier := callbackapp.NewSignatureVerifier(cfg.WebhookAppSecret, logger)
	ingestor := callbackapp.NewIngestor(verifier, p.tracker, sink, validate, logger)

	p.router = httptransport.NewRouter(httptransport.RouterConfig{
		Webhook:    callbackhttp.NewWebhookHandler(ingestor, cfg.WebhookVerifyToken, logger),
		Messages:   httptransport.NewMessageHandler(dispatchapp.NewProducer(p.dispatcher), validate, logger),
		Deliveries: httptransport.NewDeliveryHandler(p.tracker, logger),
		Ops: httptransport.NewOpsHandler(p.dispatcher, p.tracker, httptransport.RetentionDefaults{
			Jobs:       p.retentionPolicy(),
			Deliveries: cfg.DeliveryRetention(),
		}, validate, logger),
		Websocket:      websocket.NewHandler(p.publisher, cfg.AllowedOrigins(), logger),
		HealthCheck:    p.healthCheck,
		RequestTimeout: cfg.RequestTimeout(),
	})
	return p, nil
}

func newSender(cfg *config.Config, logger *slog.Logger) provider.Sender {
	if cfg.ProviderMode == "cloud" {
		return provider.NewCloudAPIProvider(provider.CloudAPIConfig{
			BaseURL:       cfg.ProviderBaseURL,
			PhoneNumberID: cfg.ProviderPhoneNumberID,
			AccessToken:   cfg.ProviderAccessToken,
			RatePerSecond: cfg.ProviderRatePerSecond,
			RateBurst:     cfg.ProviderRateBurst,
		}, &http.Client{Timeout: cfg.ProviderTimeout()}, logger)
	}
	logger.Warn("Provider mode is mock; messages are not delivered")
	return provider.NewMockProvider(logger, false, 0)
}

func (p *pipeline) retentionPolicy() dispatchapp.RetentionPolicy {
	return dispatchapp.RetentionPolicy{
		Completed: p.cfg.CompletedRetention(),
		Failed:    p.cfg.FailedRetention(),
	}
}

func (p *pipeline) healthCheck(r *http.Request) error {
	if p.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if p.nats != nil && !p.nats.Conn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// run blocks until ctx is cancelled or a component fails, then shuts the
// HTTP server down and waits for in-flight jobs.
func (p *pipeline) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.dispatcher.Run(gctx)
	})

	if p.bridge != nil {
		if err := p.bridge.Start(gctx); err != nil {
			return err
		}
	}

	if interval := p.cfg.CleanupInterval(); interval > 0 {
		g.Go(func() error {
			p.cleanupLoop(gctx, interval)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", p.cfg.HTTPPort),
		Handler:           p.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		p.logger.Info("HTTP server listening", "port", p.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		p.logger.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			p.logger.Error("HTTP server shutdown failed", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func (p *pipeline) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cleanup(ctx)
		}
	}
}

func (p *pipeline) cleanup(ctx context.Context) {
	if _, err := p.dispatcher.Cleanup(ctx, p.retentionPolicy()); err != nil {
		p.logger.ErrorContext(ctx, "Scheduled job cleanup failed", "error", err)
	}
	if p.cfg.DeliveryRetentionDays > 0 {
		if _, err := p.tracker.PurgeOlderThan(ctx, p.cfg.DeliveryRetention()); err != nil {
			p.logger.ErrorContext(ctx, "Scheduled delivery purge failed", "error", err)
		}
	}
}

func (p *pipeline) Close() {
	if p.nats != nil {
		p.nats.Close()
	}
	if p.pool != nil {
		p.pool.Close()
	}
}

// nodeID identifies this replica on the relay subject.
func nodeID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
