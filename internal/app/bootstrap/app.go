package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/booking-wizard/internal/api/router"
	"github.com/wolfman30/booking-wizard/internal/booking"
	appconfig "github.com/wolfman30/booking-wizard/internal/config"
	"github.com/wolfman30/booking-wizard/internal/directory"
	"github.com/wolfman30/booking-wizard/internal/events"
	"github.com/wolfman30/booking-wizard/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/booking-wizard/internal/http/middleware"
	"github.com/wolfman30/booking-wizard/internal/notify"
	"github.com/wolfman30/booking-wizard/internal/observability/metrics"
	"github.com/wolfman30/booking-wizard/internal/sessions"
	"github.com/wolfman30/booking-wizard/internal/wizard"
	"github.com/wolfman30/booking-wizard/pkg/logging"
)

// App is the assembled booking wizard service.
type App struct {
	Handler   http.Handler
	Registry  *sessions.Registry
	Directory *directory.Directory
	Deliverer *events.Deliverer
	Limiter   *httpmiddleware.RateLimiter

	cfg     *appconfig.Config
	closers []func() error
}

// SessionFactory returns a factory that wires wizard sessions to dir.
func SessionFactory(cfg *appconfig.Config, dir *directory.Directory, m wizard.Metrics, logger *logging.Logger) sessions.Factory {
	graph := booking.NewGraph()
	return func(id string) *wizard.Session {
		return wizard.NewSession(id, graph, dir, dir, wizard.Options{
			LookupTimeout:    cfg.LookupTimeout,
			SubmitTimeout:    cfg.SubmitTimeout,
			CandidateTTL:     cfg.CandidateTTL,
			Prefetch:         cfg.PrefetchEnabled,
			RequireAvailable: cfg.RequireAvailable,
			Metrics:          m,
			Logger:           logger,
		})
	}
}

// Build connects to every backing service and assembles the HTTP handler and
// background workers. Close releases what Build opened.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	pool, err := ConnectPostgres(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() error { pool.Close(); return nil })

	redisClient := BuildRedisClient(ctx, cfg, logger, true)
	var snapshots sessions.SnapshotStore
	if redisClient != nil {
		app.closers = append(app.closers, redisClient.Close)
		snapshots = sessions.NewRedisStore(redisClient, cfg.SessionTTL)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wizardMetrics := metrics.NewWizardMetrics(reg)

	app.Directory = directory.New(pool, directory.Config{
		Location:     loc,
		DateWindow:   cfg.DateWindowDays,
		PatientLimit: cfg.PatientLimit,
		Logger:       logger,
	})
	app.Registry = sessions.NewRegistry(SessionFactory(cfg, app.Directory, wizardMetrics, logger), snapshots, logger)
	metrics.RegisterSessionGauge(reg, app.Registry.Len)

	awsLoader := NewAWSLoader(cfg)
	queue, closeQueue, err := BuildEventQueue(ctx, cfg, awsLoader, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeQueue)

	// each handler records its own progress so a failing one does not
	// repeat the others on retry
	processed := events.NewProcessedStore(pool)
	handlersChain := events.Fanout{events.Once(events.ConsumerBookingQueue, processed, events.NewQueueHandler(queue))}
	sender, err := BuildEmailSender(ctx, cfg, awsLoader, logger)
	if err != nil {
		return nil, err
	}
	if sender != nil {
		handlersChain = append(handlersChain, notify.NewConfirmationMailer(sender, processed, loc, cfg.ClinicName, logger))
	}
	app.Deliverer = events.NewDeliverer(events.NewOutboxStore(pool), handlersChain, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxInterval).
		WithMaxAttempts(cfg.OutboxMaxAttempts)

	if cfg.SubmitRatePerSec > 0 {
		app.Limiter = httpmiddleware.NewRateLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst)
	}

	app.Handler = router.New(&router.Config{
		Logger:             logger,
		Wizard:             handlers.NewWizardHandler(app.Registry, logger),
		Health:             handlers.NewHealthHandler(healthChecks(pool, redisClient)),
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		StaffJWTSecret:     cfg.StaffJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		SubmitLimiter:      app.Limiter,
	})
	if cfg.StaffJWTSecret == "" {
		logger.Warn("STAFF_JWT_SECRET not set; wizard API is unauthenticated")
	}

	ok = true
	return app, nil
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"postgres": pool.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	return checks
}

// Run starts the outbox deliverer, the session sweeper and the rate limiter
// sweep. They stop when ctx is done.
func (a *App) Run(ctx context.Context) {
	go a.Deliverer.Start(ctx)
	if idle := a.cfg.SessionIdleTTL; idle > 0 {
		go a.Registry.StartSweeper(ctx, max(idle/2, time.Second), idle)
	}
	if a.Limiter != nil {
		go sweepLimiter(ctx, a.Limiter)
	}
}

func sweepLimiter(ctx context.Context, limiter *httpmiddleware.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Sweep()
		}
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
