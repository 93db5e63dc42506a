package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	apiMiddleware "github.com/openzim/zimit-broker/internal/api/middleware"
	"github.com/openzim/zimit-broker/internal/blacklist"
	"github.com/openzim/zimit-broker/internal/config"
	"github.com/openzim/zimit-broker/internal/notify"
	"github.com/openzim/zimit-broker/internal/platform/zimfarm"
	"github.com/openzim/zimit-broker/internal/service"
	"github.com/openzim/zimit-broker/internal/tracker"
	"github.com/openzim/zimit-broker/internal/worker"
)

// drainTimeout bounds how long pending notification mails may take on shutdown.
const drainTimeout = 30 * time.Second

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger   *slog.Logger
	registry *prometheus.Registry

	// Domain components
	farm      *zimfarm.Client
	tracker   *tracker.Tracker
	blacklist *blacklist.Manager
	requests  *service.RequestService
	hooks     *notify.HookProcessor

	// Notification delivery
	mailQueue  *worker.Queue
	mailPool   *worker.Pool
	dispatcher *notify.Dispatcher

	httpMetrics    *apiMiddleware.HTTPMetrics
	trustedProxies []netip.Prefix
	scheduler      *cron.Cron
}

// newApplication creates a new application instance with all dependencies initialized.
// Background jobs are registered with ctx but nothing runs before Run.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	app.farm, err = zimfarm.NewClient(zimfarm.Config{
		BaseURL:    cfg.Farm.APIURL,
		Username:   cfg.Farm.Username,
		Password:   cfg.Farm.Password,
		Timeout:    cfg.Farm.RequestsTimeout,
		MaxRetries: cfg.Farm.MaxRetries,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create farm client: %w", err)
	}

	app.tracker, err = newTracker(cfg.Tracker, app.farm, app.registry, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Tracker initialized",
		"max_tasks_per_client", cfg.Tracker.MaxTasksPerClient,
		"fail_open", cfg.Tracker.FailOpen)

	app.blacklist = blacklist.NewManager(cfg.Blacklist.URL, cfg.Farm.RequestsTimeout, logger)

	memory, err := cfg.Zimit.MemoryBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid task memory: %w", err)
	}
	disk, err := cfg.Zimit.DiskBytes()
	if err != nil {
		return nil, fmt.Errorf("invalid task disk: %w", err)
	}
	app.requests, err = service.NewRequestService(app.farm, app.tracker, app.blacklist, service.RequestConfig{
		Image:           cfg.Zimit.Image,
		SizeLimit:       cfg.Zimit.SizeLimit,
		TimeLimit:       cfg.Zimit.TimeLimit,
		TaskCPU:         cfg.Zimit.TaskCPU,
		TaskMemory:      int64(memory),
		TaskDisk:        int64(disk),
		Worker:          cfg.Farm.Worker,
		HookToken:       cfg.Hook.Token,
		CallbackBaseURL: cfg.Hook.CallbackBaseURL,
		ZimDownloadURL:  cfg.Public.ZimDownloadURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create request service: %w", err)
	}

	if err := app.setupNotifications(); err != nil {
		return nil, err
	}

	app.httpMetrics = apiMiddleware.NewHTTPMetrics(app.registry)
	app.trustedProxies, err = cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}

	app.scheduler = newScheduler(logger)
	if err := app.scheduleJobs(ctx); err != nil {
		return nil, err
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// newTracker builds the admission tracker on top of the farm task status.
func newTracker(
	cfg config.TrackerConfig,
	farm tracker.FarmTaskGetter,
	registerer prometheus.Registerer,
	logger *slog.Logger,
) (*tracker.Tracker, error) {
	codec, err := tracker.NewIdentityCodecFromHex(cfg.DigestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity codec: %w", err)
	}

	policy := tracker.FailClosed
	if cfg.FailOpen {
		policy = tracker.FailOpen
	}
	metrics := tracker.NewMetrics(registerer)
	oracle := tracker.NewStatusOracle(tracker.NewFarmLookup(farm), logger,
		tracker.WithFailurePolicy(policy),
		tracker.WithLookupTimeout(cfg.OracleTimeout),
		tracker.WithOracleMetrics(metrics),
	)

	t, err := tracker.New(codec, oracle, logger,
		tracker.WithCapacity(cfg.MaxTasksPerClient),
		tracker.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	return t, nil
}

// setupNotifications builds the webhook processor and the asynchronous mail
// delivery chain.
func (app *application) setupNotifications() error {
	cfg := app.config

	translations, err := notify.LoadTranslations()
	if err != nil {
		return fmt.Errorf("failed to load translations: %w", err)
	}
	renderer, err := notify.NewRenderer(translations)
	if err != nil {
		return fmt.Errorf("failed to parse mail templates: %w", err)
	}
	app.hooks, err = notify.NewHookProcessor(notify.HookConfig{
		Token:          cfg.Hook.Token,
		PublicURL:      cfg.Public.URL,
		ZimDownloadURL: cfg.Public.ZimDownloadURL,
		ContactUsURL:   cfg.Public.ContactUsURL,
		SizeLimit:      cfg.Zimit.SizeLimit,
		TimeLimit:      cfg.Zimit.TimeLimit,
	}, translations, renderer, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create hook processor: %w", err)
	}

	var mailer notify.Mailer
	if cfg.Mail.Enabled {
		mailer, err = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			Hello:    cfg.Mail.Hello,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create mailer: %w", err)
		}
		app.logger.Info("SMTP mailer configured", "host", cfg.Mail.Host, "port", cfg.Mail.Port)
	} else {
		mailer = notify.NewNopMailer(app.logger)
		app.logger.Warn("mail is disabled, notifications will only be logged")
	}

	app.mailQueue = worker.NewQueue(cfg.Mail.Queue, app.logger)
	app.mailPool = worker.NewPool(app.mailQueue, worker.PoolConfig{WorkerCount: cfg.Mail.Workers}, app.logger)
	app.dispatcher = notify.NewDispatcher(app.mailQueue, mailer, app.logger)
	app.mailPool.SetErrorHandler(app.dispatcher.ErrorHandler)
	return nil
}

// Run starts the background workers and serves HTTP until ctx is done.
func (app *application) Run(ctx context.Context) error {
	app.start(ctx)
	defer app.cleanup()

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// start launches the mail workers and the scheduler. The blacklist is loaded
// once before serving; an unreachable farm or blacklist is not fatal.
func (app *application) start(ctx context.Context) {
	app.mailPool.Start()

	if err := app.blacklist.Refresh(ctx); err != nil {
		app.logger.Warn("initial blacklist load failed, starting with an empty list", "error", err)
	}
	if err := app.farm.Ping(ctx); err != nil {
		app.logger.Warn("farm is not reachable yet", "error", err)
	}

	app.scheduler.Start()
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	<-app.scheduler.Stop().Done()

	// Pending mails are still delivered
	app.mailQueue.Close()
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	app.mailPool.Drain(drainCtx)

	app.logger.Info("Application shutdown completed")
}
