package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thephotocrm/thephotocrm-sub005/internal/api"
	"github.com/thephotocrm/thephotocrm-sub005/internal/automation"
	"github.com/thephotocrm/thephotocrm-sub005/internal/campaign"
	"github.com/thephotocrm/thephotocrm-sub005/internal/config"
	"github.com/thephotocrm/thephotocrm-sub005/internal/contentgen"
	"github.com/thephotocrm/thephotocrm-sub005/internal/db"
	"github.com/thephotocrm/thephotocrm-sub005/internal/dkim"
	"github.com/thephotocrm/thephotocrm-sub005/internal/drip"
	"github.com/thephotocrm/thephotocrm-sub005/internal/lock"
	"github.com/thephotocrm/thephotocrm-sub005/internal/metrics"
	"github.com/thephotocrm/thephotocrm-sub005/internal/render"
	"github.com/thephotocrm/thephotocrm-sub005/internal/report"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

// Repositories are the stores shared by every component
type Repositories struct {
	Campaigns     *repository.CampaignRepository
	Subscriptions *repository.SubscriptionRepository
	Deliveries    *repository.DeliveryRepository
	Subjects      *repository.SubjectRepository
	Automations   *repository.AutomationRepository
	Executions    *repository.ExecutionRepository
	APIKeys       *repository.APIKeyRepository
}

// App is the main application
type App struct {
	config    *config.Config
	logger    *slog.Logger
	db        *db.DB
	repos     Repositories
	sandbox   *transport.SandboxStore
	locker    *lock.Locker
	reporter  *report.Reporter
	metrics   *metrics.Metrics
	campaigns *campaign.Service
	engine    *automation.Engine
	worker    *drip.Worker
	daemon    *drip.Daemon
	apiServer *api.Server
}

// New creates the application from configuration. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	a := &App{config: cfg, logger: logger}

	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config
	logger := a.logger
	loc := cfg.Location()

	database, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = database
	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.repos = Repositories{
		Campaigns:     repository.NewCampaignRepository(database, loc),
		Subscriptions: repository.NewSubscriptionRepository(database, loc),
		Deliveries:    repository.NewDeliveryRepository(database),
		Subjects:      repository.NewSubjectRepository(database),
		Automations:   repository.NewAutomationRepository(database),
		Executions:    repository.NewExecutionRepository(database),
		APIKeys:       repository.NewAPIKeyRepository(database),
	}

	reporter, err := report.New(report.Config{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     api.Version,
	}, logger)
	if err != nil {
		return err
	}
	a.reporter = reporter

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)
	}

	sender, err := a.buildSender()
	if err != nil {
		return err
	}
	sms, err := a.buildSMS()
	if err != nil {
		return err
	}

	renderer := render.New(render.Branding{
		BusinessName:     cfg.Branding.BusinessName,
		PhotographerName: cfg.Branding.PhotographerName,
		Website:          cfg.Branding.Website,
		Phone:            cfg.Branding.Phone,
		UnsubscribeURL:   cfg.Branding.UnsubscribeURL,
	}, loc)

	var drafter campaign.Drafter
	if cfg.OpenAI.APIKey != "" {
		drafter = contentgen.New(contentgen.Config{
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.Model,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		}, logger)
		logger.Info("AI content generation enabled", "model", cfg.OpenAI.Model)
	}
	a.campaigns = campaign.NewService(a.repos.Campaigns, a.repos.Deliveries, drafter, campaign.Branding{
		BusinessName:     cfg.Branding.BusinessName,
		PhotographerName: cfg.Branding.PhotographerName,
	}, logger)

	a.engine = automation.NewEngine(automation.Repositories{
		Campaigns:     a.repos.Campaigns,
		Subscriptions: a.repos.Subscriptions,
		Subjects:      a.repos.Subjects,
		Automations:   a.repos.Automations,
		Executions:    a.repos.Executions,
	}, sender, sms, renderer, automation.Identity{
		FromEmail: cfg.Branding.FromEmail,
		FromName:  cfg.Branding.FromName,
		ReplyTo:   cfg.Branding.ReplyTo,
	}, loc, logger)

	a.worker = drip.NewWorker(drip.Repositories{
		Campaigns:     a.repos.Campaigns,
		Subscriptions: a.repos.Subscriptions,
		Deliveries:    a.repos.Deliveries,
		Subjects:      a.repos.Subjects,
	}, sender, renderer, reporter, drip.Config{
		BatchSize:        cfg.Scheduler.BatchSize,
		Concurrency:      cfg.Scheduler.Concurrency,
		MaxAttempts:      cfg.Scheduler.MaxAttempts,
		RetryInterval:    cfg.Scheduler.RetryInterval,
		MaxRetryInterval: cfg.Scheduler.MaxRetryInterval,
		ClaimTTL:         cfg.Scheduler.ClaimTTL,
		SendTimeout:      cfg.Scheduler.SendTimeout,
		Location:         loc,
		FromEmail:        cfg.Branding.FromEmail,
		FromName:         cfg.Branding.FromName,
		ReplyTo:          cfg.Branding.ReplyTo,
	}, logger)

	return nil
}

// buildSender creates the email transport named by configuration
func (a *App) buildSender() (transport.Sender, error) {
	cfg := a.config.Transport
	logger := a.logger

	var sender transport.Sender
	switch cfg.Provider {
	case "smtp":
		var signer *dkim.Signer
		if cfg.DKIM.Enabled {
			s, err := dkim.LoadSigner(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
			if err != nil {
				return nil, err
			}
			signer = s
			logger.Info("DKIM signing enabled", "domain", s.Domain(), "selector", s.Selector())
		}
		sender = transport.NewSMTPSender(transport.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			TLS:      cfg.SMTP.TLS,
			Hostname: a.config.Server.Hostname,
			Timeout:  cfg.SMTP.Timeout,
		}, signer, logger)
	case "sendgrid":
		sender = transport.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.Host, logger)
	case "relay":
		sender = transport.NewRelaySender(cfg.Relay.URL, cfg.Relay.APIKey, cfg.Relay.Timeout)
	case "sandbox":
		store, err := a.sandboxStore()
		if err != nil {
			return nil, err
		}
		sender = transport.NewSandboxSender(store, logger)
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Provider)
	}

	logger.Info("email transport configured", "provider", cfg.Provider, "rate_per_second", cfg.RatePerSecond)
	return transport.NewThrottled(sender, cfg.RatePerSecond, cfg.Burst), nil
}

// buildSMS creates the SMS provider. nil disables SMS steps.
func (a *App) buildSMS() (transport.SMSSender, error) {
	cfg := a.config.SMS
	switch cfg.Provider {
	case "twilio":
		return transport.NewTwilioSender(cfg.BaseURL, cfg.AccountSID, cfg.AuthToken, cfg.From, cfg.Region), nil
	case "sandbox":
		store, err := a.sandboxStore()
		if err != nil {
			return nil, err
		}
		return transport.NewSandboxSender(store, a.logger), nil
	}
	return nil, nil
}

func (a *App) sandboxStore() (*transport.SandboxStore, error) {
	if a.sandbox != nil {
		return a.sandbox, nil
	}
	store, err := transport.OpenSandboxStore(a.config.Transport.Sandbox.Path)
	if err != nil {
		return nil, err
	}
	a.sandbox = store
	a.logger.Info("sandbox capture enabled", "path", a.config.Transport.Sandbox.Path)
	return store, nil
}

// Repos returns the application's repositories
func (a *App) Repos() Repositories {
	return a.repos
}

// Campaigns returns the campaign service
func (a *App) Campaigns() *campaign.Service {
	return a.campaigns
}

// Engine returns the automation engine
func (a *App) Engine() *automation.Engine {
	return a.engine
}

// Sandbox returns the capture store, nil unless a sandbox provider is used
func (a *App) Sandbox() *transport.SandboxStore {
	return a.sandbox
}

// Tick runs one scheduler pass and automation evaluation at now
func (a *App) Tick(ctx context.Context, now time.Time) (drip.Result, error) {
	res, err := a.worker.RunOnce(ctx, now)
	if err != nil {
		return res, err
	}
	return res, a.engine.Evaluate(ctx, now)
}

// Run starts the scheduler and API server and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.startServices(ctx); err != nil {
		a.close()
		return err
	}

	a.logger.Info("starting photocrm drip engine",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Database.Driver,
		"scheduler", a.daemon != nil,
		"lease", a.locker != nil,
	)

	if a.daemon != nil {
		a.daemon.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

func (a *App) startServices(ctx context.Context) error {
	cfg := a.config

	if cfg.Scheduler.Enabled {
		var leaser drip.Leaser
		if cfg.HasLease() {
			locker, err := lock.NewLocker(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
			if err != nil {
				return err
			}
			a.locker = locker
			leaser = locker
		}
		daemon, err := drip.NewDaemon(a.worker, a.engine, leaser, drip.DaemonConfig{
			Schedule: cfg.Scheduler.Schedule,
			LeaseTTL: cfg.Redis.LeaseTTL,
		}, a.logger)
		if err != nil {
			return err
		}
		a.daemon = daemon
	}

	apiServer, err := api.NewServer(api.Deps{
		Campaigns:           a.campaigns,
		Subscriptions:       a.repos.Subscriptions,
		Subjects:            a.repos.Subjects,
		Deliveries:          a.repos.Deliveries,
		APIKeys:             a.repos.APIKeys,
		Engine:              a.engine,
		Sandbox:             a.sandbox,
		Metrics:             a.metrics,
		MetricsPath:         cfg.Metrics.Path,
		StripeWebhookSecret: cfg.Stripe.WebhookSecret,
		SendGridPublicKey:   cfg.Transport.SendGrid.WebhookPublicKey,
	}, &cfg.API, a.logger)
	if err != nil {
		return err
	}
	a.apiServer = apiServer
	return nil
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.config.API.ShutdownTimeout)
	defer cancel()

	var errs []error
	// Stop the scheduler first so no new sends start
	if a.daemon != nil {
		if err := a.daemon.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error("shutdown finished with errors", "error", err)
		return err
	}
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases storage without starting anything
func (a *App) Close() error {
	return a.close()
}

func (a *App) close() error {
	var errs []error
	if a.reporter != nil {
		a.reporter.Flush(2 * time.Second)
	}
	if a.locker != nil {
		if err := a.locker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		a.locker = nil
	}
	if a.sandbox != nil {
		if err := a.sandbox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sandbox store: %w", err))
		}
		a.sandbox = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
