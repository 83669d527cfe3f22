package drip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thephotocrm/thephotocrm-sub005/internal/lock"
)

// Runner performs one scheduler pass
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (Result, error)
}

// Evaluator fires time-based automations
type Evaluator interface {
	Evaluate(ctx context.Context, now time.Time) error
}

// Leaser hands out the cross-process tick lease
type Leaser interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (*lock.Lease, error)
}

// DaemonConfig holds daemon configuration
type DaemonConfig struct {
	Schedule  string
	LeaseName string
	LeaseTTL  time.Duration
}

// Daemon runs scheduler passes on a cron schedule
type Daemon struct {
	runner    Runner
	evaluator Evaluator
	leaser    Leaser
	cfg       DaemonConfig
	cron      *cron.Cron
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	ticks int
}

// NewDaemon creates a daemon. evaluator and leaser may be nil.
func NewDaemon(runner Runner, evaluator Evaluator, leaser Leaser, cfg DaemonConfig, logger *slog.Logger) (*Daemon, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 2m"
	}
	if cfg.LeaseName == "" {
		cfg.LeaseName = "drip-tick"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}

	logger = logger.With("component", "daemon")
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		runner:    runner,
		evaluator: evaluator,
		leaser:    leaser,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	cronLogger := cronLogger{logger}
	d.cron = cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	if _, err := d.cron.AddFunc(cfg.Schedule, d.Tick); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid scheduler schedule %q: %w", cfg.Schedule, err)
	}
	return d, nil
}

// Start starts the cron scheduler
func (d *Daemon) Start() {
	d.cron.Start()
	d.logger.Info("scheduler started", "schedule", d.cfg.Schedule)
}

// Stop cancels the running tick and waits for it to return or ctx to expire
func (d *Daemon) Stop(ctx context.Context) error {
	d.cancel()
	stopped := d.cron.Stop()

	select {
	case <-stopped.Done():
		d.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ticks returns how many passes ran to completion
func (d *Daemon) Ticks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ticks
}

// Tick runs one pass: drip deliveries, then automation evaluation
func (d *Daemon) Tick() {
	ctx := d.ctx
	if ctx.Err() != nil {
		return
	}

	if d.leaser != nil {
		lease, err := d.leaser.Acquire(ctx, d.cfg.LeaseName, d.cfg.LeaseTTL)
		if errors.Is(err, lock.ErrNotAcquired) {
			d.logger.Debug("tick lease held elsewhere, skipping")
			return
		}
		if err != nil {
			d.logger.Error("failed to acquire tick lease", "error", err)
			return
		}
		defer func() {
			// release even when the tick was cancelled
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lease.Release(releaseCtx); err != nil {
				d.logger.Warn("failed to release tick lease", "error", err)
			}
		}()
	}

	now := d.now()
	if _, err := d.runner.RunOnce(ctx, now); err != nil {
		d.logger.Error("scheduler pass failed", "error", err)
	}
	if d.evaluator != nil {
		if err := d.evaluator.Evaluate(ctx, now); err != nil {
			d.logger.Error("automation evaluation failed", "error", err)
		}
	}

	d.mu.Lock()
	d.ticks++
	d.mu.Unlock()
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
