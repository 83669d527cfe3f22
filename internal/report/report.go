// Package report surfaces problems that need an operator: data integrity
// violations and permanently failed deliveries.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Config configures error reporting
type Config struct {
	DSN         string
	Environment string
	Release     string
}

// Reporter sends errors to Sentry when a DSN is configured and logs them
// in every case
type Reporter struct {
	hub    *sentry.Hub
	logger *slog.Logger
}

// New creates a reporter. An empty DSN yields a log-only reporter.
func New(cfg Config, logger *slog.Logger) (*Reporter, error) {
	r := &Reporter{logger: logger.With("component", "report")}
	if cfg.DSN == "" {
		return r, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	r.hub = sentry.NewHub(client, sentry.NewScope())
	return r, nil
}

// NewWithClient wraps an existing Sentry client
func NewWithClient(client *sentry.Client, logger *slog.Logger) *Reporter {
	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger.With("component", "report"),
	}
}

// Enabled reports whether events leave the process
func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil
}

// Integrity reports a data integrity violation
func (r *Reporter) Integrity(ctx context.Context, err error, tags map[string]string) {
	r.capture(ctx, "integrity", sentry.LevelError, err, tags)
}

// PermanentFailure reports a delivery that will not be retried
func (r *Reporter) PermanentFailure(ctx context.Context, err error, tags map[string]string) {
	r.capture(ctx, "permanent_failure", sentry.LevelWarning, err, tags)
}

// Flush waits for buffered events
func (r *Reporter) Flush(timeout time.Duration) {
	if r.Enabled() {
		r.hub.Flush(timeout)
	}
}

func (r *Reporter) capture(ctx context.Context, category string, level sentry.Level, err error, tags map[string]string) {
	if r == nil || err == nil {
		return
	}

	attrs := []any{"category", category, "error", err}
	for k, v := range tags {
		attrs = append(attrs, k, v)
	}
	if level == sentry.LevelError {
		r.logger.ErrorContext(ctx, "operator attention required", attrs...)
	} else {
		r.logger.WarnContext(ctx, "operator attention required", attrs...)
	}

	if r.hub == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("category", category)
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}
