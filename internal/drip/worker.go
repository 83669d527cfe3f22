// Package drip runs the due-work scan that advances drip subscriptions and
// hands their emails to the transport.
package drip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thephotocrm/thephotocrm-sub005/internal/email"
	"github.com/thephotocrm/thephotocrm-sub005/internal/metrics"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/render"
	"github.com/thephotocrm/thephotocrm-sub005/internal/report"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

// Config holds worker configuration
type Config struct {
	BatchSize        int
	Concurrency      int
	MaxAttempts      int
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration
	ClaimTTL         time.Duration
	SendTimeout      time.Duration
	Location         *time.Location

	// Sender identity used when a campaign has none
	FromEmail string
	FromName  string
	ReplyTo   string
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:        100,
		Concurrency:      4,
		MaxAttempts:      5,
		RetryInterval:    5 * time.Minute,
		MaxRetryInterval: time.Hour,
		ClaimTTL:         10 * time.Minute,
		SendTimeout:      time.Minute,
		Location:         time.UTC,
	}
}

// Repositories groups the stores the worker reads and writes
type Repositories struct {
	Campaigns     *repository.CampaignRepository
	Subscriptions *repository.SubscriptionRepository
	Deliveries    *repository.DeliveryRepository
	Subjects      *repository.SubjectRepository
}

// ItemError is a failure isolated to one subscription
type ItemError struct {
	SubscriptionID string
	Err            error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("subscription %s: %v", e.SubscriptionID, e.Err)
}

// Result aggregates one scheduler pass
type Result struct {
	Processed int
	Sent      int
	Skipped   int
	Completed int
	Retried   int
	Failed    int
	Errors    []ItemError
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeCompleted
	outcomeRetried
	outcomeFailed
)

// Worker processes due subscriptions
type Worker struct {
	repos    Repositories
	sender   transport.Sender
	renderer *render.Renderer
	reporter *report.Reporter
	cfg      Config
	logger   *slog.Logger
}

// NewWorker creates a new worker
func NewWorker(repos Repositories, sender transport.Sender, renderer *render.Renderer, reporter *report.Reporter, cfg Config, logger *slog.Logger) *Worker {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = def.MaxRetryInterval
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Worker{
		repos:    repos,
		sender:   sender,
		renderer: renderer,
		reporter: reporter,
		cfg:      cfg,
		logger:   logger.With("component", "drip"),
	}
}

// RunOnce processes every subscription due at now. Failures are isolated per
// subscription and collected in the result; the returned error is reserved
// for failures of the scan itself.
func (w *Worker) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start).Seconds()) }()

	var (
		res Result
		mu  sync.Mutex
	)

	if due, err := w.repos.Subscriptions.CountDue(ctx, now); err == nil {
		metrics.SetDueSubscriptions(due)
	}

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := w.repos.Subscriptions.ListDue(ctx, now, afterID, w.cfg.BatchSize)
		if err != nil {
			return res, fmt.Errorf("failed to list due subscriptions: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(w.cfg.Concurrency)
		for i := range batch {
			sub := batch[i]
			g.Go(func() error {
				out, err := w.process(ctx, &sub, now)

				mu.Lock()
				defer mu.Unlock()
				res.Processed++
				if err != nil {
					res.Errors = append(res.Errors, ItemError{SubscriptionID: sub.ID, Err: err})
					w.logger.Error("failed to process subscription",
						"subscription_id", sub.ID,
						"campaign_id", sub.CampaignID,
						"error", err,
					)
					return nil
				}
				switch out {
				case outcomeSent:
					res.Sent++
				case outcomeCompleted:
					res.Completed++
				case outcomeRetried:
					res.Retried++
				case outcomeFailed:
					res.Failed++
				default:
					res.Skipped++
				}
				return nil
			})
		}
		g.Wait()

		afterID = batch[len(batch)-1].ID
		if len(batch) < w.cfg.BatchSize {
			break
		}
	}

	if res.Processed > 0 {
		w.logger.Info("scheduler pass finished",
			"processed", res.Processed,
			"sent", res.Sent,
			"completed", res.Completed,
			"retried", res.Retried,
			"failed", res.Failed,
			"skipped", res.Skipped,
			"errors", len(res.Errors),
		)
	}
	return res, nil
}

// process runs the per-subscription state machine
func (w *Worker) process(ctx context.Context, sub *models.Subscription, now time.Time) (outcome, error) {
	logger := w.logger.With("subscription_id", sub.ID, "campaign_id", sub.CampaignID)

	campaign, err := w.repos.Campaigns.GetCampaign(ctx, sub.CampaignID)
	if err != nil {
		return outcomeSkipped, err
	}
	if campaign.Status != models.CampaignActive {
		logger.Debug("campaign not active, skipping", "status", campaign.Status)
		return outcomeSkipped, nil
	}

	subject, err := w.repos.Subjects.Get(ctx, sub.SubjectID)
	if errors.Is(err, repository.ErrNotFound) {
		w.reporter.Integrity(ctx, fmt.Errorf("subscription %s references missing subject %s", sub.ID, sub.SubjectID),
			map[string]string{"subscription_id": sub.ID, "subject_id": sub.SubjectID})
		return w.terminate(ctx, sub, models.EndSubjectMissing, now)
	}
	if err != nil {
		return outcomeSkipped, err
	}

	switch {
	case campaign.MaxDurationElapsed(sub.StartedAt, now):
		return w.terminate(ctx, sub, models.EndMaxDuration, now)
	case subject.EventDateReached(now):
		return w.terminate(ctx, sub, models.EndEventDateReached, now)
	case subject.EmailOptOut:
		return w.terminate(ctx, sub, models.EndUnsubscribed, now)
	}

	emails, err := w.repos.Campaigns.GetEmails(ctx, campaign.ID)
	if err != nil {
		if errors.Is(err, repository.ErrIntegrity) {
			w.reporter.Integrity(ctx, err, map[string]string{"campaign_id": campaign.ID})
		}
		return outcomeSkipped, err
	}

	// Move past emails that are not approved; they never get a delivery row.
	for {
		if sub.NextEmailIndex >= len(emails) {
			return w.terminate(ctx, sub, models.EndSequenceFinished, now)
		}
		current := emails[sub.NextEmailIndex]
		if current.Approved() {
			if current.DueAt(sub.StartedAt, w.cfg.Location).After(now) {
				return outcomeSkipped, nil
			}
			break
		}

		next, err := w.repos.Subscriptions.Advance(ctx, sub.ID, sub.NextEmailIndex, now)
		if err != nil {
			return conflictSkip(logger, err)
		}
		sub = next
		if sub.Status.Terminal() {
			metrics.IncSubscriptionsEnded(sub.EndReason)
			return outcomeCompleted, nil
		}
	}

	msg := &emails[sub.NextEmailIndex]
	return w.deliver(ctx, logger, campaign, subject, sub, msg, now)
}

// deliver records the attempt, sends, and settles the delivery
func (w *Worker) deliver(ctx context.Context, logger *slog.Logger, campaign *models.Campaign, subject *models.Subject,
	sub *models.Subscription, msg *models.CampaignEmail, now time.Time) (outcome, error) {

	d, created, err := w.repos.Deliveries.RecordAttempt(ctx, sub.ID, msg.ID, now)
	if err != nil {
		return outcomeSkipped, err
	}
	logger = logger.With("delivery_id", d.ID)

	if !created {
		switch {
		case d.Status.Settled():
			// Sent in an earlier pass that stopped before advancing
			logger.Info("delivery already settled, advancing", "status", d.Status)
			return w.advance(ctx, logger, sub, now, outcomeSkipped)

		case d.ClaimedAt != nil:
			abandoned, err := w.repos.Deliveries.AbandonStale(ctx, d.ID, now.Add(-w.cfg.ClaimTTL), now)
			if err != nil {
				return outcomeSkipped, err
			}
			if !abandoned {
				logger.Debug("delivery claimed by another runner")
				metrics.IncDeliveries(metrics.OutcomeSkipped)
				return outcomeSkipped, nil
			}
			w.reporter.PermanentFailure(ctx, fmt.Errorf("delivery %s abandoned after claim expired", d.ID),
				map[string]string{"delivery_id": d.ID, "subscription_id": sub.ID})
			metrics.IncDeliveries(metrics.OutcomeFailed)
			return w.advance(ctx, logger, sub, now, outcomeFailed)

		default:
			claimed, err := w.repos.Deliveries.ClaimRetry(ctx, d.ID, d.Attempts, now)
			if err != nil {
				return outcomeSkipped, err
			}
			if !claimed {
				logger.Debug("retry not due yet", "retry_after", d.RetryAfter)
				return outcomeSkipped, nil
			}
			d.Attempts++
		}
	}

	// Content is read back once the delivery row exists: from here on the
	// email it points at can no longer be edited in place. A step recorded
	// under an earlier campaign version keeps that version's content.
	msg, err = w.repos.Campaigns.GetEmail(ctx, d.CampaignEmailID)
	if err != nil {
		return outcomeSkipped, err
	}

	if !email.IsDeliverable(subject.Email) {
		return w.fail(ctx, logger, sub, d, transport.Permanentf("undeliverable address %q", subject.Email), now)
	}

	vars := w.renderer.Vars(subject, map[string]string{
		"subscription_id": sub.ID,
		"campaign_name":   campaign.Name,
	})
	content := w.renderer.Render(render.Content{Subject: msg.Subject, HTML: msg.HTMLBody, Text: msg.TextBody}, vars)

	out := &transport.Message{
		ID:       d.ID,
		From:     firstNonEmpty(campaign.FromEmail, w.cfg.FromEmail),
		FromName: firstNonEmpty(campaign.FromName, w.cfg.FromName),
		ReplyTo:  firstNonEmpty(campaign.ReplyTo, w.cfg.ReplyTo),
		To:       email.Normalize(subject.Email),
		ToName:   subject.FullName(),
		Subject:  content.Subject,
		HTML:     content.HTML,
		Text:     content.Text,
		Tags: map[string]string{
			"delivery_id":     d.ID,
			"subscription_id": sub.ID,
			"campaign_id":     campaign.ID,
		},
	}
	if u := vars["unsubscribe_url"]; u != "" {
		out.Headers = map[string]string{"List-Unsubscribe": "<" + u + ">"}
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	result, sendErr := w.sender.Send(sendCtx, out)
	cancel()

	if sendErr == nil {
		if err := w.repos.Deliveries.MarkSent(ctx, d.ID, result.ProviderID, now); err != nil {
			return outcomeSkipped, err
		}
		metrics.IncDeliveries(metrics.OutcomeSent)
		logger.Info("email sent", "sequence_index", msg.SequenceIndex, "provider_id", result.ProviderID)
		return w.advance(ctx, logger, sub, now, outcomeSent)
	}

	if !transport.IsTemporary(sendErr) || d.Attempts >= w.cfg.MaxAttempts {
		return w.fail(ctx, logger, sub, d, sendErr, now)
	}

	backoff := w.calculateBackoff(d.Attempts)
	if err := w.repos.Deliveries.MarkTransientFailure(ctx, d.ID, sendErr.Error(), now.Add(backoff), now); err != nil {
		return outcomeSkipped, err
	}
	metrics.IncDeliveries(metrics.OutcomeRetried)
	logger.Warn("delivery deferred",
		"attempts", d.Attempts,
		"backoff", backoff,
		"error", sendErr,
	)
	return outcomeRetried, nil
}

// fail records a permanent failure and moves the subscription on
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, sub *models.Subscription, d *models.Delivery, cause error, now time.Time) (outcome, error) {
	if err := w.repos.Deliveries.MarkFailed(ctx, d.ID, cause.Error(), now); err != nil {
		return outcomeSkipped, err
	}
	metrics.IncDeliveries(metrics.OutcomeFailed)
	w.reporter.PermanentFailure(ctx, cause, map[string]string{
		"delivery_id":     d.ID,
		"subscription_id": sub.ID,
		"subject_id":      sub.SubjectID,
	})
	logger.Error("delivery failed permanently", "attempts", d.Attempts, "error", cause)
	return w.advance(ctx, logger, sub, now, outcomeFailed)
}

func (w *Worker) advance(ctx context.Context, logger *slog.Logger, sub *models.Subscription, now time.Time, out outcome) (outcome, error) {
	next, err := w.repos.Subscriptions.Advance(ctx, sub.ID, sub.NextEmailIndex, now)
	if err != nil {
		if repository.IsConflict(err) {
			// The step is recorded; the next pass finds it settled and advances.
			logger.Warn("subscription changed before advance", "error", err)
			return out, nil
		}
		return out, err
	}
	if next.Status.Terminal() {
		metrics.IncSubscriptionsEnded(next.EndReason)
		logger.Info("subscription completed", "reason", next.EndReason)
	}
	return out, nil
}

func (w *Worker) terminate(ctx context.Context, sub *models.Subscription, reason models.EndReason, now time.Time) (outcome, error) {
	if _, err := w.repos.Subscriptions.Terminate(ctx, sub.ID, reason, now); err != nil {
		return outcomeSkipped, err
	}
	metrics.IncSubscriptionsEnded(string(reason))
	w.logger.Info("subscription ended", "subscription_id", sub.ID, "reason", reason)
	return outcomeCompleted, nil
}

// calculateBackoff calculates exponential backoff duration
func (w *Worker) calculateBackoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	// Exponential backoff: retry_interval * 2^(attempts-1), capped at 12x
	multiplier := 12
	if attempts <= 4 {
		multiplier = 1 << (attempts - 1)
	}

	backoff := time.Duration(multiplier) * w.cfg.RetryInterval
	if backoff > w.cfg.MaxRetryInterval {
		return w.cfg.MaxRetryInterval
	}
	return backoff
}

func conflictSkip(logger *slog.Logger, err error) (outcome, error) {
	if repository.IsConflict(err) {
		logger.Debug("subscription changed concurrently, skipping", "error", err)
		return outcomeSkipped, nil
	}
	return outcomeSkipped, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
