package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thephotocrm/thephotocrm-sub005/internal/db"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

type DeliveryRepository struct {
	db *db.DB
}

func NewDeliveryRepository(database *db.DB) *DeliveryRepository {
	return &DeliveryRepository{db: database}
}

const deliveryColumns = `id, subscription_id, campaign_email_id, sequence_index, status, provider_id, attempts, last_error,
	claimed_at, retry_after, sent_at, delivered_at, opened_at, clicked_at, bounced_at, failed_at,
	created_at, updated_at`

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	d := &models.Delivery{}
	var claimedAt, retryAfter, sentAt, deliveredAt, openedAt, clickedAt, bouncedAt, failedAt sql.NullTime
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.CampaignEmailID, &d.SequenceIndex, &d.Status, &d.ProviderID, &d.Attempts, &d.LastError,
		&claimedAt, &retryAfter, &sentAt, &deliveredAt, &openedAt, &clickedAt, &bouncedAt, &failedAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.ClaimedAt = timePtr(claimedAt)
	d.RetryAfter = timePtr(retryAfter)
	d.SentAt = timePtr(sentAt)
	d.DeliveredAt = timePtr(deliveredAt)
	d.OpenedAt = timePtr(openedAt)
	d.ClickedAt = timePtr(clickedAt)
	d.BouncedAt = timePtr(bouncedAt)
	d.FailedAt = timePtr(failedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

// RecordAttempt creates the delivery row for a subscription's sequence step,
// claimed by the caller. A step is identified by the email's sequence index,
// which every version of a campaign shares, so a step recorded against an
// earlier version is found again after the subscription moves to a new one.
// When the row already exists it is returned with created=false and nothing
// is written.
//
// The insert holds a share lock on the email's campaign row. In-place edits
// take that row exclusively before checking for deliveries, so an edit and
// the first delivery of a version never interleave.
func (r *DeliveryRepository) RecordAttempt(ctx context.Context, subscriptionID, emailID string, now time.Time) (*models.Delivery, bool, error) {
	now = now.UTC()
	d := &models.Delivery{
		ID:              uuid.New().String(),
		SubscriptionID:  subscriptionID,
		CampaignEmailID: emailID,
		Status:          models.DeliveryPending,
		Attempts:        1,
		ClaimedAt:       &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var created bool
	err := r.db.WithTx(ctx, func(tx *db.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT ce.sequence_index FROM campaign_emails ce
			JOIN campaigns c ON c.id = ce.campaign_id
			WHERE ce.id = ?`+tx.RowLock("FOR SHARE OF c"), emailID).Scan(&d.SequenceIndex)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("campaign email %s: %w", emailID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get campaign email: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO deliveries (id, subscription_id, campaign_email_id, sequence_index, status, attempts, claimed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			d.ID, d.SubscriptionID, d.CampaignEmailID, d.SequenceIndex, d.Status, d.Attempts, now, d.CreatedAt, d.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record delivery attempt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		return d, true, nil
	}

	existing, err := r.GetByStep(ctx, subscriptionID, d.SequenceIndex)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get returns a delivery by ID
func (r *DeliveryRepository) Get(ctx context.Context, id string) (*models.Delivery, error) {
	return r.getOne(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id)
}

// GetByStep returns the delivery of a subscription's sequence step
func (r *DeliveryRepository) GetByStep(ctx context.Context, subscriptionID string, sequenceIndex int) (*models.Delivery, error) {
	return r.getOne(ctx, `SELECT `+deliveryColumns+` FROM deliveries
		WHERE subscription_id = ? AND sequence_index = ?`, subscriptionID, sequenceIndex)
}

// GetByProviderID returns the delivery carrying a transport message ID
func (r *DeliveryRepository) GetByProviderID(ctx context.Context, providerID string) (*models.Delivery, error) {
	if providerID == "" {
		return nil, fmt.Errorf("empty provider id: %w", ErrNotFound)
	}
	return r.getOne(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE provider_id = ?`, providerID)
}

func (r *DeliveryRepository) getOne(ctx context.Context, query string, args ...any) (*models.Delivery, error) {
	d, err := scanDelivery(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delivery: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

// ClaimRetry claims a pending delivery released by a transient failure once
// its backoff has passed. It is a compare-and-swap on the attempt counter, so
// only one caller wins a given retry.
func (r *DeliveryRepository) ClaimRetry(ctx context.Context, id string, expectedAttempts int, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET attempts = attempts + 1, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = ? AND attempts = ? AND claimed_at IS NULL
			AND (retry_after IS NULL OR retry_after <= ?)`,
		now, now, id, models.DeliveryPending, expectedAttempts, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// AbandonStale fails a pending delivery whose claim is older than claimedBefore.
// The holder crashed mid-send, so the message may or may not have left.
func (r *DeliveryRepository) AbandonStale(ctx context.Context, id string, claimedBefore, now time.Time) (bool, error) {
	now = now.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET status = ?, failed_at = ?, last_error = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ? AND claimed_at IS NOT NULL AND claimed_at <= ?`,
		models.DeliveryFailed, now, "claim expired before transport result was recorded", now,
		id, models.DeliveryPending, claimedBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to abandon delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSent records transport acceptance
func (r *DeliveryRepository) MarkSent(ctx context.Context, id, providerID string, at time.Time) error {
	at = at.UTC()
	return r.execPending(ctx, `
		UPDATE deliveries SET status = ?, provider_id = ?, sent_at = ?, claimed_at = NULL, retry_after = NULL,
			last_error = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		models.DeliverySent, providerID, at, at, id, models.DeliveryPending)
}

// MarkTransientFailure releases the claim and schedules the next retry
func (r *DeliveryRepository) MarkTransientFailure(ctx context.Context, id, lastError string, retryAfter, now time.Time) error {
	return r.execPending(ctx, `
		UPDATE deliveries SET last_error = ?, retry_after = ?, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		lastError, retryAfter.UTC(), now.UTC(), id, models.DeliveryPending)
}

// MarkFailed records a permanent failure
func (r *DeliveryRepository) MarkFailed(ctx context.Context, id, lastError string, at time.Time) error {
	at = at.UTC()
	return r.execPending(ctx, `
		UPDATE deliveries SET status = ?, last_error = ?, failed_at = ?, claimed_at = NULL, retry_after = NULL,
			updated_at = ?
		WHERE id = ? AND status = ?`,
		models.DeliveryFailed, lastError, at, at, id, models.DeliveryPending)
}

func (r *DeliveryRepository) execPending(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("delivery is no longer pending: %w", ErrConflict)
	}
	return nil
}

var statusTimestampColumn = map[models.DeliveryStatus]string{
	models.DeliverySent:      "sent_at",
	models.DeliveryDelivered: "delivered_at",
	models.DeliveryBounced:   "bounced_at",
	models.DeliveryFailed:    "failed_at",
}

// UpdateStatus applies a transport status callback. Only forward transitions
// are applied; a backward or repeated update returns applied=false.
func (r *DeliveryRepository) UpdateStatus(ctx context.Context, id string, status models.DeliveryStatus, at time.Time) (bool, error) {
	col, ok := statusTimestampColumn[status]
	if !ok {
		return false, fmt.Errorf("status %q: %w", status, ErrInvalidTransition)
	}
	at = at.UTC()

	preds := status.Predecessors()
	args := []any{status, at, at, id}
	for _, p := range preds {
		args = append(args, p)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries SET status = ?, `+col+` = COALESCE(`+col+`, ?), claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(preds))+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update delivery status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// RecordEngagement stores the first open or click time of a delivery
func (r *DeliveryRepository) RecordEngagement(ctx context.Context, id string, kind models.EngagementKind, at time.Time) (bool, error) {
	var col string
	switch kind {
	case models.EngagementOpen:
		col = "opened_at"
	case models.EngagementClick:
		col = "clicked_at"
	default:
		return false, fmt.Errorf("unknown engagement %q", kind)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE deliveries SET `+col+` = ?, updated_at = ?
		WHERE id = ? AND `+col+` IS NULL`, at.UTC(), at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to record %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ListBySubscription returns a subscription's deliveries in sequence order
func (r *DeliveryRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.Delivery, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries
		WHERE subscription_id = ? ORDER BY sequence_index`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []models.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, *d)
	}
	return deliveries, rows.Err()
}

// Stats aggregates delivery counts across every version of the campaign's lineage
func (r *DeliveryRepository) Stats(ctx context.Context, campaignID string) (*models.DeliveryStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.status, COUNT(*), COUNT(d.opened_at), COUNT(d.clicked_at)
		FROM deliveries d
		JOIN campaign_emails ce ON ce.id = d.campaign_email_id
		JOIN campaigns c ON c.id = ce.campaign_id
		WHERE c.lineage_id = (SELECT lineage_id FROM campaigns WHERE id = ?)
		GROUP BY d.status`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery stats: %w", err)
	}
	defer rows.Close()

	stats := &models.DeliveryStats{}
	for rows.Next() {
		var status models.DeliveryStatus
		var n, opened, clicked int
		if err := rows.Scan(&status, &n, &opened, &clicked); err != nil {
			return nil, err
		}
		stats.Total += n
		stats.Opened += opened
		stats.Clicked += clicked
		switch status {
		case models.DeliveryPending:
			stats.Pending = n
		case models.DeliverySent:
			stats.Sent = n
		case models.DeliveryDelivered:
			stats.Delivered = n
		case models.DeliveryBounced:
			stats.Bounced = n
		case models.DeliveryFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

// Count returns the total number of delivery rows
func (r *DeliveryRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return n, nil
}
