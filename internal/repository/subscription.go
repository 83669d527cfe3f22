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

type SubscriptionRepository struct {
	db  *db.DB
	loc *time.Location
}

// NewSubscriptionRepository creates a subscription tracker. loc is the
// timezone used for emails with a send-at hour.
func NewSubscriptionRepository(database *db.DB, loc *time.Location) *SubscriptionRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &SubscriptionRepository{db: database, loc: loc}
}

const subscriptionColumns = `id, campaign_id, lineage_id, subject_id, tenant_id, started_at, next_email_index,
	next_email_at, status, completed_at, end_reason, revision, created_at, updated_at`

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	s := &models.Subscription{}
	var nextAt, completedAt sql.NullTime
	err := row.Scan(&s.ID, &s.CampaignID, &s.LineageID, &s.SubjectID, &s.TenantID, &s.StartedAt, &s.NextEmailIndex,
		&nextAt, &s.Status, &completedAt, &s.EndReason, &s.Revision, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.StartedAt = s.StartedAt.UTC()
	s.NextEmailAt = timePtr(nextAt)
	s.CompletedAt = timePtr(completedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// Enroll subscribes a subject to a campaign. The subscription binds to the
// current version of the campaign's lineage; a second enrollment of the same
// subject in the lineage fails with ErrAlreadyEnrolled.
func (r *SubscriptionRepository) Enroll(ctx context.Context, campaignID, subjectID string, now time.Time) (*models.Subscription, error) {
	now = now.UTC()

	c, err := getCampaign(ctx, r.db, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.IsCurrentVersion {
		cur, err := scanCampaign(r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
			WHERE lineage_id = ? AND is_current_version = 1`, c.LineageID))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve current version: %w", err)
		}
		c = cur
	}
	if c.Status != models.CampaignActive && c.Status != models.CampaignPaused {
		return nil, fmt.Errorf("campaign %s is %s: %w", c.ID, c.Status, ErrInvalidTransition)
	}

	emails, err := getEmails(ctx, r.db, c.ID)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		ID:             uuid.New().String(),
		CampaignID:     c.ID,
		LineageID:      c.LineageID,
		SubjectID:      subjectID,
		TenantID:       c.TenantID,
		StartedAt:      now,
		NextEmailIndex: 0,
		Status:         models.SubscriptionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if due, ok := models.NextDue(emails, 0, now, r.loc); ok {
		sub.NextEmailAt = &due
	} else {
		sub.Status = models.SubscriptionCompleted
		sub.CompletedAt = &now
		sub.EndReason = string(models.EndSequenceFinished)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		sub.ID, sub.CampaignID, sub.LineageID, sub.SubjectID, sub.TenantID, sub.StartedAt, sub.NextEmailIndex,
		utcPtr(sub.NextEmailAt), sub.Status, utcPtr(sub.CompletedAt), sub.EndReason, sub.Revision, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enroll: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("subject %s in lineage %s: %w", subjectID, c.LineageID, ErrAlreadyEnrolled)
	}
	return sub, nil
}

// Get returns a subscription by ID
func (r *SubscriptionRepository) Get(ctx context.Context, id string) (*models.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// Advance moves the cursor of an active subscription from expectedIndex to
// expectedIndex+1. The next due time comes from the first approved email at
// or after the new index; when none remains the subscription completes.
// A concurrent change to the row yields ErrConflict.
func (r *SubscriptionRepository) Advance(ctx context.Context, id string, expectedIndex int, now time.Time) (*models.Subscription, error) {
	now = now.UTC()

	sub, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionActive || sub.NextEmailIndex != expectedIndex {
		return nil, fmt.Errorf("subscription %s is %s at index %d, expected ACTIVE at %d: %w",
			id, sub.Status, sub.NextEmailIndex, expectedIndex, ErrConflict)
	}

	emails, err := getEmails(ctx, r.db, sub.CampaignID)
	if err != nil {
		return nil, err
	}

	next := expectedIndex + 1
	var res sql.Result
	if due, ok := models.NextDue(emails, next, sub.StartedAt, r.loc); ok {
		res, err = r.db.ExecContext(ctx, `
			UPDATE subscriptions SET next_email_index = ?, next_email_at = ?, revision = revision + 1, updated_at = ?
			WHERE id = ? AND next_email_index = ? AND status = ? AND revision = ?`,
			next, due, now, id, expectedIndex, models.SubscriptionActive, sub.Revision)
		sub.NextEmailAt = &due
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE subscriptions SET next_email_index = ?, next_email_at = NULL, status = ?, completed_at = ?,
				end_reason = ?, revision = revision + 1, updated_at = ?
			WHERE id = ? AND next_email_index = ? AND status = ? AND revision = ?`,
			next, models.SubscriptionCompleted, now, models.EndSequenceFinished, now,
			id, expectedIndex, models.SubscriptionActive, sub.Revision)
		sub.NextEmailAt = nil
		sub.Status = models.SubscriptionCompleted
		sub.CompletedAt = &now
		sub.EndReason = string(models.EndSequenceFinished)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to advance subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("subscription %s changed during advance: %w", id, ErrConflict)
	}

	sub.NextEmailIndex = next
	sub.Revision++
	sub.UpdatedAt = now
	return sub, nil
}

// Terminate ends a subscription. EndUnsubscribed yields UNSUBSCRIBED, any
// other reason COMPLETED. Terminating a finished subscription is a no-op.
func (r *SubscriptionRepository) Terminate(ctx context.Context, id string, reason models.EndReason, now time.Time) (*models.Subscription, error) {
	now = now.UTC()
	status := models.SubscriptionCompleted
	if reason == models.EndUnsubscribed {
		status = models.SubscriptionUnsubscribed
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, next_email_at = NULL, completed_at = ?, end_reason = ?,
			revision = revision + 1, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		status, now, reason, now, id, models.SubscriptionActive, models.SubscriptionPaused)
	if err != nil {
		return nil, fmt.Errorf("failed to terminate subscription: %w", err)
	}
	return r.Get(ctx, id)
}

// Pause suspends an active subscription
func (r *SubscriptionRepository) Pause(ctx context.Context, id string) (*models.Subscription, error) {
	return r.setStatus(ctx, id, models.SubscriptionActive, models.SubscriptionPaused)
}

// Resume reactivates a paused subscription
func (r *SubscriptionRepository) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	return r.setStatus(ctx, id, models.SubscriptionPaused, models.SubscriptionActive)
}

func (r *SubscriptionRepository) setStatus(ctx context.Context, id string, from, to models.SubscriptionStatus) (*models.Subscription, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND status = ?`, to, time.Now().UTC(), id, from)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	sub, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 && sub.Status != to {
		return nil, fmt.Errorf("subscription %s is %s: %w", id, sub.Status, ErrInvalidTransition)
	}
	return sub, nil
}

// ListDue returns active subscriptions due at now, ordered by ID after afterID
func (r *SubscriptionRepository) ListDue(ctx context.Context, now time.Time, afterID string, limit int) ([]models.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = ? AND next_email_at IS NOT NULL AND next_email_at <= ? AND id > ?
		ORDER BY id LIMIT ?`, models.SubscriptionActive, now.UTC(), afterID, limit)
}

// CountDue returns the number of active subscriptions due at now
func (r *SubscriptionRepository) CountDue(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions
		WHERE status = ? AND next_email_at IS NOT NULL AND next_email_at <= ?`,
		models.SubscriptionActive, now.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due subscriptions: %w", err)
	}
	return n, nil
}

// ListBySubject returns all subscriptions of a subject
func (r *SubscriptionRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE subject_id = ? ORDER BY created_at, id`, subjectID)
}

// ListByCampaign returns the subscriptions bound to a campaign version
func (r *SubscriptionRepository) ListByCampaign(ctx context.Context, campaignID string) ([]models.Subscription, error) {
	return r.list(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE campaign_id = ? ORDER BY created_at, id`, campaignID)
}

// UnsubscribeSubject unsubscribes a subject from every open subscription and
// returns how many were changed
func (r *SubscriptionRepository) UnsubscribeSubject(ctx context.Context, subjectID string, now time.Time) (int, error) {
	now = now.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions SET status = ?, next_email_at = NULL, completed_at = ?, end_reason = ?,
			revision = revision + 1, updated_at = ?
		WHERE subject_id = ? AND status IN (?, ?)`,
		models.SubscriptionUnsubscribed, now, models.EndUnsubscribed, now,
		subjectID, models.SubscriptionActive, models.SubscriptionPaused)
	if err != nil {
		return 0, fmt.Errorf("failed to unsubscribe subject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByStatus returns subscription counts keyed by status
func (r *SubscriptionRepository) CountByStatus(ctx context.Context) (map[models.SubscriptionStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	defer rows.Close()

	counts := map[models.SubscriptionStatus]int{}
	for rows.Next() {
		var status models.SubscriptionStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SubscriptionRepository) list(ctx context.Context, query string, args ...any) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}
