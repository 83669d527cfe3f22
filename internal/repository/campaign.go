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

type CampaignRepository struct {
	db  *db.DB
	loc *time.Location
}

// NewCampaignRepository creates a campaign store. loc is the timezone used to
// place send-at hours when subscriptions are moved to a new version.
func NewCampaignRepository(database *db.DB, loc *time.Location) *CampaignRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &CampaignRepository{db: database, loc: loc}
}

const campaignColumns = `id, tenant_id, name, target_stage_id, status, content_origin, cadence_days,
	max_duration_days, version, parent_campaign_id, lineage_id, is_current_version,
	from_email, from_name, reply_to, created_at, updated_at`

const emailColumns = `id, campaign_id, sequence_index, subject, html_body, text_body, days_after_start,
	send_at_hour, approval_status, original_subject, original_html_body, original_text_body, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var parent sql.NullString
	var current int
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.TargetStageID, &c.Status, &c.ContentOrigin, &c.CadenceDays,
		&c.MaxDurationDays, &c.Version, &parent, &c.LineageID, &current,
		&c.FromEmail, &c.FromName, &c.ReplyTo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ParentCampaignID = strPtr(parent)
	c.IsCurrentVersion = current == 1
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func scanEmail(row rowScanner) (*models.CampaignEmail, error) {
	e := &models.CampaignEmail{}
	var hour sql.NullInt64
	var origSubject, origHTML, origText sql.NullString
	err := row.Scan(&e.ID, &e.CampaignID, &e.SequenceIndex, &e.Subject, &e.HTMLBody, &e.TextBody, &e.DaysAfterStart,
		&hour, &e.ApprovalStatus, &origSubject, &origHTML, &origText, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.SendAtHour = intPtr(hour)
	e.OriginalSubject = strPtr(origSubject)
	e.OriginalHTMLBody = strPtr(origHTML)
	e.OriginalTextBody = strPtr(origText)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func getCampaign(ctx context.Context, q db.Querier, id string) (*models.Campaign, error) {
	c, err := scanCampaign(q.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// getEmails loads a campaign's sequence and checks that indices are contiguous from 0
func getEmails(ctx context.Context, q db.Querier, campaignID string) ([]models.CampaignEmail, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+emailColumns+` FROM campaign_emails
		WHERE campaign_id = ? ORDER BY sequence_index`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign emails: %w", err)
	}
	defer rows.Close()

	emails := []models.CampaignEmail{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		if e.SequenceIndex != len(emails) {
			return nil, fmt.Errorf("campaign %s: sequence index %d at position %d: %w",
				campaignID, e.SequenceIndex, len(emails), ErrIntegrity)
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

func insertCampaign(ctx context.Context, q db.Querier, c *models.Campaign) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, c.TargetStageID, c.Status, c.ContentOrigin, c.CadenceDays,
		c.MaxDurationDays, c.Version, c.ParentCampaignID, c.LineageID, boolInt(c.IsCurrentVersion),
		c.FromEmail, c.FromName, c.ReplyTo, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func insertEmail(ctx context.Context, q db.Querier, e *models.CampaignEmail) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO campaign_emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CampaignID, e.SequenceIndex, e.Subject, e.HTMLBody, e.TextBody, e.DaysAfterStart,
		e.SendAtHour, e.ApprovalStatus, e.OriginalSubject, e.OriginalHTMLBody, e.OriginalTextBody, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert campaign email %d: %w", e.SequenceIndex, err)
	}
	return nil
}

func prepareNew(c *models.Campaign, now time.Time) {
	c.ID = uuid.New().String()
	c.LineageID = c.ID
	c.Version = 1
	c.ParentCampaignID = nil
	c.IsCurrentVersion = true
	if c.Status == "" {
		c.Status = models.CampaignDraft
	}
	if c.ContentOrigin == "" {
		c.ContentOrigin = models.OriginManual
	}
	c.CreatedAt = now
	c.UpdatedAt = now
}

func prepareEmails(campaignID string, emails []models.CampaignEmail, now time.Time) {
	for i := range emails {
		emails[i].ID = uuid.New().String()
		emails[i].CampaignID = campaignID
		emails[i].SequenceIndex = i
		if emails[i].ApprovalStatus == "" {
			emails[i].ApprovalStatus = models.ApprovalPending
		}
		emails[i].CreatedAt = now
	}
}

// Create stores a new campaign lineage at version 1 together with its emails.
// Email sequence indices are assigned from slice order.
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign, emails []models.CampaignEmail) error {
	now := time.Now().UTC()
	prepareNew(c, now)
	prepareEmails(c.ID, emails, now)

	return r.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := insertCampaign(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		for i := range emails {
			if err := insertEmail(ctx, tx, &emails[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetOrCreateDraft returns the open draft for the draft's tenant and target
// stage, inserting draft and emails when none exists. created reports whether
// this call inserted it.
func (r *CampaignRepository) GetOrCreateDraft(ctx context.Context, draft *models.Campaign, emails []models.CampaignEmail) (*models.Campaign, bool, error) {
	now := time.Now().UTC()
	draft.Status = models.CampaignDraft
	prepareNew(draft, now)
	prepareEmails(draft.ID, emails, now)

	var result *models.Campaign
	created := false
	err := r.db.WithTx(ctx, func(tx *db.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO campaigns (`+campaignColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`,
			draft.ID, draft.TenantID, draft.Name, draft.TargetStageID, draft.Status, draft.ContentOrigin, draft.CadenceDays,
			draft.MaxDurationDays, draft.Version, nil, draft.LineageID, 1,
			draft.FromEmail, draft.FromName, draft.ReplyTo, draft.CreatedAt, draft.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert draft: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 1 {
			for i := range emails {
				if err := insertEmail(ctx, tx, &emails[i]); err != nil {
					return err
				}
			}
			result = draft
			created = true
			return nil
		}

		existing, err := scanCampaign(tx.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
			WHERE tenant_id = ? AND target_stage_id = ? AND status = ? AND is_current_version = 1`,
			draft.TenantID, draft.TargetStageID, models.CampaignDraft))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("draft insert skipped but no draft found: %w", ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to get draft: %w", err)
		}
		result = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetCampaign returns a campaign version by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	return getCampaign(ctx, r.db, id)
}

// GetCurrentVersion returns the current version of a lineage
func (r *CampaignRepository) GetCurrentVersion(ctx context.Context, lineageID string) (*models.Campaign, error) {
	c, err := scanCampaign(r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE lineage_id = ? AND is_current_version = 1`, lineageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lineage %s: %w", lineageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current version: %w", err)
	}
	return c, nil
}

// ListVersions returns every version of a lineage, oldest first
func (r *CampaignRepository) ListVersions(ctx context.Context, lineageID string) ([]models.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE lineage_id = ? ORDER BY version`, lineageID)
}

// GetEmails returns the ordered email sequence of a campaign version
func (r *CampaignRepository) GetEmails(ctx context.Context, campaignID string) ([]models.CampaignEmail, error) {
	return getEmails(ctx, r.db, campaignID)
}

// GetEmail returns one campaign email by ID
func (r *CampaignRepository) GetEmail(ctx context.Context, id string) (*models.CampaignEmail, error) {
	e, err := scanEmail(r.db.QueryRowContext(ctx, `SELECT `+emailColumns+` FROM campaign_emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign email %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign email: %w", err)
	}
	return e, nil
}

func hasDeliveries(ctx context.Context, q db.Querier, campaignID string) (bool, error) {
	var exists int
	err := q.QueryRowContext(ctx, `
		SELECT 1 FROM deliveries d
		JOIN campaign_emails ce ON ce.id = d.campaign_email_id
		WHERE ce.campaign_id = ? LIMIT 1`, campaignID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check deliveries: %w", err)
	}
	return true, nil
}

// HasDeliveries reports whether any delivery references an email of the campaign version
func (r *CampaignRepository) HasDeliveries(ctx context.Context, campaignID string) (bool, error) {
	return hasDeliveries(ctx, r.db, campaignID)
}

// lockCurrentForEdit takes the campaign row for writing ahead of an in-place
// edit and fails with ErrConflict when the version is superseded. It must
// run before the delivery check; RecordAttempt share-locks the same row.
func lockCurrentForEdit(ctx context.Context, tx *db.Tx, campaignID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE campaigns SET updated_at = ? WHERE id = ? AND is_current_version = 1`, now, campaignID)
	if err != nil {
		return fmt.Errorf("failed to lock campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := getCampaign(ctx, tx, campaignID); err != nil {
			return err
		}
		return fmt.Errorf("campaign %s is not the current version: %w", campaignID, ErrConflict)
	}
	return nil
}

// AddEmail appends an email to the end of the campaign's sequence.
// Campaigns with deliveries must be versioned instead.
func (r *CampaignRepository) AddEmail(ctx context.Context, campaignID string, e *models.CampaignEmail) error {
	return r.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := lockCurrentForEdit(ctx, tx, campaignID, time.Now().UTC()); err != nil {
			return err
		}
		delivered, err := hasDeliveries(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if delivered {
			return fmt.Errorf("campaign %s has deliveries: %w", campaignID, ErrConflict)
		}

		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_emails WHERE campaign_id = ?`, campaignID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count emails: %w", err)
		}

		e.ID = uuid.New().String()
		e.CampaignID = campaignID
		e.SequenceIndex = count
		if e.ApprovalStatus == "" {
			e.ApprovalStatus = models.ApprovalPending
		}
		e.CreatedAt = time.Now().UTC()
		return insertEmail(ctx, tx, e)
	})
}

// ApplyEdits changes a campaign version in place. It refuses with ErrConflict
// once any delivery references the version or the version is superseded.
func (r *CampaignRepository) ApplyEdits(ctx context.Context, campaignID string, edits models.CampaignEdits) error {
	now := time.Now().UTC()
	return r.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := lockCurrentForEdit(ctx, tx, campaignID, now); err != nil {
			return err
		}
		c, err := getCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		delivered, err := hasDeliveries(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if delivered {
			return fmt.Errorf("campaign %s has deliveries: %w", campaignID, ErrConflict)
		}

		applySettings(c, edits)
		if _, err := tx.ExecContext(ctx, `
			UPDATE campaigns SET name = ?, cadence_days = ?, max_duration_days = ?, updated_at = ?
			WHERE id = ?`, c.Name, c.CadenceDays, c.MaxDurationDays, now, c.ID); err != nil {
			return fmt.Errorf("failed to update campaign: %w", err)
		}

		emails, err := getEmails(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		for idx, edit := range edits.Emails {
			if idx < 0 || idx >= len(emails) {
				return fmt.Errorf("email index %d: %w", idx, ErrNotFound)
			}
			e := emails[idx]
			applyEmailEdit(&e, edit)
			if _, err := tx.ExecContext(ctx, `
				UPDATE campaign_emails SET subject = ?, html_body = ?, text_body = ?, days_after_start = ?, send_at_hour = ?
				WHERE id = ?`, e.Subject, e.HTMLBody, e.TextBody, e.DaysAfterStart, e.SendAtHour, e.ID); err != nil {
				return fmt.Errorf("failed to update campaign email: %w", err)
			}
		}
		return nil
	})
}

// SetEmailApproval sets the review status of one email
func (r *CampaignRepository) SetEmailApproval(ctx context.Context, emailID string, status models.ApprovalStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE campaign_emails SET approval_status = ? WHERE id = ?`, status, emailID)
	if err != nil {
		return fmt.Errorf("failed to set approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("campaign email %s: %w", emailID, ErrNotFound)
	}
	return nil
}

// CountApproved returns how many emails of the campaign are approved
func (r *CampaignRepository) CountApproved(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_emails WHERE campaign_id = ? AND approval_status = ?`,
		campaignID, models.ApprovalApproved).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count approved emails: %w", err)
	}
	return n, nil
}

// Transition moves a campaign from one status to another. The update is a
// compare-and-swap on the current status.
func (r *CampaignRepository) Transition(ctx context.Context, id string, from, to models.CampaignStatus) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		c, err := r.GetCampaign(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("campaign is %s, not %s: %w", c.Status, from, ErrInvalidTransition)
	}
	return nil
}

// CreateVersion supersedes a current campaign version with an edited copy.
// The old version and its emails are left untouched. Edited emails keep a
// snapshot of the content they replaced. Open subscriptions move to the new
// version and their next due time is recomputed.
func (r *CampaignRepository) CreateVersion(ctx context.Context, campaignID string, edits models.CampaignEdits) (*models.Campaign, error) {
	now := time.Now().UTC()
	var next *models.Campaign

	err := r.db.WithTx(ctx, func(tx *db.Tx) error {
		// Flip first so the current-version index never sees two rows.
		res, err := tx.ExecContext(ctx, `UPDATE campaigns SET is_current_version = 0, updated_at = ?
			WHERE id = ? AND is_current_version = 1`, now, campaignID)
		if err != nil {
			return fmt.Errorf("failed to retire campaign version: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := getCampaign(ctx, tx, campaignID); err != nil {
				return err
			}
			return fmt.Errorf("campaign %s is not the current version: %w", campaignID, ErrConflict)
		}

		old, err := getCampaign(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		oldEmails, err := getEmails(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		for idx := range edits.Emails {
			if idx < 0 || idx >= len(oldEmails) {
				return fmt.Errorf("email index %d: %w", idx, ErrNotFound)
			}
		}

		c := *old
		c.ID = uuid.New().String()
		c.Version = old.Version + 1
		parent := old.ID
		c.ParentCampaignID = &parent
		c.IsCurrentVersion = true
		c.CreatedAt = now
		c.UpdatedAt = now
		applySettings(&c, edits)
		if err := insertCampaign(ctx, tx, &c); err != nil {
			return fmt.Errorf("failed to insert campaign version: %w", err)
		}

		newEmails := make([]models.CampaignEmail, len(oldEmails))
		for i, oe := range oldEmails {
			e := oe
			e.ID = uuid.New().String()
			e.CampaignID = c.ID
			e.CreatedAt = now
			if edit, ok := edits.Emails[i]; ok {
				if edit.ChangesContent() && e.OriginalSubject == nil {
					e.OriginalSubject = &oe.Subject
					e.OriginalHTMLBody = &oe.HTMLBody
					e.OriginalTextBody = &oe.TextBody
				}
				applyEmailEdit(&e, edit)
			}
			if err := insertEmail(ctx, tx, &e); err != nil {
				return err
			}
			newEmails[i] = e
		}

		if err := r.moveSubscriptions(ctx, tx, old.ID, c.ID, newEmails, now); err != nil {
			return err
		}

		next = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

func (r *CampaignRepository) moveSubscriptions(ctx context.Context, tx *db.Tx, fromID, toID string, emails []models.CampaignEmail, now time.Time) error {
	rows, err := tx.QueryContext(ctx, `SELECT id, started_at, next_email_index, status FROM subscriptions
		WHERE campaign_id = ? AND status IN (?, ?)`, fromID, models.SubscriptionActive, models.SubscriptionPaused)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	type open struct {
		id        string
		startedAt time.Time
		index     int
		status    models.SubscriptionStatus
	}
	var subs []open
	for rows.Next() {
		var s open
		if err := rows.Scan(&s.id, &s.startedAt, &s.index, &s.status); err != nil {
			rows.Close()
			return err
		}
		subs = append(subs, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, s := range subs {
		var nextAt any
		if due, ok := models.NextDue(emails, s.index, s.startedAt, r.loc); ok {
			nextAt = due
		}
		// A cursor with nothing left is completed by the scheduler on its next pass.
		if nextAt == nil && s.status == models.SubscriptionActive {
			nextAt = now
		}
		if _, err := tx.ExecContext(ctx, `UPDATE subscriptions SET campaign_id = ?, next_email_at = ?,
			revision = revision + 1, updated_at = ? WHERE id = ?`, toID, nextAt, now, s.id); err != nil {
			return fmt.Errorf("failed to move subscription: %w", err)
		}
	}
	return nil
}

func applySettings(c *models.Campaign, edits models.CampaignEdits) {
	if edits.Name != nil {
		c.Name = *edits.Name
	}
	if edits.CadenceDays != nil {
		c.CadenceDays = *edits.CadenceDays
	}
	if edits.MaxDurationDays != nil {
		c.MaxDurationDays = *edits.MaxDurationDays
	}
}

func applyEmailEdit(e *models.CampaignEmail, edit models.EmailEdit) {
	if edit.Subject != nil {
		e.Subject = *edit.Subject
	}
	if edit.HTMLBody != nil {
		e.HTMLBody = *edit.HTMLBody
	}
	if edit.TextBody != nil {
		e.TextBody = *edit.TextBody
	}
	if edit.DaysAfterStart != nil {
		e.DaysAfterStart = *edit.DaysAfterStart
	}
	if edit.SendAtHour != nil {
		h := *edit.SendAtHour
		e.SendAtHour = &h
	}
}

func (r *CampaignRepository) list(ctx context.Context, query string, args ...any) ([]models.Campaign, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []models.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// List returns campaigns with optional filtering
func (r *CampaignRepository) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}

	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.CurrentOnly {
		query += " AND is_current_version = 1"
	}

	query += " ORDER BY created_at DESC, id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return r.list(ctx, query, args...)
}

// ListActiveForStage returns the current, active campaigns targeting a stage
func (r *CampaignRepository) ListActiveForStage(ctx context.Context, tenantID, stageID string) ([]models.Campaign, error) {
	return r.list(ctx, `SELECT `+campaignColumns+` FROM campaigns
		WHERE tenant_id = ? AND target_stage_id = ? AND status = ? AND is_current_version = 1
		ORDER BY created_at, id`, tenantID, stageID, models.CampaignActive)
}
