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

type SubjectRepository struct {
	db *db.DB
}

func NewSubjectRepository(database *db.DB) *SubjectRepository {
	return &SubjectRepository{db: database}
}

const subjectColumns = `id, tenant_id, email, phone, first_name, last_name, stage_id, stage_entered_at,
	event_date, email_opt_out, created_at, updated_at`

func scanSubject(row rowScanner) (*models.Subject, error) {
	s := &models.Subject{}
	var eventDate sql.NullTime
	var optOut int
	err := row.Scan(&s.ID, &s.TenantID, &s.Email, &s.Phone, &s.FirstName, &s.LastName, &s.StageID, &s.StageEnteredAt,
		&eventDate, &optOut, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.StageEnteredAt = s.StageEnteredAt.UTC()
	s.EventDate = timePtr(eventDate)
	s.EmailOptOut = optOut == 1
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

// Upsert creates or replaces a subject. An empty ID is assigned.
func (r *SubjectRepository) Upsert(ctx context.Context, s *models.Subject) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.StageEnteredAt.IsZero() {
		s.StageEnteredAt = now
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subjects (`+subjectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			email = excluded.email,
			phone = excluded.phone,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			stage_id = excluded.stage_id,
			stage_entered_at = excluded.stage_entered_at,
			event_date = excluded.event_date,
			email_opt_out = excluded.email_opt_out,
			updated_at = excluded.updated_at`,
		s.ID, s.TenantID, s.Email, s.Phone, s.FirstName, s.LastName, s.StageID, s.StageEnteredAt.UTC(),
		utcPtr(s.EventDate), boolInt(s.EmailOptOut), s.CreatedAt.UTC(), s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert subject: %w", err)
	}
	return nil
}

// Get returns a subject by ID
func (r *SubjectRepository) Get(ctx context.Context, id string) (*models.Subject, error) {
	s, err := scanSubject(r.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return s, nil
}

// MoveToStage sets the subject's pipeline stage. Moving to the current stage
// is a no-op and returns false.
func (r *SubjectRepository) MoveToStage(ctx context.Context, id, stageID string, at time.Time) (bool, error) {
	at = at.UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE subjects SET stage_id = ?, stage_entered_at = ?, updated_at = ?
		WHERE id = ? AND stage_id <> ?`, stageID, at, at, id, stageID)
	if err != nil {
		return false, fmt.Errorf("failed to move subject: %w", err)
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

// SetEmailOptOut records a subject's email opt-out preference
func (r *SubjectRepository) SetEmailOptOut(ctx context.Context, id string, optOut bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE subjects SET email_opt_out = ?, updated_at = ? WHERE id = ?`,
		boolInt(optOut), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set opt-out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListInStageSince returns subjects of a tenant that entered stageID at or before cutoff
func (r *SubjectRepository) ListInStageSince(ctx context.Context, tenantID, stageID string, cutoff time.Time) ([]models.Subject, error) {
	return r.list(ctx, `SELECT `+subjectColumns+` FROM subjects
		WHERE tenant_id = ? AND stage_id = ? AND stage_entered_at <= ?
		ORDER BY id`, tenantID, stageID, cutoff.UTC())
}

// ListWithEventBetween returns subjects of a tenant whose event date is in (from, to]
func (r *SubjectRepository) ListWithEventBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Subject, error) {
	return r.list(ctx, `SELECT `+subjectColumns+` FROM subjects
		WHERE tenant_id = ? AND event_date IS NOT NULL AND event_date > ? AND event_date <= ?
		ORDER BY id`, tenantID, from.UTC(), to.UTC())
}

func (r *SubjectRepository) list(ctx context.Context, query string, args ...any) ([]models.Subject, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	subjects := []models.Subject{}
	for rows.Next() {
		s, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, *s)
	}
	return subjects, rows.Err()
}
