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

type AutomationRepository struct {
	db *db.DB
}

func NewAutomationRepository(database *db.DB) *AutomationRepository {
	return &AutomationRepository{db: database}
}

const automationColumns = `id, tenant_id, name, kind, trigger_stage_id, trigger_type, target_stage_id,
	days_before, channel, subject, body, enabled, created_at`

const stepColumns = `id, automation_id, step_index, delay_minutes, channel, subject, body, created_at`

func scanAutomation(row rowScanner) (*models.Automation, error) {
	a := &models.Automation{}
	var enabled int
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Kind, &a.TriggerStageID, &a.TriggerType, &a.TargetStageID,
		&a.DaysBefore, &a.Channel, &a.Subject, &a.Body, &enabled, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Enabled = enabled == 1
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// Create stores an automation and its steps
func (r *AutomationRepository) Create(ctx context.Context, a *models.Automation) error {
	now := time.Now().UTC()
	a.ID = uuid.New().String()
	a.CreatedAt = now

	return r.db.WithTx(ctx, func(tx *db.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO automations (`+automationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.TenantID, a.Name, a.Kind, a.TriggerStageID, a.TriggerType, a.TargetStageID,
			a.DaysBefore, a.Channel, a.Subject, a.Body, boolInt(a.Enabled), a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create automation: %w", err)
		}

		for i := range a.Steps {
			s := &a.Steps[i]
			s.ID = uuid.New().String()
			s.AutomationID = a.ID
			s.StepIndex = i
			if s.Channel == "" {
				s.Channel = models.ChannelEmail
			}
			s.CreatedAt = now
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO automation_steps (`+stepColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				s.ID, s.AutomationID, s.StepIndex, s.DelayMinutes, s.Channel, s.Subject, s.Body, s.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to create automation step: %w", err)
			}
		}
		return nil
	})
}

// Get returns an automation with its steps
func (r *AutomationRepository) Get(ctx context.Context, id string) (*models.Automation, error) {
	a, err := scanAutomation(r.db.QueryRowContext(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("automation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get automation: %w", err)
	}
	if a.Steps, err = r.steps(ctx, a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// SetEnabled turns an automation on or off
func (r *AutomationRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE automations SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update automation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("automation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListForStage returns enabled communication automations triggered by entering a stage
func (r *AutomationRepository) ListForStage(ctx context.Context, tenantID, stageID string) ([]models.Automation, error) {
	return r.list(ctx, `SELECT `+automationColumns+` FROM automations
		WHERE tenant_id = ? AND kind = ? AND trigger_stage_id = ? AND enabled = 1
		ORDER BY created_at, id`, tenantID, models.AutomationCommunication, stageID)
}

// ListForTrigger returns enabled stage-change automations for a business trigger
func (r *AutomationRepository) ListForTrigger(ctx context.Context, tenantID, triggerType string) ([]models.Automation, error) {
	return r.list(ctx, `SELECT `+automationColumns+` FROM automations
		WHERE tenant_id = ? AND kind = ? AND trigger_type = ? AND enabled = 1
		ORDER BY created_at, id`, tenantID, models.AutomationStageChange, triggerType)
}

// ListByKind returns every enabled automation of a kind across tenants
func (r *AutomationRepository) ListByKind(ctx context.Context, kind models.AutomationKind) ([]models.Automation, error) {
	return r.list(ctx, `SELECT `+automationColumns+` FROM automations
		WHERE kind = ? AND enabled = 1 ORDER BY created_at, id`, kind)
}

func (r *AutomationRepository) list(ctx context.Context, query string, args ...any) ([]models.Automation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list automations: %w", err)
	}

	automations := []models.Automation{}
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		automations = append(automations, *a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range automations {
		if automations[i].Steps, err = r.steps(ctx, automations[i].ID); err != nil {
			return nil, err
		}
	}
	return automations, nil
}

func (r *AutomationRepository) steps(ctx context.Context, automationID string) ([]models.AutomationStep, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM automation_steps
		WHERE automation_id = ? ORDER BY step_index`, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation steps: %w", err)
	}
	defer rows.Close()

	steps := []models.AutomationStep{}
	for rows.Next() {
		var s models.AutomationStep
		if err := rows.Scan(&s.ID, &s.AutomationID, &s.StepIndex, &s.DelayMinutes, &s.Channel, &s.Subject,
			&s.Body, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
