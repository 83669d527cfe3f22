package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thephotocrm/thephotocrm-sub005/internal/db"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
)

// Outcome of TryExecute
type Outcome int

const (
	// Executed means this call reserved the key and ran the effect
	Executed Outcome = iota + 1
	// AlreadyExecuted means the key was reserved earlier and the effect was skipped
	AlreadyExecuted
)

func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case AlreadyExecuted:
		return "already_executed"
	}
	return "unknown"
}

// ExecutionKey identifies one firing of an automation for a subject. Only
// the discriminator fields of its Kind are significant.
type ExecutionKey struct {
	SubjectID    string
	AutomationID string
	Kind         models.AutomationKind
	StepID       string
	TriggerType  string
	EventDate    string
	DaysBefore   int
}

// CommunicationKey keys a communication step
func CommunicationKey(subjectID, automationID, stepID string) ExecutionKey {
	return ExecutionKey{SubjectID: subjectID, AutomationID: automationID, Kind: models.AutomationCommunication, StepID: stepID}
}

// StageChangeKey keys a stage change on a business trigger
func StageChangeKey(subjectID, automationID, triggerType string) ExecutionKey {
	return ExecutionKey{SubjectID: subjectID, AutomationID: automationID, Kind: models.AutomationStageChange, TriggerType: triggerType}
}

// CountdownKey keys a countdown message for one event date
func CountdownKey(subjectID, automationID string, eventDate time.Time, daysBefore int) ExecutionKey {
	return ExecutionKey{
		SubjectID:    subjectID,
		AutomationID: automationID,
		Kind:         models.AutomationCountdown,
		EventDate:    eventDate.Format("2006-01-02"),
		DaysBefore:   daysBefore,
	}
}

func (k ExecutionKey) validate() error {
	if k.SubjectID == "" || k.AutomationID == "" {
		return fmt.Errorf("execution key needs subject and automation")
	}
	switch k.Kind {
	case models.AutomationCommunication:
		if k.StepID == "" {
			return fmt.Errorf("communication key needs a step id")
		}
	case models.AutomationStageChange:
		if k.TriggerType == "" {
			return fmt.Errorf("stage change key needs a trigger type")
		}
	case models.AutomationCountdown:
		if k.EventDate == "" {
			return fmt.Errorf("countdown key needs an event date")
		}
	default:
		return fmt.Errorf("unknown automation kind %q", k.Kind)
	}
	return nil
}

// normalized clears fields that do not belong to the key's kind
func (k ExecutionKey) normalized() ExecutionKey {
	n := ExecutionKey{SubjectID: k.SubjectID, AutomationID: k.AutomationID, Kind: k.Kind}
	switch k.Kind {
	case models.AutomationCommunication:
		n.StepID = k.StepID
	case models.AutomationStageChange:
		n.TriggerType = k.TriggerType
	case models.AutomationCountdown:
		n.EventDate = k.EventDate
		n.DaysBefore = k.DaysBefore
	}
	return n
}

type ExecutionRepository struct {
	db *db.DB
}

func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Reserve inserts the execution row for key. It returns false when the key
// was already reserved.
func (r *ExecutionRepository) Reserve(ctx context.Context, key ExecutionKey, at time.Time) (bool, error) {
	if err := key.validate(); err != nil {
		return false, err
	}
	k := key.normalized()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_executions (id, subject_id, automation_id, kind, step_id, trigger_type, event_date, days_before, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		uuid.New().String(), k.SubjectID, k.AutomationID, k.Kind, k.StepID, k.TriggerType, k.EventDate, k.DaysBefore, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TryExecute runs effect at most once per key. The key is reserved before
// effect runs; if effect fails the reservation stays and the error is
// returned with Executed.
func (r *ExecutionRepository) TryExecute(ctx context.Context, key ExecutionKey, effect func(ctx context.Context) error) (Outcome, error) {
	reserved, err := r.Reserve(ctx, key, time.Now())
	if err != nil {
		return 0, err
	}
	if !reserved {
		return AlreadyExecuted, nil
	}
	if err := effect(ctx); err != nil {
		return Executed, fmt.Errorf("automation %s effect failed: %w", key.AutomationID, err)
	}
	return Executed, nil
}

// ListBySubject returns a subject's executions, oldest first
func (r *ExecutionRepository) ListBySubject(ctx context.Context, subjectID string) ([]models.AutomationExecution, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, automation_id, kind, step_id, trigger_type, event_date, days_before, executed_at
		FROM automation_executions WHERE subject_id = ? ORDER BY executed_at, id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	execs := []models.AutomationExecution{}
	for rows.Next() {
		var e models.AutomationExecution
		if err := rows.Scan(&e.ID, &e.SubjectID, &e.AutomationID, &e.Kind, &e.StepID, &e.TriggerType,
			&e.EventDate, &e.DaysBefore, &e.ExecutedAt); err != nil {
			return nil, err
		}
		e.ExecutedAt = e.ExecutedAt.UTC()
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

// CountByKind returns execution counts keyed by automation kind
func (r *ExecutionRepository) CountByKind(ctx context.Context) (map[models.AutomationKind]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM automation_executions GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count executions: %w", err)
	}
	defer rows.Close()

	counts := map[models.AutomationKind]int{}
	for rows.Next() {
		var kind models.AutomationKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
