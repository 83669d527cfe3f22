// Package automation reacts to pipeline events: it enrolls subjects into
// drip campaigns, sends automation messages and moves subjects between
// stages, each at most once per execution key.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thephotocrm/thephotocrm-sub005/internal/email"
	"github.com/thephotocrm/thephotocrm-sub005/internal/metrics"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/render"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
	"github.com/thephotocrm/thephotocrm-sub005/internal/transport"
)

// ErrChannelUnavailable is returned when a step targets a channel that is
// not configured or the subject has no address for it
var ErrChannelUnavailable = errors.New("channel unavailable")

// Repositories groups the stores the engine uses
type Repositories struct {
	Campaigns     *repository.CampaignRepository
	Subscriptions *repository.SubscriptionRepository
	Subjects      *repository.SubjectRepository
	Automations   *repository.AutomationRepository
	Executions    *repository.ExecutionRepository
}

// Sender identity for automation email
type Identity struct {
	FromEmail string
	FromName  string
	ReplyTo   string
}

// Engine evaluates automations
type Engine struct {
	repos    Repositories
	sender   transport.Sender
	sms      transport.SMSSender
	renderer *render.Renderer
	identity Identity
	loc      *time.Location
	logger   *slog.Logger
}

// NewEngine creates an engine. sms may be nil when SMS is not configured.
func NewEngine(repos Repositories, sender transport.Sender, sms transport.SMSSender, renderer *render.Renderer,
	identity Identity, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		repos:    repos,
		sender:   sender,
		sms:      sms,
		renderer: renderer,
		identity: identity,
		loc:      loc,
		logger:   logger.With("component", "automation"),
	}
}

// StageResult summarizes the reactions to a stage entry
type StageResult struct {
	Enrolled        []string `json:"enrolled"`         // subscription ids
	AlreadyEnrolled []string `json:"already_enrolled"` // campaign ids
	StepsExecuted   int      `json:"steps_executed"`
}

// HandleStageEntered enrolls the subject into every active campaign that
// targets the stage and fires the stage's immediate communication steps.
// Failures of one campaign or step do not stop the others.
func (e *Engine) HandleStageEntered(ctx context.Context, subjectID, stageID string, at time.Time) (*StageResult, error) {
	subject, err := e.repos.Subjects.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	logger := e.logger.With("subject_id", subjectID, "stage_id", stageID)
	res := &StageResult{Enrolled: []string{}, AlreadyEnrolled: []string{}}
	var errs []error

	campaigns, err := e.repos.Campaigns.ListActiveForStage(ctx, subject.TenantID, stageID)
	if err != nil {
		return nil, err
	}
	for _, c := range campaigns {
		sub, err := e.repos.Subscriptions.Enroll(ctx, c.ID, subject.ID, at)
		switch {
		case errors.Is(err, repository.ErrAlreadyEnrolled):
			res.AlreadyEnrolled = append(res.AlreadyEnrolled, c.ID)
		case err != nil:
			errs = append(errs, fmt.Errorf("enroll in campaign %s: %w", c.ID, err))
		default:
			res.Enrolled = append(res.Enrolled, sub.ID)
			logger.Info("subject enrolled", "campaign_id", c.ID, "subscription_id", sub.ID)
		}
	}

	automations, err := e.repos.Automations.ListForStage(ctx, subject.TenantID, stageID)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	for i := range automations {
		for _, step := range automations[i].Steps {
			if step.DelayMinutes > 0 {
				continue
			}
			ran, err := e.fireStep(ctx, &automations[i], step, subject)
			if err != nil {
				errs = append(errs, err)
			}
			if ran {
				res.StepsExecuted++
			}
		}
	}

	return res, errors.Join(errs...)
}

// TriggerResult summarizes the reactions to a business trigger
type TriggerResult struct {
	Executed        []string `json:"executed"`         // automation ids
	AlreadyExecuted []string `json:"already_executed"` // automation ids
}

// HandleTrigger runs the stage-change automations listening for triggerType.
// Each automation moves a subject at most once per trigger type, however many
// times the trigger is raised.
func (e *Engine) HandleTrigger(ctx context.Context, subjectID, triggerType string, at time.Time) (*TriggerResult, error) {
	subject, err := e.repos.Subjects.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	automations, err := e.repos.Automations.ListForTrigger(ctx, subject.TenantID, triggerType)
	if err != nil {
		return nil, err
	}

	res := &TriggerResult{Executed: []string{}, AlreadyExecuted: []string{}}
	var errs []error
	for _, a := range automations {
		a := a
		key := repository.StageChangeKey(subject.ID, a.ID, triggerType)
		outcome, err := e.repos.Executions.TryExecute(ctx, key, func(ctx context.Context) error {
			moved, err := e.repos.Subjects.MoveToStage(ctx, subject.ID, a.TargetStageID, at)
			if err != nil {
				return err
			}
			if !moved {
				e.logger.Debug("subject already in target stage", "subject_id", subject.ID, "stage_id", a.TargetStageID)
			}
			_, err = e.HandleStageEntered(ctx, subject.ID, a.TargetStageID, at)
			return err
		})
		e.record(a.Kind, outcome, err)

		switch {
		case outcome == repository.AlreadyExecuted:
			res.AlreadyExecuted = append(res.AlreadyExecuted, a.ID)
			e.logger.Info("trigger already handled",
				"subject_id", subject.ID,
				"automation_id", a.ID,
				"trigger", triggerType,
			)
		case outcome == repository.Executed:
			res.Executed = append(res.Executed, a.ID)
			e.logger.Info("subject moved by trigger",
				"subject_id", subject.ID,
				"automation_id", a.ID,
				"trigger", triggerType,
				"stage_id", a.TargetStageID,
			)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return res, errors.Join(errs...)
}

// Evaluate fires time-based automations due at now: delayed communication
// steps and countdown messages. It implements the scheduler's evaluator.
func (e *Engine) Evaluate(ctx context.Context, now time.Time) error {
	var errs []error

	comms, err := e.repos.Automations.ListByKind(ctx, models.AutomationCommunication)
	if err != nil {
		return err
	}
	for i := range comms {
		if err := e.evaluateCommunication(ctx, &comms[i], now); err != nil {
			errs = append(errs, err)
		}
	}

	countdowns, err := e.repos.Automations.ListByKind(ctx, models.AutomationCountdown)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for i := range countdowns {
		if err := e.evaluateCountdown(ctx, &countdowns[i], now); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// evaluateCommunication fires each step for subjects that have been in the
// trigger stage for at least the step's delay. Subjects that entered the
// stage before the automation existed are left alone.
func (e *Engine) evaluateCommunication(ctx context.Context, a *models.Automation, now time.Time) error {
	var errs []error
	for _, step := range a.Steps {
		cutoff := now.Add(-time.Duration(step.DelayMinutes) * time.Minute)
		subjects, err := e.repos.Subjects.ListInStageSince(ctx, a.TenantID, a.TriggerStageID, cutoff)
		if err != nil {
			return err
		}
		for i := range subjects {
			if subjects[i].StageEnteredAt.Before(a.CreatedAt) {
				continue
			}
			if _, err := e.fireStep(ctx, a, step, &subjects[i]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// evaluateCountdown sends when event_date - days_before <= today < event_date,
// with days taken in the studio's timezone
func (e *Engine) evaluateCountdown(ctx context.Context, a *models.Automation, now time.Time) error {
	local := now.In(e.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
	from := today.AddDate(0, 0, 1).Add(-time.Nanosecond)
	to := today.AddDate(0, 0, a.DaysBefore+1).Add(-time.Nanosecond)

	subjects, err := e.repos.Subjects.ListWithEventBetween(ctx, a.TenantID, from, to)
	if err != nil {
		return err
	}

	var errs []error
	for i := range subjects {
		s := &subjects[i]
		eventDay := s.EventDate.In(e.loc)
		key := repository.CountdownKey(s.ID, a.ID, eventDay, a.DaysBefore)
		step := models.AutomationStep{ID: a.ID, Channel: a.Channel, Subject: a.Subject, Body: a.Body}
		if _, err := e.execute(ctx, a, key, step, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) fireStep(ctx context.Context, a *models.Automation, step models.AutomationStep, subject *models.Subject) (bool, error) {
	return e.execute(ctx, a, repository.CommunicationKey(subject.ID, a.ID, step.ID), step, subject)
}

// execute sends one message under key. It returns true when this call
// reserved the key.
func (e *Engine) execute(ctx context.Context, a *models.Automation, key repository.ExecutionKey,
	step models.AutomationStep, subject *models.Subject) (bool, error) {

	channel := step.Channel
	if channel == "" {
		channel = models.ChannelEmail
	}
	if channel == models.ChannelEmail && subject.EmailOptOut {
		return false, nil
	}

	outcome, err := e.repos.Executions.TryExecute(ctx, key, func(ctx context.Context) error {
		return e.send(ctx, channel, step, subject)
	})
	e.record(a.Kind, outcome, err)
	if err != nil {
		e.logger.Error("automation message failed",
			"automation_id", a.ID,
			"subject_id", subject.ID,
			"channel", channel,
			"error", err,
		)
		return outcome == repository.Executed, err
	}
	if outcome == repository.Executed {
		e.logger.Info("automation message sent",
			"automation_id", a.ID,
			"subject_id", subject.ID,
			"channel", channel,
		)
	}
	return outcome == repository.Executed, nil
}

func (e *Engine) send(ctx context.Context, channel models.Channel, step models.AutomationStep, subject *models.Subject) error {
	vars := e.renderer.Vars(subject, nil)
	content := e.renderer.Render(render.Content{Subject: step.Subject, Text: step.Body}, vars)

	switch channel {
	case models.ChannelSMS:
		if e.sms == nil || subject.Phone == "" {
			return fmt.Errorf("sms to subject %s: %w", subject.ID, ErrChannelUnavailable)
		}
		_, err := e.sms.SendSMS(ctx, subject.Phone, content.Text)
		return err

	default:
		if e.sender == nil || !email.IsDeliverable(subject.Email) {
			return fmt.Errorf("email to subject %s: %w", subject.ID, ErrChannelUnavailable)
		}
		_, err := e.sender.Send(ctx, &transport.Message{
			ID:       uuid.New().String(),
			From:     e.identity.FromEmail,
			FromName: e.identity.FromName,
			ReplyTo:  e.identity.ReplyTo,
			To:       email.Normalize(subject.Email),
			ToName:   subject.FullName(),
			Subject:  content.Subject,
			Text:     content.Text,
			Tags:     map[string]string{"subject_id": subject.ID, "kind": "automation"},
		})
		return err
	}
}

func (e *Engine) record(kind models.AutomationKind, outcome repository.Outcome, err error) {
	label := outcome.String()
	if outcome == 0 {
		label = "error"
	} else if err != nil {
		label = "effect_failed"
	}
	metrics.IncAutomationExecutions(string(kind), label)
}
