// Package campaign implements drip campaign authoring: creating drafts from
// templates, manual input or AI, reviewing emails, versioned edits and the
// campaign lifecycle.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/thephotocrm/thephotocrm-sub005/internal/contentgen"
	"github.com/thephotocrm/thephotocrm-sub005/internal/models"
	"github.com/thephotocrm/thephotocrm-sub005/internal/repository"
)

var (
	// ErrInvalidInput wraps validation failures of authoring input
	ErrInvalidInput = errors.New("invalid campaign input")
	// ErrNoApprovedEmails is returned when approving a campaign with nothing to send
	ErrNoApprovedEmails = errors.New("campaign has no approved emails")
	// ErrGenerationDisabled is returned by Generate when no drafter is configured
	ErrGenerationDisabled = errors.New("ai generation is not configured")
)

const defaultCadenceDays = 7

// Drafter produces AI email drafts
type Drafter interface {
	Generate(ctx context.Context, req contentgen.Request) ([]models.CampaignEmail, error)
}

// EmailInput is one authored email
type EmailInput struct {
	Subject        string `json:"subject" validate:"required,max=300"`
	HTMLBody       string `json:"html_body" validate:"required_without=TextBody"`
	TextBody       string `json:"text_body" validate:"required_without=HTMLBody"`
	DaysAfterStart int    `json:"days_after_start" validate:"min=0"`
	SendAtHour     *int   `json:"send_at_hour,omitempty" validate:"omitempty,min=0,max=23"`
}

// CreateInput describes a new campaign
type CreateInput struct {
	TenantID        string       `json:"tenant_id" validate:"required"`
	Name            string       `json:"name" validate:"required,max=200"`
	TargetStageID   string       `json:"target_stage_id" validate:"required"`
	CadenceDays     int          `json:"cadence_days" validate:"min=0"`
	MaxDurationDays int          `json:"max_duration_days" validate:"min=0"`
	FromEmail       string       `json:"from_email,omitempty" validate:"omitempty,email"`
	FromName        string       `json:"from_name,omitempty"`
	ReplyTo         string       `json:"reply_to,omitempty" validate:"omitempty,email"`
	Emails          []EmailInput `json:"emails" validate:"required,min=1,dive"`
}

// GenerateInput describes an AI-drafted campaign
type GenerateInput struct {
	TenantID        string `json:"tenant_id" validate:"required"`
	Name            string `json:"name" validate:"required,max=200"`
	TargetStageID   string `json:"target_stage_id" validate:"required"`
	CadenceDays     int    `json:"cadence_days" validate:"min=0"`
	MaxDurationDays int    `json:"max_duration_days" validate:"min=0"`
	EmailCount      int    `json:"email_count" validate:"omitempty,min=1,max=12"`
	Tone            string `json:"tone,omitempty" validate:"max=100"`
	Notes           string `json:"notes,omitempty" validate:"max=2000"`
}

// Detail is a campaign version with its sequence
type Detail struct {
	models.Campaign
	Emails []models.CampaignEmail `json:"emails"`
}

// Branding feeds the AI prompt
type Branding struct {
	BusinessName     string
	PhotographerName string
}

// Service is the authoring API over the campaign store
type Service struct {
	campaigns  *repository.CampaignRepository
	deliveries *repository.DeliveryRepository
	drafter    Drafter
	branding   Branding
	validate   *validator.Validate
	logger     *slog.Logger
}

// NewService creates the service. drafter may be nil.
func NewService(campaigns *repository.CampaignRepository, deliveries *repository.DeliveryRepository,
	drafter Drafter, branding Branding, logger *slog.Logger) *Service {
	return &Service{
		campaigns:  campaigns,
		deliveries: deliveries,
		drafter:    drafter,
		branding:   branding,
		validate:   validator.New(),
		logger:     logger.With("component", "campaign"),
	}
}

// CreateStatic stores a draft built from a vetted template. Template emails
// are approved on creation. If the tenant already has a draft for the stage
// it is returned and created is false.
func (s *Service) CreateStatic(ctx context.Context, in CreateInput) (*models.Campaign, bool, error) {
	return s.create(ctx, in, models.OriginStatic, models.ApprovalApproved)
}

// CreateManual stores a draft written by the photographer. Emails are
// approved on creation since the author is the reviewer.
func (s *Service) CreateManual(ctx context.Context, in CreateInput) (*models.Campaign, bool, error) {
	return s.create(ctx, in, models.OriginManual, models.ApprovalApproved)
}

func (s *Service) create(ctx context.Context, in CreateInput, origin models.ContentOrigin, approval models.ApprovalStatus) (*models.Campaign, bool, error) {
	if err := s.check(in); err != nil {
		return nil, false, err
	}

	emails := make([]models.CampaignEmail, len(in.Emails))
	prev := 0
	for i, e := range in.Emails {
		if e.DaysAfterStart < prev {
			return nil, false, fmt.Errorf("email %d starts before email %d: %w", i, i-1, ErrInvalidInput)
		}
		prev = e.DaysAfterStart
		emails[i] = models.CampaignEmail{
			Subject:        e.Subject,
			HTMLBody:       e.HTMLBody,
			TextBody:       e.TextBody,
			DaysAfterStart: e.DaysAfterStart,
			SendAtHour:     e.SendAtHour,
			ApprovalStatus: approval,
		}
	}

	draft := &models.Campaign{
		TenantID:        in.TenantID,
		Name:            in.Name,
		TargetStageID:   in.TargetStageID,
		ContentOrigin:   origin,
		CadenceDays:     cadence(in.CadenceDays),
		MaxDurationDays: in.MaxDurationDays,
		FromEmail:       in.FromEmail,
		FromName:        in.FromName,
		ReplyTo:         in.ReplyTo,
	}
	return s.storeDraft(ctx, draft, emails)
}

// Generate drafts the email sequence with AI. Every generated email starts
// PENDING review.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*models.Campaign, bool, error) {
	if s.drafter == nil {
		return nil, false, ErrGenerationDisabled
	}
	if err := s.check(in); err != nil {
		return nil, false, err
	}

	emails, err := s.drafter.Generate(ctx, contentgen.Request{
		BusinessName:     s.branding.BusinessName,
		PhotographerName: s.branding.PhotographerName,
		StageName:        in.TargetStageID,
		Tone:             in.Tone,
		EmailCount:       in.EmailCount,
		CadenceDays:      cadence(in.CadenceDays),
		Notes:            in.Notes,
	})
	if err != nil {
		return nil, false, err
	}
	for i := range emails {
		emails[i].ApprovalStatus = models.ApprovalPending
	}

	draft := &models.Campaign{
		TenantID:        in.TenantID,
		Name:            in.Name,
		TargetStageID:   in.TargetStageID,
		ContentOrigin:   models.OriginAIGenerated,
		CadenceDays:     cadence(in.CadenceDays),
		MaxDurationDays: in.MaxDurationDays,
	}
	return s.storeDraft(ctx, draft, emails)
}

func (s *Service) storeDraft(ctx context.Context, draft *models.Campaign, emails []models.CampaignEmail) (*models.Campaign, bool, error) {
	c, created, err := s.campaigns.GetOrCreateDraft(ctx, draft, emails)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.logger.Info("campaign draft created",
			"campaign_id", c.ID,
			"tenant_id", c.TenantID,
			"stage_id", c.TargetStageID,
			"origin", c.ContentOrigin,
			"emails", len(emails),
		)
	} else {
		s.logger.Info("existing draft returned", "campaign_id", c.ID, "stage_id", c.TargetStageID)
	}
	return c, created, nil
}

// Edit changes a current campaign version. Versions nobody has received
// mail from are edited in place; otherwise a new version is created and open
// subscriptions move to it. versioned reports which path was taken.
func (s *Service) Edit(ctx context.Context, campaignID string, edits models.CampaignEdits) (c *models.Campaign, versioned bool, err error) {
	if err := s.check(edits); err != nil {
		return nil, false, err
	}

	current, err := s.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}
	if !current.IsCurrentVersion {
		return nil, false, fmt.Errorf("campaign %s is superseded: %w", campaignID, repository.ErrConflict)
	}

	delivered, err := s.campaigns.HasDeliveries(ctx, campaignID)
	if err != nil {
		return nil, false, err
	}
	if !delivered {
		err := s.campaigns.ApplyEdits(ctx, campaignID, edits)
		if err == nil {
			c, err := s.campaigns.GetCampaign(ctx, campaignID)
			return c, false, err
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, false, err
		}
		// first delivery landed since the check
	}

	next, err := s.campaigns.CreateVersion(ctx, campaignID, edits)
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("campaign versioned",
		"campaign_id", next.ID,
		"parent_campaign_id", campaignID,
		"version", next.Version,
	)
	return next, true, nil
}

// EditEmail edits one email through Edit, so an email that a version with
// deliveries owns is changed in a new version.
func (s *Service) EditEmail(ctx context.Context, emailID string, edit models.EmailEdit) (*models.Campaign, bool, error) {
	e, err := s.campaigns.GetEmail(ctx, emailID)
	if err != nil {
		return nil, false, err
	}
	return s.Edit(ctx, e.CampaignID, models.CampaignEdits{
		Emails: map[int]models.EmailEdit{e.SequenceIndex: edit},
	})
}

// ApproveEmail marks one email as cleared for delivery
func (s *Service) ApproveEmail(ctx context.Context, emailID string) error {
	return s.campaigns.SetEmailApproval(ctx, emailID, models.ApprovalApproved)
}

// RejectEmail keeps one email from being delivered. Subscriptions skip it.
func (s *Service) RejectEmail(ctx context.Context, emailID string) error {
	return s.campaigns.SetEmailApproval(ctx, emailID, models.ApprovalRejected)
}

// Approve moves a draft to APPROVED. At least one email must be approved.
func (s *Service) Approve(ctx context.Context, campaignID string) (*models.Campaign, error) {
	n, err := s.campaigns.CountApproved(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, ErrNoApprovedEmails)
	}
	return s.transition(ctx, campaignID, models.CampaignDraft, models.CampaignApproved)
}

// Activate starts enrolling subjects into an approved campaign
func (s *Service) Activate(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return s.transition(ctx, campaignID, models.CampaignApproved, models.CampaignActive)
}

// Pause stops sends for every subscription of the campaign
func (s *Service) Pause(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return s.transition(ctx, campaignID, models.CampaignActive, models.CampaignPaused)
}

// Resume restarts sends of a paused campaign. Overdue emails go out on the
// next scheduler pass.
func (s *Service) Resume(ctx context.Context, campaignID string) (*models.Campaign, error) {
	return s.transition(ctx, campaignID, models.CampaignPaused, models.CampaignActive)
}

func (s *Service) transition(ctx context.Context, id string, from, to models.CampaignStatus) (*models.Campaign, error) {
	c, err := s.campaigns.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsCurrentVersion {
		return nil, fmt.Errorf("campaign %s is superseded: %w", id, repository.ErrInvalidTransition)
	}
	if err := s.campaigns.Transition(ctx, id, from, to); err != nil {
		return nil, err
	}

	s.logger.Info("campaign status changed", "campaign_id", id, "from", from, "to", to)
	return s.campaigns.GetCampaign(ctx, id)
}

// Get returns a campaign version and its emails
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	c, err := s.campaigns.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	emails, err := s.campaigns.GetEmails(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Campaign: *c, Emails: emails}, nil
}

// List returns campaigns matching filter
func (s *Service) List(ctx context.Context, filter models.CampaignListFilter) ([]models.Campaign, error) {
	return s.campaigns.List(ctx, filter)
}

// Stats returns delivery counts across the campaign's lineage
func (s *Service) Stats(ctx context.Context, id string) (*models.DeliveryStats, error) {
	if _, err := s.campaigns.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.deliveries.Stats(ctx, id)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func cadence(days int) int {
	if days <= 0 {
		return defaultCadenceDays
	}
	return days
}
