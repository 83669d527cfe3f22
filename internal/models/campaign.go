package models

import "time"

// CampaignStatus is the lifecycle state of a drip campaign
type CampaignStatus string

const (
	CampaignDraft    CampaignStatus = "DRAFT"
	CampaignApproved CampaignStatus = "APPROVED"
	CampaignActive   CampaignStatus = "ACTIVE"
	CampaignPaused   CampaignStatus = "PAUSED"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:    {CampaignApproved},
	CampaignApproved: {CampaignActive},
	CampaignActive:   {CampaignPaused},
	CampaignPaused:   {CampaignActive},
}

// CanTransition reports whether a campaign may move from one status to another
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, next := range campaignTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// ContentOrigin records where a campaign's email content came from
type ContentOrigin string

const (
	OriginStatic      ContentOrigin = "STATIC"
	OriginAIGenerated ContentOrigin = "AI_GENERATED"
	OriginManual      ContentOrigin = "MANUAL"
)

// ApprovalStatus is the per-email review state
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// Campaign is one version of a drip campaign. Versions of the same campaign
// share a LineageID; exactly one of them is current.
type Campaign struct {
	ID               string         `json:"id"`
	TenantID         string         `json:"tenant_id"`
	Name             string         `json:"name"`
	TargetStageID    string         `json:"target_stage_id"`
	Status           CampaignStatus `json:"status"`
	ContentOrigin    ContentOrigin  `json:"content_origin"`
	CadenceDays      int            `json:"cadence_days"`
	MaxDurationDays  int            `json:"max_duration_days"` // 0 = unbounded
	Version          int            `json:"version"`
	ParentCampaignID *string        `json:"parent_campaign_id,omitempty"`
	LineageID        string         `json:"lineage_id"`
	IsCurrentVersion bool           `json:"is_current_version"`
	FromEmail        string         `json:"from_email"`
	FromName         string         `json:"from_name"`
	ReplyTo          string         `json:"reply_to"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CadenceWeeks is the display value of the cadence. Days are authoritative.
func (c *Campaign) CadenceWeeks() int {
	return (c.CadenceDays + 6) / 7
}

// MaxDurationElapsed reports whether a subscription started at startedAt has
// outlived the campaign's maximum duration.
func (c *Campaign) MaxDurationElapsed(startedAt, now time.Time) bool {
	if c.MaxDurationDays <= 0 {
		return false
	}
	return !now.Before(startedAt.AddDate(0, 0, c.MaxDurationDays))
}

// CampaignEmail is one step of a campaign's sequence
type CampaignEmail struct {
	ID               string         `json:"id"`
	CampaignID       string         `json:"campaign_id"`
	SequenceIndex    int            `json:"sequence_index"`
	Subject          string         `json:"subject"`
	HTMLBody         string         `json:"html_body"`
	TextBody         string         `json:"text_body"`
	DaysAfterStart   int            `json:"days_after_start"`
	SendAtHour       *int           `json:"send_at_hour,omitempty"` // 0-23, tenant local time
	ApprovalStatus   ApprovalStatus `json:"approval_status"`
	OriginalSubject  *string        `json:"original_subject,omitempty"`
	OriginalHTMLBody *string        `json:"original_html_body,omitempty"`
	OriginalTextBody *string        `json:"original_text_body,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Approved reports whether the email may be delivered
func (e *CampaignEmail) Approved() bool {
	return e.ApprovalStatus == ApprovalApproved
}

// DueAt returns when this email is due for a subscription started at startedAt.
// A SendAtHour pins the time of day in loc on the offset date.
func (e *CampaignEmail) DueAt(startedAt time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	due := startedAt.In(loc).AddDate(0, 0, e.DaysAfterStart)
	if e.SendAtHour != nil {
		due = time.Date(due.Year(), due.Month(), due.Day(), *e.SendAtHour, 0, 0, 0, loc)
	}
	return due.UTC()
}

// EmailEdit changes the content or timing of one email, addressed by its
// sequence index. Nil fields are left unchanged.
type EmailEdit struct {
	Subject        *string `json:"subject,omitempty"`
	HTMLBody       *string `json:"html_body,omitempty"`
	TextBody       *string `json:"text_body,omitempty"`
	DaysAfterStart *int    `json:"days_after_start,omitempty" validate:"omitempty,min=0"`
	SendAtHour     *int    `json:"send_at_hour,omitempty" validate:"omitempty,min=0,max=23"`
}

// ChangesContent reports whether the edit touches delivered content
func (e EmailEdit) ChangesContent() bool {
	return e.Subject != nil || e.HTMLBody != nil || e.TextBody != nil
}

// CampaignEdits is the input of a campaign edit
type CampaignEdits struct {
	Name            *string           `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	CadenceDays     *int              `json:"cadence_days,omitempty" validate:"omitempty,min=1"`
	MaxDurationDays *int              `json:"max_duration_days,omitempty" validate:"omitempty,min=0"`
	Emails          map[int]EmailEdit `json:"emails,omitempty" validate:"dive"`
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	TenantID    string
	Status      CampaignStatus
	CurrentOnly bool
	Limit       int
	Offset      int
}

// DeliveryStats holds aggregated delivery counts for a campaign
type DeliveryStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Bounced   int `json:"bounced"`
	Failed    int `json:"failed"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
}
