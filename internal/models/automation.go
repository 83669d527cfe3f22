package models

import "time"

// AutomationKind selects which discriminator an automation fires on
type AutomationKind string

const (
	AutomationCommunication AutomationKind = "COMMUNICATION"
	AutomationStageChange   AutomationKind = "STAGE_CHANGE"
	AutomationCountdown     AutomationKind = "COUNTDOWN"
)

// Channel is the medium of a communication
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Common business triggers raised by the pipeline
const (
	TriggerDepositPaid      = "DEPOSIT_PAID"
	TriggerContractSigned   = "CONTRACT_SIGNED"
	TriggerInvoicePaid      = "INVOICE_PAID"
	TriggerGalleryDelivered = "GALLERY_DELIVERED"
)

// Automation reacts to pipeline events for subjects of one tenant.
//
//   - COMMUNICATION: sends its steps after the subject enters TriggerStageID
//   - STAGE_CHANGE: moves the subject to TargetStageID when TriggerType fires
//   - COUNTDOWN: sends Subject/Body DaysBefore days ahead of the event date
type Automation struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	Name           string           `json:"name"`
	Kind           AutomationKind   `json:"kind"`
	TriggerStageID string           `json:"trigger_stage_id,omitempty"`
	TriggerType    string           `json:"trigger_type,omitempty"`
	TargetStageID  string           `json:"target_stage_id,omitempty"`
	DaysBefore     int              `json:"days_before,omitempty"`
	Channel        Channel          `json:"channel,omitempty"`
	Subject        string           `json:"subject,omitempty"`
	Body           string           `json:"body,omitempty"`
	Enabled        bool             `json:"enabled"`
	Steps          []AutomationStep `json:"steps,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// AutomationStep is one message of a communication automation
type AutomationStep struct {
	ID           string    `json:"id"`
	AutomationID string    `json:"automation_id"`
	StepIndex    int       `json:"step_index"`
	DelayMinutes int       `json:"delay_minutes"`
	Channel      Channel   `json:"channel"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"created_at"`
}

// AutomationExecution is the idempotency record of one automation firing
type AutomationExecution struct {
	ID           string         `json:"id"`
	SubjectID    string         `json:"subject_id"`
	AutomationID string         `json:"automation_id"`
	Kind         AutomationKind `json:"kind"`
	StepID       string         `json:"step_id,omitempty"`
	TriggerType  string         `json:"trigger_type,omitempty"`
	EventDate    string         `json:"event_date,omitempty"` // YYYY-MM-DD
	DaysBefore   int            `json:"days_before,omitempty"`
	ExecutedAt   time.Time      `json:"executed_at"`
}
