package models

import "time"

// SubscriptionStatus is the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "ACTIVE"
	SubscriptionPaused       SubscriptionStatus = "PAUSED"
	SubscriptionCompleted    SubscriptionStatus = "COMPLETED"
	SubscriptionUnsubscribed SubscriptionStatus = "UNSUBSCRIBED"
)

// Terminal reports whether no further transition is possible
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionCompleted || s == SubscriptionUnsubscribed
}

// EndReason explains why a subscription stopped
type EndReason string

const (
	EndSequenceFinished EndReason = "sequence_finished"
	EndEventDateReached EndReason = "event_date_reached"
	EndMaxDuration      EndReason = "max_duration"
	EndUnsubscribed     EndReason = "unsubscribed"
	EndSubjectMissing   EndReason = "subject_missing"
)

// Subscription binds one subject to one campaign lineage and carries its cursor
type Subscription struct {
	ID             string             `json:"id"`
	CampaignID     string             `json:"campaign_id"`
	LineageID      string             `json:"lineage_id"`
	SubjectID      string             `json:"subject_id"`
	TenantID       string             `json:"tenant_id"`
	StartedAt      time.Time          `json:"started_at"`
	NextEmailIndex int                `json:"next_email_index"`
	NextEmailAt    *time.Time         `json:"next_email_at,omitempty"`
	Status         SubscriptionStatus `json:"status"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
	EndReason      string             `json:"end_reason,omitempty"`
	Revision       int                `json:"revision"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// NextDue finds the first approved email at or after index and returns its
// due time. ok is false when no approved email remains.
func NextDue(emails []CampaignEmail, index int, startedAt time.Time, loc *time.Location) (due time.Time, ok bool) {
	for i := index; i < len(emails); i++ {
		if emails[i].Approved() {
			return emails[i].DueAt(startedAt, loc), true
		}
	}
	return time.Time{}, false
}
