package models

import "time"

// DeliveryStatus is the transport state of one delivery
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "PENDING"
	DeliverySent      DeliveryStatus = "SENT"
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryBounced   DeliveryStatus = "BOUNCED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// Settled reports whether the message left our hands, successfully or not
func (s DeliveryStatus) Settled() bool {
	return s != DeliveryPending
}

// Valid reports whether s is a known status
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryBounced, DeliveryFailed:
		return true
	}
	return false
}

// statusPredecessors lists the states each status may be entered from.
// A delivered message can still bounce asynchronously.
var statusPredecessors = map[DeliveryStatus][]DeliveryStatus{
	DeliverySent:      {DeliveryPending},
	DeliveryDelivered: {DeliveryPending, DeliverySent},
	DeliveryBounced:   {DeliveryPending, DeliverySent, DeliveryDelivered},
	DeliveryFailed:    {DeliveryPending, DeliverySent},
}

// Predecessors returns the statuses from which next may be entered
func (next DeliveryStatus) Predecessors() []DeliveryStatus {
	return statusPredecessors[next]
}

// EngagementKind is a tracking event that sets a timestamp without a status change
type EngagementKind string

const (
	EngagementOpen  EngagementKind = "open"
	EngagementClick EngagementKind = "click"
)

// Delivery is the single delivery attempt record of one step of a subscription
type Delivery struct {
	ID              string         `json:"id"`
	SubscriptionID  string         `json:"subscription_id"`
	CampaignEmailID string         `json:"campaign_email_id"`
	SequenceIndex   int            `json:"sequence_index"`
	Status          DeliveryStatus `json:"status"`
	ProviderID      string         `json:"provider_id,omitempty"`
	Attempts        int            `json:"attempts"`
	LastError       string         `json:"last_error,omitempty"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	RetryAfter      *time.Time     `json:"retry_after,omitempty"`
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt     *time.Time     `json:"delivered_at,omitempty"`
	OpenedAt        *time.Time     `json:"opened_at,omitempty"`
	ClickedAt       *time.Time     `json:"clicked_at,omitempty"`
	BouncedAt       *time.Time     `json:"bounced_at,omitempty"`
	FailedAt        *time.Time     `json:"failed_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}
