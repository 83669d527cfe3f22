package models

import "time"

// Subject is the contact/project a campaign or automation targets
type Subject struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Email          string     `json:"email"`
	Phone          string     `json:"phone,omitempty"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	StageID        string     `json:"stage_id"`
	StageEnteredAt time.Time  `json:"stage_entered_at"`
	EventDate      *time.Time `json:"event_date,omitempty"`
	EmailOptOut    bool       `json:"email_opt_out"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FullName joins first and last name
func (s *Subject) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

// EventDateReached reports whether the subject's event date has arrived
func (s *Subject) EventDateReached(now time.Time) bool {
	return s.EventDate != nil && !now.Before(*s.EventDate)
}
