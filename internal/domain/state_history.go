package domain

import "time"

// StateHistoryEntry is an immutable audit record of one state transition.
type StateHistoryEntry struct {
	ID           string
	TicketID     string
	CommerceID   string
	StateID      string
	StateLabel   string
	Description  string
	DispatcherID *string
	TechnicianID *string
	Customs      map[string]any
	CreatedAt    time.Time
}
