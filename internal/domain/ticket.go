package domain

import "time"

// Ticket is the aggregate for a field-service request.
type Ticket struct {
	ID                   string
	CommerceID           string
	TicketNumber         string
	Description          string
	PlannedDate          *time.Time
	Priority             string
	AttentionType        string
	BranchID             string
	CurrentState         StateRef
	Dispatchers          Assignments
	Technicians          Assignments
	CoordinatedDate      *time.Time
	CoordinatedContactID *string
	Revision             int64
	// StateChangedAt is set only by writes that also journal a history entry.
	StateChangedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CurrentStateLabel returns the label when known, else the id.
func (t *Ticket) CurrentStateLabel() string {
	if t.CurrentState.Label != "" {
		return t.CurrentState.Label
	}
	return t.CurrentState.ID
}
