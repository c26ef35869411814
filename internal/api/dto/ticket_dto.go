package dto

import (
	"time"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	CommerceID    string     `json:"commerceId"`
	TicketNumber  string     `json:"ticketNumber"`
	Description   string     `json:"description"`
	PlannedDate   *time.Time `json:"plannedDate"`
	Priority      string     `json:"priority"`
	AttentionType string     `json:"attentionType"`
	BranchID      string     `json:"branchId"`
}

// StateChangeRequest is the optional body of PUT /tickets/:id/states/:state.
type StateChangeRequest struct {
	CoordinatedDate      *time.Time     `json:"coordinatedDate"`
	CoordinatedContactID string         `json:"coordinatedContactId"`
	Customs              map[string]any `json:"customs"`
}

// TechnicianRequest names the technician to assign or unassign.
type TechnicianRequest struct {
	TechnicianID string `json:"technicianId"`
}

// DispatcherRequest names the dispatcher taking over a ticket.
type DispatcherRequest struct {
	DispatcherID string `json:"dispatcherId"`
}

// TicketResponse is the public view of a ticket.
type TicketResponse struct {
	ID                   string             `json:"id"`
	CommerceID           string             `json:"commerceId"`
	TicketNumber         string             `json:"ticketNumber"`
	Description          string             `json:"description"`
	PlannedDate          *time.Time         `json:"plannedDate,omitempty"`
	Priority             string             `json:"priority,omitempty"`
	AttentionType        string             `json:"attentionType,omitempty"`
	BranchID             string             `json:"branchId,omitempty"`
	CurrentState         domain.StateRef    `json:"currentState"`
	Dispatchers          domain.Assignments `json:"dispatchers"`
	Technicians          domain.Assignments `json:"technicians"`
	CoordinatedDate      *time.Time         `json:"coordinatedDate,omitempty"`
	CoordinatedContactID *string            `json:"coordinatedContactId,omitempty"`
	Revision             int64              `json:"revision"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// OperationResponse wraps the outcome of a workflow operation. Changed is
// false for informational outcomes where nothing was written.
type OperationResponse struct {
	Message string          `json:"message"`
	Changed bool            `json:"changed"`
	Ticket  *TicketResponse `json:"ticket,omitempty"`
}

// HistoryEntryResponse is one audit record.
type HistoryEntryResponse struct {
	ID           string         `json:"id"`
	StateID      string         `json:"stateId"`
	StateLabel   string         `json:"stateLabel"`
	Description  string         `json:"description"`
	DispatcherID *string        `json:"dispatcherId,omitempty"`
	TechnicianID *string        `json:"technicianId,omitempty"`
	Customs      map[string]any `json:"customs,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) *TicketResponse {
	if t == nil {
		return nil
	}
	dispatchers := t.Dispatchers
	if dispatchers == nil {
		dispatchers = domain.Assignments{}
	}
	technicians := t.Technicians
	if technicians == nil {
		technicians = domain.Assignments{}
	}
	return &TicketResponse{
		ID:                   t.ID,
		CommerceID:           t.CommerceID,
		TicketNumber:         t.TicketNumber,
		Description:          t.Description,
		PlannedDate:          t.PlannedDate,
		Priority:             t.Priority,
		AttentionType:        t.AttentionType,
		BranchID:             t.BranchID,
		CurrentState:         t.CurrentState,
		Dispatchers:          dispatchers,
		Technicians:          technicians,
		CoordinatedDate:      t.CoordinatedDate,
		CoordinatedContactID: t.CoordinatedContactID,
		Revision:             t.Revision,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
	}
}

// NewHistoryResponse maps audit entries, newest first as stored.
func NewHistoryResponse(entries []domain.StateHistoryEntry) []HistoryEntryResponse {
	out := make([]HistoryEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryResponse{
			ID:           e.ID,
			StateID:      e.StateID,
			StateLabel:   e.StateLabel,
			Description:  e.Description,
			DispatcherID: e.DispatcherID,
			TechnicianID: e.TechnicianID,
			Customs:      e.Customs,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}
