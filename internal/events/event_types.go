package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketStateChanged EventType = "ticket_state_changed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TicketID   string    `json:"ticketId"`
	CommerceID string    `json:"commerceId"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload"`
}

// TicketStateChangedPayload is published after a history entry is written. Its
// JSON form is the body sent to the observer.
type TicketStateChangedPayload struct {
	TicketID string `json:"ticketId"`
	NewState string `json:"newState"`
	ClientID string `json:"clientId"`
}
