package domain

import "fmt"

// Well-known state ids referenced by the workflow.
const (
	StateCreated              = "created"
	StateDispatcherAssigned   = "dispatcher_assigned"
	StateTechnicianAssigned   = "technician_assigned"
	StateTechnicianUnassigned = "technician_unassigned"
	StateCoordinate           = "coordinate"
	StateReschedule           = "reschedule"
	StateInService            = "in_service"
	StateClosed               = "closed"
)

// StateRef identifies a state on a ticket or history entry.
type StateRef struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// IsZero reports whether no state has been set yet.
func (s StateRef) IsZero() bool {
	return s.ID == ""
}

// State is one node of a commerce state machine.
type State struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Transitions []string `json:"transitions"`
}

// Ref returns the reference stored on tickets.
func (s State) Ref() StateRef {
	return StateRef{ID: s.ID, Label: s.Label}
}

// CanMoveTo reports whether next is listed in the state's transitions.
func (s State) CanMoveTo(next string) bool {
	for _, candidate := range s.Transitions {
		if candidate == next {
			return true
		}
	}
	return false
}

// StateMachine is the ticket lifecycle definition of one commerce.
type StateMachine struct {
	CommerceID string  `json:"commerceId"`
	States     []State `json:"states"`
}

// Find looks a state up by id.
func (m *StateMachine) Find(id string) (State, bool) {
	if m == nil {
		return State{}, false
	}
	for _, state := range m.States {
		if state.ID == id {
			return state, true
		}
	}
	return State{}, false
}

// RefFor maps a state id to its reference, falling back to the id as label.
func (m *StateMachine) RefFor(id string) StateRef {
	if state, ok := m.Find(id); ok {
		return state.Ref()
	}
	return StateRef{ID: id, Label: id}
}

// Validate rejects structurally broken machines: empty or duplicate state ids.
// Transitions naming an undefined state are allowed; see DanglingTransitions.
func (m *StateMachine) Validate() error {
	if m == nil {
		return fmt.Errorf("state machine is nil")
	}
	ids := make(map[string]struct{}, len(m.States))
	for _, state := range m.States {
		if state.ID == "" {
			return fmt.Errorf("state machine %s: state with empty id", m.CommerceID)
		}
		if _, dup := ids[state.ID]; dup {
			return fmt.Errorf("state machine %s: duplicate state %q", m.CommerceID, state.ID)
		}
		ids[state.ID] = struct{}{}
	}
	return nil
}

// DanglingTransitions lists "from->to" pairs whose target is not defined.
func (m *StateMachine) DanglingTransitions() []string {
	if m == nil {
		return nil
	}
	ids := make(map[string]struct{}, len(m.States))
	for _, state := range m.States {
		ids[state.ID] = struct{}{}
	}
	var dangling []string
	for _, state := range m.States {
		for _, next := range state.Transitions {
			if _, ok := ids[next]; !ok {
				dangling = append(dangling, state.ID+"->"+next)
			}
		}
	}
	return dangling
}
