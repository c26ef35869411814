package statemachine

import (
	"errors"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// ErrNoStateMachine is returned when a transition is checked without a machine.
// It signals a fault in the caller, not a rejected transition.
var ErrNoStateMachine = errors.New("no state machine available")

// IsAllowed reports whether a ticket in current may move to next.
//
// A ticket without a state may always move to created. Otherwise current must
// exist in machine and list next among its transitions.
func IsAllowed(machine *domain.StateMachine, current, next string) (bool, error) {
	if current == "" && next == domain.StateCreated {
		return true, nil
	}
	if machine == nil {
		return false, ErrNoStateMachine
	}
	state, ok := machine.Find(current)
	if !ok {
		return false, nil
	}
	return state.CanMoveTo(next), nil
}
