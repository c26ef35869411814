package service

import (
	"fmt"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

type narrativeInput struct {
	from           domain.StateRef
	to             domain.StateRef
	dispatcherName string
	technicianName string
	hasTechnician  bool
	previousName   string
	hasPrevious    bool
}

// describeTransition renders the audit sentence shown to operators.
func describeTransition(in narrativeInput) string {
	switch in.to.ID {
	case domain.StateTechnicianAssigned:
		handOff := ""
		if in.hasPrevious {
			handOff = fmt.Sprintf(" atendido por el técnico %s", in.previousName)
		}
		return fmt.Sprintf("Cambio de estado %s%s al estado %s al técnico %s por el dispatcher %s.",
			in.from.Label, handOff, in.to.Label, in.technicianName, in.dispatcherName)
	case domain.StateCreated:
		return fmt.Sprintf("El ticket fue creado por el dispatcher %s.", in.dispatcherName)
	case domain.StateClosed, domain.StateDispatcherAssigned:
		return fmt.Sprintf("Cambio de estado %s al estado %s.", in.from.Label, in.to.Label)
	}
	technician := ""
	if in.hasTechnician {
		technician = fmt.Sprintf(" por el técnico %s", in.technicianName)
	}
	return fmt.Sprintf("Cambio de estado %s al estado %s%s.", in.from.Label, in.to.Label, technician)
}
