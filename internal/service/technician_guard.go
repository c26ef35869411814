package service

import (
	"context"
	"fmt"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// ServingFinder looks up other tickets held in a state by any of the given
// technicians.
type ServingFinder interface {
	FindServing(ctx context.Context, excludeID string, technicianIDs []string, stateID string) ([]domain.Ticket, error)
}

// TechnicianGuard stops a technician from being in active service on two
// tickets. The check reads then decides and holds no lock, so two tickets
// racing through it at the same instant can both pass.
type TechnicianGuard struct {
	tickets     ServingFinder
	activeState string
}

// NewTechnicianGuard guards transitions into activeState.
func NewTechnicianGuard(tickets ServingFinder, activeState string) *TechnicianGuard {
	if activeState == "" {
		activeState = domain.StateInService
	}
	return &TechnicianGuard{tickets: tickets, activeState: activeState}
}

// Applies reports whether moving into state requires the check.
func (g *TechnicianGuard) Applies(state string) bool {
	return g != nil && state == g.activeState
}

// Check fails with BadRequest when ticket has no enabled technician and with
// Forbidden when one of them is already serving another ticket.
func (g *TechnicianGuard) Check(ctx context.Context, ticket *domain.Ticket) error {
	ids := ticket.Technicians.ActiveIDs()
	if len(ids) == 0 {
		return apperrors.NewBadRequest("No hay técnicos asignados al ticket.", map[string]any{"ticketId": ticket.ID})
	}
	busy, err := g.tickets.FindServing(ctx, ticket.ID, ids, g.activeState)
	if err != nil {
		return apperrors.NewInternalError(fmt.Errorf("find serving tickets: %w", err))
	}
	if len(busy) > 0 {
		return apperrors.NewForbidden("El técnico asignado ya está atendiendo otro ticket.")
	}
	return nil
}
