package service

import (
	"strings"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// AssignmentPolicy holds the role and provider rules for assignments.
type AssignmentPolicy struct {
	homeProvider string
}

// NewAssignmentPolicy creates a policy for the operating organisation homeProvider.
func NewAssignmentPolicy(homeProvider string) AssignmentPolicy {
	return AssignmentPolicy{homeProvider: strings.TrimSpace(homeProvider)}
}

// HomeProvider returns the configured operating organisation.
func (p AssignmentPolicy) HomeProvider() string {
	return p.homeProvider
}

// CanAssignTechnician allows admins and dispatchers of the technician's provider.
func (p AssignmentPolicy) CanAssignTechnician(dispatcher, technician domain.Employee) error {
	if dispatcher.IsAdmin() || sameProvider(dispatcher.Provider, technician.Provider) {
		return nil
	}
	return apperrors.NewForbidden("Los despachadores solo pueden asignar técnicos de su propio proveedor")
}

// CanUnassignTechnician applies the assign rule to the currently assigned entry.
func (p AssignmentPolicy) CanUnassignTechnician(dispatcher domain.Employee, assigned domain.Assignment) error {
	if dispatcher.IsAdmin() || sameProvider(dispatcher.Provider, assigned.Provider) {
		return nil
	}
	return apperrors.NewForbidden("No está autorizado para desasignar técnicos de otro proveedor")
}

// CanAssignDispatcher checks a hand-off from current to next.
//
// A home provider dispatcher needs the ADMIN or DISPATCHER role. An external
// dispatcher may only hand off within its own provider or to the home provider.
func (p AssignmentPolicy) CanAssignDispatcher(current, next domain.Employee) error {
	if p.isHome(current.Provider) {
		if current.Role == domain.EmployeeRoleAdmin || current.Role == domain.EmployeeRoleDispatcher {
			return nil
		}
		return apperrors.NewForbidden("El despachador actual no tiene permisos para reasignar el ticket")
	}
	if sameProvider(next.Provider, current.Provider) || p.isHome(next.Provider) {
		return nil
	}
	return apperrors.NewForbidden("Los despachadores de otros proveedores solo pueden asignar despachadores de su proveedor o de " + p.homeProvider)
}

// CanUnassignDispatcher allows admins only.
func (p AssignmentPolicy) CanUnassignDispatcher(actor domain.Employee) error {
	if actor.IsAdmin() {
		return nil
	}
	return apperrors.NewForbidden("Solo los administradores pueden desasignar despachadores")
}

func (p AssignmentPolicy) isHome(provider string) bool {
	return p.homeProvider != "" && sameProvider(provider, p.homeProvider)
}

// sameProvider compares provider codes byte for byte.
func sameProvider(a, b string) bool {
	return a == b
}
