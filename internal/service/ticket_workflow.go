package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/observability"
	"github.com/spec-kit/field-ticket-service/internal/repository"
	"github.com/spec-kit/field-ticket-service/internal/statemachine"
	apperrors "github.com/spec-kit/field-ticket-service/pkg/util/errorutil"
)

// Operation names used in logs and rejection metrics.
const (
	OpCreateTicket       = "create_ticket"
	OpUpdateState        = "update_state"
	OpAssignTechnician   = "assign_technician"
	OpUnassignTechnician = "unassign_technician"
	OpAssignDispatcher   = "assign_dispatcher"
	OpUnassignDispatcher = "unassign_dispatcher"
)

// MachineSource resolves the state machine of a commerce.
type MachineSource interface {
	Get(ctx context.Context, commerceID string) (*domain.StateMachine, error)
}

// Result is returned by every workflow operation. Changed is false for the
// informational no-op outcomes, in which case nothing was written.
type Result struct {
	Message string
	Ticket  *domain.Ticket
	Changed bool
}

// StateExtra carries the optional payload of a state change.
type StateExtra struct {
	CoordinatedDate      *time.Time
	CoordinatedContactID string
	Customs              map[string]any
}

// CreateTicketInput describes a new ticket.
type CreateTicketInput struct {
	CommerceID    string
	TicketNumber  string
	Description   string
	PlannedDate   *time.Time
	Priority      string
	AttentionType string
	BranchID      string
	// DispatcherID optionally names the dispatcher opening the ticket.
	DispatcherID string
}

// TicketWorkflow orchestrates state changes and assignments of tickets.
type TicketWorkflow struct {
	tickets   repository.TicketRepository
	employees repository.EmployeeRepository
	contacts  repository.ContactRepository
	history   repository.StateHistoryRepository
	machines  MachineSource
	recorder  *HistoryService
	policy    AssignmentPolicy
	guard     *TechnicianGuard
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// WorkflowDependencies bundles collaborators for the workflow.
type WorkflowDependencies struct {
	Tickets   repository.TicketRepository
	Employees repository.EmployeeRepository
	Contacts  repository.ContactRepository
	History   repository.StateHistoryRepository
	Machines  MachineSource
	Recorder  *HistoryService
	Policy    AssignmentPolicy
	Guard     *TechnicianGuard
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// NewTicketWorkflow constructs the workflow.
func NewTicketWorkflow(deps WorkflowDependencies) *TicketWorkflow {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := deps.Guard
	if guard == nil {
		guard = NewTechnicianGuard(deps.Tickets, domain.StateInService)
	}
	return &TicketWorkflow{
		tickets:   deps.Tickets,
		employees: deps.Employees,
		contacts:  deps.Contacts,
		history:   deps.History,
		machines:  deps.Machines,
		recorder:  deps.Recorder,
		policy:    deps.Policy,
		guard:     guard,
		logger:    logger,
		metrics:   deps.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateTicket stores a ticket without state and moves it to created.
func (w *TicketWorkflow) CreateTicket(ctx context.Context, input CreateTicketInput) (*Result, error) {
	res, err := w.createTicket(ctx, input)
	return w.finish(OpCreateTicket, res, err)
}

func (w *TicketWorkflow) createTicket(ctx context.Context, input CreateTicketInput) (*Result, error) {
	details := map[string]any{}
	if strings.TrimSpace(input.CommerceID) == "" {
		details["commerceId"] = "required"
	}
	if strings.TrimSpace(input.TicketNumber) == "" {
		details["ticketNumber"] = "required"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}
	if _, err := w.machines.Get(ctx, input.CommerceID); err != nil {
		return nil, err
	}

	now := w.now()
	ticket := &domain.Ticket{
		ID:            uuid.NewString(),
		CommerceID:    input.CommerceID,
		TicketNumber:  strings.TrimSpace(input.TicketNumber),
		Description:   strings.TrimSpace(input.Description),
		PlannedDate:   input.PlannedDate,
		Priority:      input.Priority,
		AttentionType: input.AttentionType,
		BranchID:      input.BranchID,
		Dispatchers:   domain.Assignments{},
		Technicians:   domain.Assignments{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.DispatcherID != "" {
		dispatcher, err := w.employee(ctx, input.DispatcherID, "dispatcher")
		if err != nil {
			return nil, err
		}
		ticket.Dispatchers = domain.Assignments{domain.NewAssignment(*dispatcher, dispatcher.ID, now)}
	}
	if err := w.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("create ticket: %w", err))
	}

	res, err := w.retry(func() (*Result, error) {
		return w.updateState(ctx, ticket.ID, domain.StateCreated, StateExtra{})
	})
	if err != nil {
		return nil, err
	}
	res.Message = fmt.Sprintf("Ticket %s creado con éxito", ticket.TicketNumber)
	return res, nil
}

// UpdateState moves a ticket to newStateID.
func (w *TicketWorkflow) UpdateState(ctx context.Context, ticketID, newStateID string, extra StateExtra) (*Result, error) {
	res, err := w.retry(func() (*Result, error) {
		return w.updateState(ctx, ticketID, newStateID, extra)
	})
	return w.finish(OpUpdateState, res, err)
}

func (w *TicketWorkflow) updateState(ctx context.Context, ticketID, newStateID string, extra StateExtra) (*Result, error) {
	ticket, err := w.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	machine, err := w.machines.Get(ctx, ticket.CommerceID)
	if err != nil {
		return nil, err
	}

	target, exists := machine.Find(newStateID)
	allowed, err := statemachine.IsAllowed(machine, ticket.CurrentState.ID, newStateID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if !exists || !allowed {
		to := newStateID
		if exists {
			to = target.Label
		}
		return nil, apperrors.NewBadRequest(
			fmt.Sprintf("Transición inválida de '%s' a '%s'.", ticket.CurrentStateLabel(), to),
			map[string]any{"from": ticket.CurrentState.ID, "to": newStateID},
		)
	}

	if w.guard.Applies(newStateID) {
		if err := w.guard.Check(ctx, ticket); err != nil {
			return nil, err
		}
	}

	now := w.now()
	updated := *ticket
	updated.CurrentState = target.Ref()
	updated.UpdatedAt = now
	updated.StateChangedAt = &now

	if newStateID == domain.StateCoordinate {
		if err := w.applyCoordination(ctx, &updated, extra); err != nil {
			return nil, err
		}
	}

	entries, err := w.recorder.Prepare(ctx, RecordInput{
		CommerceID:  ticket.CommerceID,
		TicketID:    ticket.ID,
		From:        ticket.CurrentState,
		To:          updated.CurrentState,
		Dispatchers: updated.Dispatchers,
		Technicians: updated.Technicians,
		Customs:     extra.Customs,
		At:          now,
	})
	if err != nil {
		return nil, err
	}
	if err := w.persist(ctx, &updated, entries); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("Estado actualizado a %s con éxito para el ticket %s", target.Label, ticket.TicketNumber),
		Ticket:  &updated,
		Changed: true,
	}, nil
}

func (w *TicketWorkflow) applyCoordination(ctx context.Context, ticket *domain.Ticket, extra StateExtra) error {
	if extra.CoordinatedDate == nil || extra.CoordinatedDate.IsZero() {
		return apperrors.NewBadRequest("La fecha de coordinación es obligatoria.", map[string]any{"field": "coordinatedDate"})
	}
	contactID := strings.TrimSpace(extra.CoordinatedContactID)
	if contactID == "" {
		return apperrors.NewBadRequest("El contacto de coordinación es obligatorio.", map[string]any{"field": "coordinatedContactId"})
	}
	if _, err := w.contacts.GetByID(ctx, contactID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("contact", map[string]any{"contactId": contactID})
		}
		return apperrors.NewInternalError(fmt.Errorf("load contact: %w", err))
	}
	date := extra.CoordinatedDate.UTC()
	ticket.CoordinatedDate = &date
	ticket.CoordinatedContactID = &contactID
	return nil
}

// AssignTechnician puts technicianID on the ticket, replacing the active one.
func (w *TicketWorkflow) AssignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*Result, error) {
	res, err := w.retry(func() (*Result, error) {
		return w.assignTechnician(ctx, ticketID, technicianID, dispatcherID)
	})
	return w.finish(OpAssignTechnician, res, err)
}

func (w *TicketWorkflow) assignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*Result, error) {
	ticket, err := w.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	technician, err := w.employee(ctx, technicianID, "technician")
	if err != nil {
		return nil, err
	}
	dispatcher, err := w.employee(ctx, dispatcherID, "dispatcher")
	if err != nil {
		return nil, err
	}

	if ticket.Technicians.IsActive(technicianID) {
		return &Result{
			Message: fmt.Sprintf("El técnico %s ya está asignado al ticket %s.", technician.FullName(), ticket.TicketNumber),
			Ticket:  ticket,
		}, nil
	}
	if err := w.policy.CanAssignTechnician(*dispatcher, *technician); err != nil {
		return nil, err
	}
	target, err := w.assignmentTarget(ctx, ticket, domain.StateTechnicianAssigned)
	if err != nil {
		return nil, err
	}

	now := w.now()
	updated := *ticket
	updated.Technicians = ticket.Technicians.Replace(domain.NewAssignment(*technician, dispatcher.ID, now), dispatcher.ID, now)
	updated.CurrentState = target
	updated.UpdatedAt = now
	updated.StateChangedAt = &now

	entries, err := w.recorder.Prepare(ctx, RecordInput{
		CommerceID:  ticket.CommerceID,
		TicketID:    ticket.ID,
		From:        ticket.CurrentState,
		To:          target,
		Dispatchers: updated.Dispatchers,
		Technicians: updated.Technicians,
		Actor:       &Actor{ID: dispatcher.ID, Name: dispatcher.FullName()},
		At:          now,
	})
	if err != nil {
		return nil, err
	}
	if err := w.persist(ctx, &updated, entries); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("El técnico %s ha sido asignado exitosamente al ticket %s por el despachador %s.",
			technician.FullName(), ticket.TicketNumber, dispatcher.FullName()),
		Ticket:  &updated,
		Changed: true,
	}, nil
}

// UnassignTechnician takes technicianID off the ticket. An empty technicianID
// targets the active technician.
func (w *TicketWorkflow) UnassignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*Result, error) {
	res, err := w.retry(func() (*Result, error) {
		return w.unassignTechnician(ctx, ticketID, technicianID, dispatcherID)
	})
	return w.finish(OpUnassignTechnician, res, err)
}

func (w *TicketWorkflow) unassignTechnician(ctx context.Context, ticketID, technicianID, dispatcherID string) (*Result, error) {
	ticket, err := w.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	dispatcher, err := w.employee(ctx, dispatcherID, "dispatcher")
	if err != nil {
		return nil, err
	}

	var assigned domain.Assignment
	if technicianID == "" {
		active, ok := ticket.Technicians.Active()
		if !ok {
			return &Result{Message: "No hay técnicos asignados actualmente", Ticket: ticket}, nil
		}
		assigned = active
	} else {
		latest, ok := ticket.Technicians.Latest(technicianID)
		if !ok {
			return nil, apperrors.NewNotFound("technician on ticket", map[string]any{"technicianId": technicianID})
		}
		assigned = latest
	}

	if err := w.policy.CanUnassignTechnician(*dispatcher, assigned); err != nil {
		return nil, err
	}
	if !assigned.Enabled {
		return &Result{Message: "El técnico ya estaba desasignado", Ticket: ticket}, nil
	}
	target, err := w.assignmentTarget(ctx, ticket, domain.StateTechnicianUnassigned)
	if err != nil {
		return nil, err
	}

	now := w.now()
	updated := *ticket
	updated.Technicians = ticket.Technicians.Disable(assigned.ID, dispatcher.ID, now)
	updated.CurrentState = target
	updated.UpdatedAt = now
	updated.StateChangedAt = &now

	entries, err := w.recorder.Prepare(ctx, RecordInput{
		CommerceID:  ticket.CommerceID,
		TicketID:    ticket.ID,
		From:        ticket.CurrentState,
		To:          target,
		Dispatchers: updated.Dispatchers,
		Technicians: updated.Technicians,
		Actor:       &Actor{ID: dispatcher.ID, Name: dispatcher.FullName()},
		At:          now,
	})
	if err != nil {
		return nil, err
	}
	if err := w.persist(ctx, &updated, entries); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("El técnico %s ha sido desasignado exitosamente del ticket %s por el despachador %s.",
			assigned.Name, ticket.TicketNumber, dispatcher.FullName()),
		Ticket:  &updated,
		Changed: true,
	}, nil
}

// AssignDispatcher hands the ticket from currentDispatcherID to
// newDispatcherID. Every enabled technician is unassigned with it, and both
// transitions are journaled in a single batch.
func (w *TicketWorkflow) AssignDispatcher(ctx context.Context, ticketID, newDispatcherID, currentDispatcherID string) (*Result, error) {
	res, err := w.retry(func() (*Result, error) {
		return w.assignDispatcher(ctx, ticketID, newDispatcherID, currentDispatcherID)
	})
	return w.finish(OpAssignDispatcher, res, err)
}

func (w *TicketWorkflow) assignDispatcher(ctx context.Context, ticketID, newDispatcherID, currentDispatcherID string) (*Result, error) {
	ticket, err := w.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	current, err := w.employee(ctx, currentDispatcherID, "current dispatcher")
	if err != nil {
		return nil, err
	}
	next, err := w.employee(ctx, newDispatcherID, "new dispatcher")
	if err != nil {
		return nil, err
	}

	if ticket.Dispatchers.IsActive(newDispatcherID) {
		message := fmt.Sprintf("El despachador %s ya está asignado al ticket %s.", next.FullName(), ticket.TicketNumber)
		if newDispatcherID == currentDispatcherID {
			return &Result{Message: message, Ticket: ticket}, nil
		}
		return nil, apperrors.NewConflict(message, map[string]any{"dispatcherId": newDispatcherID})
	}
	if err := w.policy.CanAssignDispatcher(*current, *next); err != nil {
		return nil, err
	}
	machine, err := w.machines.Get(ctx, ticket.CommerceID)
	if err != nil {
		return nil, err
	}
	target, err := assignmentTargetIn(machine, ticket, domain.StateDispatcherAssigned)
	if err != nil {
		return nil, err
	}

	now := w.now()
	updated := *ticket
	updated.Dispatchers = ticket.Dispatchers.Replace(domain.NewAssignment(*next, current.ID, now), current.ID, now)
	updated.Technicians = ticket.Technicians.DisableAll(current.ID, now)
	updated.CurrentState = target
	updated.UpdatedAt = now
	updated.StateChangedAt = &now

	entries, err := w.recorder.Prepare(ctx,
		RecordInput{
			CommerceID:  ticket.CommerceID,
			TicketID:    ticket.ID,
			From:        ticket.CurrentState,
			To:          target,
			Dispatchers: updated.Dispatchers,
			Technicians: updated.Technicians,
			At:          now,
		},
		RecordInput{
			CommerceID:  ticket.CommerceID,
			TicketID:    ticket.ID,
			From:        target,
			To:          machine.RefFor(domain.StateTechnicianUnassigned),
			Dispatchers: updated.Dispatchers,
			Technicians: updated.Technicians,
			At:          now,
		},
	)
	if err != nil {
		return nil, err
	}
	if err := w.persist(ctx, &updated, entries); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("El despachador %s ha sido asignado exitosamente al ticket %s por el despachador %s. Todos los técnicos asignados previamente han sido desasignados.",
			next.FullName(), ticket.TicketNumber, current.FullName()),
		Ticket:  &updated,
		Changed: true,
	}, nil
}

// UnassignDispatcher disables the enabled entry of dispatcherID. Only admins
// may call it, and the role is checked before the ticket is read. No history
// entry is written.
func (w *TicketWorkflow) UnassignDispatcher(ctx context.Context, ticketID, dispatcherID string) (*Result, error) {
	res, err := w.retry(func() (*Result, error) {
		return w.unassignDispatcher(ctx, ticketID, dispatcherID)
	})
	return w.finish(OpUnassignDispatcher, res, err)
}

func (w *TicketWorkflow) unassignDispatcher(ctx context.Context, ticketID, dispatcherID string) (*Result, error) {
	actor, err := w.employee(ctx, dispatcherID, "dispatcher")
	if err != nil {
		return nil, err
	}
	if err := w.policy.CanUnassignDispatcher(*actor); err != nil {
		return nil, err
	}
	ticket, err := w.ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Dispatchers.IsActive(dispatcherID) {
		return &Result{Message: "No hay despachadores habilitados para desasignar", Ticket: ticket}, nil
	}

	now := w.now()
	updated := *ticket
	updated.Dispatchers = ticket.Dispatchers.Disable(dispatcherID, actor.ID, now)
	updated.UpdatedAt = now
	if err := w.persist(ctx, &updated, nil); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("El despachador %s fue desasignado del ticket %s.", actor.FullName(), ticket.TicketNumber),
		Ticket:  &updated,
		Changed: true,
	}, nil
}

// History lists the entries of a ticket, newest first.
func (w *TicketWorkflow) History(ctx context.Context, ticketID string, limit, offset int) ([]domain.StateHistoryEntry, error) {
	if _, err := w.ticket(ctx, ticketID); err != nil {
		return nil, err
	}
	entries, err := w.history.ListByTicket(ctx, ticketID, limit, offset)
	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Errorf("list history: %w", err))
	}
	return entries, nil
}

func (w *TicketWorkflow) assignmentTarget(ctx context.Context, ticket *domain.Ticket, stateID string) (domain.StateRef, error) {
	machine, err := w.machines.Get(ctx, ticket.CommerceID)
	if err != nil {
		return domain.StateRef{}, err
	}
	return assignmentTargetIn(machine, ticket, stateID)
}

// assignmentTargetIn validates the transition implied by an assignment. A
// rejection here is role specific and therefore Forbidden.
func assignmentTargetIn(machine *domain.StateMachine, ticket *domain.Ticket, stateID string) (domain.StateRef, error) {
	target := machine.RefFor(stateID)
	allowed, err := statemachine.IsAllowed(machine, ticket.CurrentState.ID, stateID)
	if err != nil {
		return domain.StateRef{}, apperrors.NewInternalError(err)
	}
	if !allowed {
		return domain.StateRef{}, apperrors.NewForbidden(
			fmt.Sprintf("La transición de %s a %s no está permitida", ticket.CurrentStateLabel(), target.Label))
	}
	return target, nil
}

// persist writes the ticket and then the history entries. The two writes are
// not atomic: if the history write fails the ticket keeps its new state
// without an audit entry until the reconcile scan reports it.
func (w *TicketWorkflow) persist(ctx context.Context, ticket *domain.Ticket, entries []domain.StateHistoryEntry) error {
	if err := w.tickets.Update(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrRevisionConflict) {
			return err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticketId": ticket.ID})
		}
		return apperrors.NewInternalError(fmt.Errorf("update ticket: %w", err))
	}
	if err := w.recorder.Commit(ctx, entries); err != nil {
		w.logger.Error("ticket updated without history entry",
			zap.String("ticket_id", ticket.ID),
			zap.String("commerce_id", ticket.CommerceID),
			zap.String("state", ticket.CurrentState.ID),
			zap.Error(err))
		return apperrors.NewInternalError(err)
	}
	return nil
}

// retry runs fn again once when its ticket write lost a revision race.
func (w *TicketWorkflow) retry(fn func() (*Result, error)) (*Result, error) {
	res, err := fn()
	if !errors.Is(err, repository.ErrRevisionConflict) {
		return res, err
	}
	res, err = fn()
	if errors.Is(err, repository.ErrRevisionConflict) {
		return nil, apperrors.NewDomainError(apperrors.CodeTicketModified,
			"El ticket fue modificado por otra operación; intente nuevamente", http.StatusConflict, nil)
	}
	return res, err
}

func (w *TicketWorkflow) finish(op string, res *Result, err error) (*Result, error) {
	if err == nil {
		return res, nil
	}
	domainErr := apperrors.ToDomainError(err)
	if domainErr.Rejection() {
		w.metrics.RecordRejection(op, domainErr.Code)
		w.logger.Debug("workflow rejected", zap.String("operation", op), zap.String("code", domainErr.Code), zap.String("reason", domainErr.Message))
	} else {
		w.logger.Error("workflow failed", zap.String("operation", op), zap.Error(err))
	}
	return nil, domainErr
}

func (w *TicketWorkflow) ticket(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, err := w.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticketId": id})
		}
		return nil, apperrors.NewInternalError(fmt.Errorf("load ticket: %w", err))
	}
	return ticket, nil
}

func (w *TicketWorkflow) employee(ctx context.Context, id, role string) (*domain.Employee, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperrors.NewValidationError(role+" id is required", nil)
	}
	employee, err := w.employees.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound(role, map[string]any{"employeeId": id})
		}
		return nil, apperrors.NewInternalError(fmt.Errorf("load employee: %w", err))
	}
	return employee, nil
}
