package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-ticket-service/internal/clients"
	"github.com/spec-kit/field-ticket-service/internal/domain"
	"github.com/spec-kit/field-ticket-service/internal/events"
	"github.com/spec-kit/field-ticket-service/internal/repository"
	"github.com/spec-kit/field-ticket-service/internal/statemachine"
)

type memTickets struct {
	mu      sync.Mutex
	rows    map[string]domain.Ticket
	updates int
	// conflicts makes the next n updates lose a revision race.
	conflicts int
	// journal backs ListUnjournaled when set.
	journal *memHistory
}

func newMemTickets(tickets ...domain.Ticket) *memTickets {
	m := &memTickets{rows: map[string]domain.Ticket{}}
	for _, t := range tickets {
		m.rows[t.ID] = cloneTicket(t)
	}
	return m
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	t.Dispatchers = append(domain.Assignments{}, t.Dispatchers...)
	t.Technicians = append(domain.Assignments{}, t.Technicians...)
	return t
}

func (m *memTickets) Create(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticket.Revision = 0
	m.rows[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (m *memTickets) Update(_ context.Context, ticket *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rows[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Revision++
		m.rows[ticket.ID] = stored
		return repository.ErrRevisionConflict
	}
	if stored.Revision != ticket.Revision {
		return repository.ErrRevisionConflict
	}
	ticket.Revision++
	m.rows[ticket.ID] = cloneTicket(*ticket)
	m.updates++
	return nil
}

func (m *memTickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	c := cloneTicket(t)
	return &c, nil
}

func (m *memTickets) FindServing(_ context.Context, excludeID string, technicianIDs []string, stateID string) ([]domain.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.rows {
		if id == excludeID || t.CurrentState.ID != stateID {
			continue
		}
		for _, techID := range technicianIDs {
			if t.Technicians.IsActive(techID) {
				return []domain.Ticket{cloneTicket(t)}, nil
			}
		}
	}
	return nil, nil
}

func (m *memTickets) ListUnjournaled(context.Context, int) ([]domain.Ticket, error) {
	if m.journal == nil {
		return nil, nil
	}
	m.mu.Lock()
	rows := make([]domain.Ticket, 0, len(m.rows))
	for _, t := range m.rows {
		rows = append(rows, cloneTicket(t))
	}
	m.mu.Unlock()

	var out []domain.Ticket
	for _, t := range rows {
		if t.CurrentState.ID == "" {
			continue
		}
		since := t.UpdatedAt
		if t.StateChangedAt != nil {
			since = *t.StateChangedAt
		}
		journaled := false
		for _, e := range m.journal.forTicket(t.ID) {
			if e.StateID == t.CurrentState.ID && !e.CreatedAt.Before(since) {
				journaled = true
			}
		}
		if !journaled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTickets) get(id string) domain.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneTicket(m.rows[id])
}

type memHistory struct {
	mu      sync.Mutex
	entries []domain.StateHistoryEntry
	err     error
}

func (h *memHistory) CreateBatch(_ context.Context, entries []domain.StateHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	for _, e := range entries {
		dup := false
		for _, existing := range h.entries {
			if existing.ID == e.ID {
				dup = true
			}
		}
		if !dup {
			h.entries = append(h.entries, e)
		}
	}
	return nil
}

func (h *memHistory) ListByTicket(_ context.Context, ticketID string, limit, offset int) ([]domain.StateHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.StateHistoryEntry
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].TicketID == ticketID {
			out = append(out, h.entries[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (h *memHistory) forTicket(ticketID string) []domain.StateHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []domain.StateHistoryEntry
	for _, e := range h.entries {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out
}

type memEmployees map[string]domain.Employee

func (m memEmployees) GetByID(_ context.Context, id string) (*domain.Employee, error) {
	e, ok := m[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

type memContacts map[string]domain.Contact

func (m memContacts) GetByID(_ context.Context, id string) (*domain.Contact, error) {
	c, ok := m[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

type memMachines map[string]*domain.StateMachine

func (m memMachines) GetByCommerce(_ context.Context, commerceID string) (*domain.StateMachine, error) {
	machine, ok := m[commerceID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return machine, nil
}

type stubDocuments struct {
	doc   clients.Document
	err   error
	calls int
}

func (s *stubDocuments) FetchDocument(context.Context, string, string) (clients.Document, error) {
	s.calls++
	return s.doc, s.err
}

type harness struct {
	workflow  *TicketWorkflow
	tickets   *memTickets
	history   *memHistory
	employees memEmployees
	contacts  memContacts
	documents *stubDocuments
	published []events.TicketStateChangedPayload
}

const commerceID = "commerce-1"

// fullMachine is a lifecycle covering every path of the workflow.
func fullMachine() *domain.StateMachine {
	return &domain.StateMachine{
		CommerceID: commerceID,
		States: []domain.State{
			{ID: domain.StateCreated, Label: "Creado", Transitions: []string{domain.StateDispatcherAssigned}},
			{ID: domain.StateDispatcherAssigned, Label: "Despachador asignado", Transitions: []string{domain.StateTechnicianAssigned, domain.StateDispatcherAssigned}},
			{ID: domain.StateTechnicianAssigned, Label: "Técnico asignado", Transitions: []string{
				domain.StateTechnicianUnassigned, domain.StateTechnicianAssigned, domain.StateCoordinate,
				domain.StateInService, domain.StateDispatcherAssigned,
			}},
			{ID: domain.StateTechnicianUnassigned, Label: "Técnico desasignado", Transitions: []string{domain.StateTechnicianAssigned, domain.StateDispatcherAssigned}},
			{ID: domain.StateCoordinate, Label: "Coordinado", Transitions: []string{domain.StateInService, domain.StateReschedule}},
			{ID: domain.StateReschedule, Label: "Reprogramado", Transitions: []string{domain.StateCoordinate}},
			{ID: domain.StateInService, Label: "En servicio", Transitions: []string{domain.StateClosed}},
			{ID: domain.StateClosed, Label: "Cerrado"},
		},
	}
}

func defaultEmployees() memEmployees {
	return memEmployees{
		"admin":   {ID: "admin", Role: domain.EmployeeRoleAdmin, Provider: "STEFANINI", FirstName: "Ada", FirstSurname: "Admin"},
		"d-home":  {ID: "d-home", Role: domain.EmployeeRoleDispatcher, Provider: "STEFANINI", FirstName: "Hugo", FirstSurname: "Home"},
		"d-acme":  {ID: "d-acme", Role: domain.EmployeeRoleDispatcher, Provider: "ACME", FirstName: "Ana", FirstSurname: "Acme"},
		"d-acme2": {ID: "d-acme2", Role: domain.EmployeeRoleDispatcher, Provider: "ACME", FirstName: "Alba", FirstSurname: "Acme"},
		"d-other": {ID: "d-other", Role: domain.EmployeeRoleDispatcher, Provider: "OTHER", FirstName: "Olga", FirstSurname: "Other"},
		"t-acme":  {ID: "t-acme", Role: domain.EmployeeRoleTechnician, Provider: "ACME", FirstName: "Tomas", FirstSurname: "Acme"},
		"t-acme2": {ID: "t-acme2", Role: domain.EmployeeRoleTechnician, Provider: "ACME", FirstName: "Teo", FirstSurname: "Acme"},
		"t-other": {ID: "t-other", Role: domain.EmployeeRoleTechnician, Provider: "OTHER", FirstName: "Tina", FirstSurname: "Other"},
	}
}

func newHarness(machine *domain.StateMachine, tickets ...domain.Ticket) *harness {
	h := &harness{
		tickets:   newMemTickets(tickets...),
		history:   &memHistory{},
		employees: defaultEmployees(),
		contacts:  memContacts{"contact-1": {ID: "contact-1", CommerceID: commerceID, Name: "Carla"}},
		documents: &stubDocuments{doc: clients.Document{FileName: "ods.pdf", FilePath: "/ods/1.pdf", URL: "https://files/ods.pdf"}},
	}

	h.tickets.journal = h.history

	dispatcher := events.NewInMemoryDispatcher(nil)
	dispatcher.Subscribe(events.EventTicketStateChanged, func(_ context.Context, e events.Event) error {
		h.published = append(h.published, e.Payload.(events.TicketStateChangedPayload))
		return nil
	})

	registry := statemachine.NewRegistry(memMachines{machine.CommerceID: machine}, nil, statemachine.Options{TTL: time.Minute, MaxEntries: 8}, nil, nil)
	recorder := NewHistoryService(HistoryDependencies{
		Repo:       h.history,
		Documents:  h.documents,
		Dispatcher: dispatcher,
	})
	h.workflow = NewTicketWorkflow(WorkflowDependencies{
		Tickets:   h.tickets,
		Employees: h.employees,
		Contacts:  h.contacts,
		History:   h.history,
		Machines:  registry,
		Recorder:  recorder,
		Policy:    NewAssignmentPolicy("STEFANINI"),
	})
	return h
}

func ticketIn(id, state string) domain.Ticket {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Ticket{
		ID:           id,
		CommerceID:   commerceID,
		TicketNumber: "TK-" + id,
		CurrentState: fullMachine().RefFor(state),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func enabled(e domain.Employee) domain.Assignment {
	return domain.NewAssignment(e, "admin", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
}

var errBoom = errors.New("boom")
