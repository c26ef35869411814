package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// ErrRevisionConflict is returned by Update when the stored revision moved on
// since the ticket was read.
var ErrRevisionConflict = errors.New("ticket revision conflict")

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	// Update writes the mutable fields when ticket.Revision still matches the
	// stored row, then increments ticket.Revision.
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	// FindServing returns up to one ticket other than excludeID in stateID whose
	// enabled technicians include any of technicianIDs.
	FindServing(ctx context.Context, excludeID string, technicianIDs []string, stateID string) ([]domain.Ticket, error)
	// ListUnjournaled returns tickets whose current state has no history entry
	// written at or after their last journaled state change.
	ListUnjournaled(ctx context.Context, limit int) ([]domain.Ticket, error)
}

type ticketRepository struct {
	pool DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool DB) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, commerce_id, ticket_number, description, planned_date, priority, attention_type, branch_id,
               current_state_id, current_state_label, dispatchers, technicians, coordinated_date,
               coordinated_contact_id, revision, created_at, updated_at, state_changed_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	dispatchers, technicians, err := marshalAssignments(ticket)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (id, commerce_id, ticket_number, description, planned_date, priority, attention_type,
            branch_id, current_state_id, current_state_label, dispatchers, technicians, revision, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,0,$13,$13)`
	_, err = r.pool.Exec(ctx, query,
		ticket.ID,
		ticket.CommerceID,
		ticket.TicketNumber,
		ticket.Description,
		ticket.PlannedDate,
		ticket.Priority,
		ticket.AttentionType,
		ticket.BranchID,
		ticket.CurrentState.ID,
		ticket.CurrentState.Label,
		dispatchers,
		technicians,
		ticket.CreatedAt,
	)
	if err != nil {
		return err
	}
	ticket.Revision = 0
	ticket.UpdatedAt = ticket.CreatedAt
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	dispatchers, technicians, err := marshalAssignments(ticket)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET current_state_id=$1, current_state_label=$2, dispatchers=$3, technicians=$4,
            coordinated_date=$5, coordinated_contact_id=$6, updated_at=$7, state_changed_at=$8, revision=revision+1
        WHERE id=$9 AND revision=$10`
	cmd, err := r.pool.Exec(ctx, query,
		ticket.CurrentState.ID,
		ticket.CurrentState.Label,
		dispatchers,
		technicians,
		ticket.CoordinatedDate,
		ticket.CoordinatedContactID,
		ticket.UpdatedAt,
		ticket.StateChangedAt,
		ticket.ID,
		ticket.Revision,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return pgx.ErrNoRows
		}
		return ErrRevisionConflict
	}
	ticket.Revision++
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &tickets[0], nil
}

func (r *ticketRepository) FindServing(ctx context.Context, excludeID string, technicianIDs []string, stateID string) ([]domain.Ticket, error) {
	if len(technicianIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets t
        WHERE t.id <> $1 AND t.current_state_id = $2
          AND EXISTS (
              SELECT 1 FROM jsonb_array_elements(t.technicians) AS tech
              WHERE (tech->>'enabled')::boolean AND tech->>'id' = ANY($3)
          )
        LIMIT 1`
	rows, err := r.pool.Query(ctx, query, excludeID, stateID, technicianIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) ListUnjournaled(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM tickets t
        WHERE t.current_state_id <> ''
          AND NOT EXISTS (
              SELECT 1 FROM states_history h
              WHERE h.ticket_id = t.id AND h.state_id = t.current_state_id
                AND h.created_at >= COALESCE(t.state_changed_at, t.updated_at)
          )
        ORDER BY COALESCE(t.state_changed_at, t.updated_at) ASC LIMIT %d`, ticketColumns, limit)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func marshalAssignments(ticket *domain.Ticket) ([]byte, []byte, error) {
	dispatchers := ticket.Dispatchers
	if dispatchers == nil {
		dispatchers = domain.Assignments{}
	}
	technicians := ticket.Technicians
	if technicians == nil {
		technicians = domain.Assignments{}
	}
	d, err := json.Marshal(dispatchers)
	if err != nil {
		return nil, nil, fmt.Errorf("encode dispatchers: %w", err)
	}
	t, err := json.Marshal(technicians)
	if err != nil {
		return nil, nil, fmt.Errorf("encode technicians: %w", err)
	}
	return d, t, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var (
			ticket      domain.Ticket
			dispatchers []byte
			technicians []byte
		)
		if err := rows.Scan(
			&ticket.ID,
			&ticket.CommerceID,
			&ticket.TicketNumber,
			&ticket.Description,
			&ticket.PlannedDate,
			&ticket.Priority,
			&ticket.AttentionType,
			&ticket.BranchID,
			&ticket.CurrentState.ID,
			&ticket.CurrentState.Label,
			&dispatchers,
			&technicians,
			&ticket.CoordinatedDate,
			&ticket.CoordinatedContactID,
			&ticket.Revision,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.StateChangedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(dispatchers, &ticket.Dispatchers); err != nil {
			return nil, fmt.Errorf("decode dispatchers of %s: %w", ticket.ID, err)
		}
		if err := json.Unmarshal(technicians, &ticket.Technicians); err != nil {
			return nil, fmt.Errorf("decode technicians of %s: %w", ticket.ID, err)
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
