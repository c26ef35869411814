package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// StateHistoryRepository stores state transition audit entries.
type StateHistoryRepository interface {
	// CreateBatch inserts all entries in one statement. Entries whose id already
	// exists are skipped so replays stay idempotent.
	CreateBatch(ctx context.Context, entries []domain.StateHistoryEntry) error
	ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.StateHistoryEntry, error)
}

type stateHistoryRepository struct {
	pool DB
}

// NewStateHistoryRepository builds repository.
func NewStateHistoryRepository(pool DB) StateHistoryRepository {
	return &stateHistoryRepository{pool: pool}
}

const historyColumnCount = 10

func (r *stateHistoryRepository) CreateBatch(ctx context.Context, entries []domain.StateHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]string, 0, len(entries))
	args := make([]any, 0, len(entries)*historyColumnCount)
	for i, entry := range entries {
		var customs []byte
		if entry.Customs != nil {
			encoded, err := json.Marshal(entry.Customs)
			if err != nil {
				return fmt.Errorf("encode customs of %s: %w", entry.ID, err)
			}
			customs = encoded
		}
		placeholders := make([]string, historyColumnCount)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", i*historyColumnCount+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ",")+")")
		args = append(args,
			entry.ID,
			entry.TicketID,
			entry.CommerceID,
			entry.StateID,
			entry.StateLabel,
			entry.Description,
			entry.DispatcherID,
			entry.TechnicianID,
			customs,
			entry.CreatedAt,
		)
	}

	query := `
        INSERT INTO states_history (id, ticket_id, commerce_id, state_id, state_label, description,
            dispatcher_id, technician_id, customs, created_at)
        VALUES ` + strings.Join(values, ",") + `
        ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

func (r *stateHistoryRepository) ListByTicket(ctx context.Context, ticketID string, limit, offset int) ([]domain.StateHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`
        SELECT id, ticket_id, commerce_id, state_id, state_label, description, dispatcher_id, technician_id, customs, created_at
        FROM states_history WHERE ticket_id=$1 ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`, limit, offset)
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StateHistoryEntry
	for rows.Next() {
		var (
			entry   domain.StateHistoryEntry
			customs []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.CommerceID,
			&entry.StateID,
			&entry.StateLabel,
			&entry.Description,
			&entry.DispatcherID,
			&entry.TechnicianID,
			&customs,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(customs) > 0 {
			if err := json.Unmarshal(customs, &entry.Customs); err != nil {
				return nil, fmt.Errorf("decode customs of %s: %w", entry.ID, err)
			}
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
