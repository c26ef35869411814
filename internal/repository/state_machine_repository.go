package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

const stateMachineDocumentID = "state_machine"

// StateMachineRepository loads per-commerce lifecycle definitions from the
// configuration documents table.
type StateMachineRepository interface {
	GetByCommerce(ctx context.Context, commerceID string) (*domain.StateMachine, error)
}

type stateMachineRepository struct {
	pool DB
}

// NewStateMachineRepository builds repository.
func NewStateMachineRepository(pool DB) StateMachineRepository {
	return &stateMachineRepository{pool: pool}
}

func (r *stateMachineRepository) GetByCommerce(ctx context.Context, commerceID string) (*domain.StateMachine, error) {
	const query = `SELECT document FROM datas WHERE commerce_id=$1 AND id=$2`
	var raw []byte
	if err := r.pool.QueryRow(ctx, query, commerceID, stateMachineDocumentID).Scan(&raw); err != nil {
		return nil, err
	}
	var machine domain.StateMachine
	if err := json.Unmarshal(raw, &machine); err != nil {
		return nil, fmt.Errorf("decode state machine of %s: %w", commerceID, err)
	}
	if machine.CommerceID == "" {
		machine.CommerceID = commerceID
	}
	return &machine, nil
}
