package repository

import (
	"context"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// ContactRepository reads commerce contacts.
type ContactRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
}

type contactRepository struct {
	pool DB
}

// NewContactRepository builds repository.
func NewContactRepository(pool DB) ContactRepository {
	return &contactRepository{pool: pool}
}

func (r *contactRepository) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	const query = `SELECT id, commerce_id, name, phone, email FROM contacts WHERE id=$1`
	var contact domain.Contact
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&contact.ID,
		&contact.CommerceID,
		&contact.Name,
		&contact.Phone,
		&contact.Email,
	); err != nil {
		return nil, err
	}
	return &contact, nil
}
