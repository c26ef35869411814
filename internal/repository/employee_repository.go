package repository

import (
	"context"

	"github.com/spec-kit/field-ticket-service/internal/domain"
)

// EmployeeRepository reads the employee directory.
type EmployeeRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Employee, error)
}

type employeeRepository struct {
	pool DB
}

// NewEmployeeRepository instantiates the repository.
func NewEmployeeRepository(pool DB) EmployeeRepository {
	return &employeeRepository{pool: pool}
}

func (r *employeeRepository) GetByID(ctx context.Context, id string) (*domain.Employee, error) {
	const query = `
        SELECT id, role, provider, first_name, first_surname, phone, email
        FROM employees WHERE id=$1`

	var employee domain.Employee
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&employee.ID,
		&employee.Role,
		&employee.Provider,
		&employee.FirstName,
		&employee.FirstSurname,
		&employee.Phone,
		&employee.Email,
	); err != nil {
		return nil, err
	}
	return &employee, nil
}
