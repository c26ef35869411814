package domain

import "strings"

// EmployeeRole enumerates the roles known to the employee directory.
type EmployeeRole string

const (
	EmployeeRoleAdmin      EmployeeRole = "ADMIN"
	EmployeeRoleDispatcher EmployeeRole = "DISPATCHER"
	EmployeeRoleTechnician EmployeeRole = "TECHNICIAN"
)

// Employee is a read-only projection of the employee directory.
type Employee struct {
	ID           string
	Role         EmployeeRole
	Provider     string
	FirstName    string
	FirstSurname string
	Phone        string
	Email        string
}

// FullName joins first name and surname the way assignment names are stored.
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.FirstSurname)
}

// IsAdmin reports whether the employee holds the ADMIN role.
func (e Employee) IsAdmin() bool {
	return e.Role == EmployeeRoleAdmin
}
