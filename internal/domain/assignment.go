package domain

import "time"

// Assignment records one employee being put on (and possibly taken off) a ticket.
type Assignment struct {
	ID           string       `json:"id"`
	Provider     string       `json:"provider,omitempty"`
	Role         EmployeeRole `json:"role,omitempty"`
	Name         string       `json:"name,omitempty"`
	AssignedBy   string       `json:"assignedBy,omitempty"`
	AssignedAt   *time.Time   `json:"assignedAt,omitempty"`
	UnassignedBy *string      `json:"unassignedBy,omitempty"`
	UnassignedAt *time.Time   `json:"unassignedAt,omitempty"`
	Enabled      bool         `json:"enabled"`
}

// NewAssignment builds the enabled entry appended when an employee is assigned.
func NewAssignment(employee Employee, assignedBy string, at time.Time) Assignment {
	return Assignment{
		ID:         employee.ID,
		Provider:   employee.Provider,
		Role:       employee.Role,
		Name:       employee.FullName(),
		AssignedBy: assignedBy,
		AssignedAt: &at,
		Enabled:    true,
	}
}

// Assignments is an ordered, append-only assignment list.
type Assignments []Assignment

// Active returns the first enabled entry.
func (a Assignments) Active() (Assignment, bool) {
	for _, entry := range a {
		if entry.Enabled {
			return entry, true
		}
	}
	return Assignment{}, false
}

// ActiveIDs returns the ids of every enabled entry.
func (a Assignments) ActiveIDs() []string {
	ids := []string{}
	for _, entry := range a {
		if entry.Enabled {
			ids = append(ids, entry.ID)
		}
	}
	return ids
}

// IsActive reports whether the employee holds an enabled entry.
func (a Assignments) IsActive(employeeID string) bool {
	for _, entry := range a {
		if entry.Enabled && entry.ID == employeeID {
			return true
		}
	}
	return false
}

// Latest returns the most recent entry for the employee, enabled or not.
func (a Assignments) Latest(employeeID string) (Assignment, bool) {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i].ID == employeeID {
			return a[i], true
		}
	}
	return Assignment{}, false
}

// Previous returns the second-to-last entry when the list holds more than one.
func (a Assignments) Previous() (Assignment, bool) {
	if len(a) < 2 {
		return Assignment{}, false
	}
	return a[len(a)-2], true
}

// EnabledCount counts enabled entries.
func (a Assignments) EnabledCount() int {
	count := 0
	for _, entry := range a {
		if entry.Enabled {
			count++
		}
	}
	return count
}

// DisableAll returns a copy with every enabled entry disabled and stamped.
func (a Assignments) DisableAll(by string, at time.Time) Assignments {
	return a.disableWhere(func(Assignment) bool { return true }, by, at)
}

// Disable returns a copy with the employee's enabled entries disabled and stamped.
func (a Assignments) Disable(employeeID, by string, at time.Time) Assignments {
	return a.disableWhere(func(entry Assignment) bool { return entry.ID == employeeID }, by, at)
}

// Replace disables every enabled entry and appends next as the new active entry.
func (a Assignments) Replace(next Assignment, by string, at time.Time) Assignments {
	return append(a.DisableAll(by, at), next)
}

func (a Assignments) disableWhere(match func(Assignment) bool, by string, at time.Time) Assignments {
	out := make(Assignments, len(a))
	for i, entry := range a {
		if entry.Enabled && match(entry) {
			unassignedBy := by
			unassignedAt := at
			entry.Enabled = false
			entry.UnassignedBy = &unassignedBy
			entry.UnassignedAt = &unassignedAt
		}
		out[i] = entry
	}
	return out
}
