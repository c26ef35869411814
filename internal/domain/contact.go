package domain

// Contact is a commerce contact a visit can be coordinated with.
type Contact struct {
	ID         string
	CommerceID string
	Name       string
	Phone      string
	Email      string
}
