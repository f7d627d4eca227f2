package models

import (
	"strings"
	"time"
)

// UserRole represents the role a user plays in the request workflow.
type UserRole string

const (
	RoleStudent        UserRole = "STUDENT"
	RoleTeacher        UserRole = "TEACHER"
	RoleAdministrative UserRole = "ADMINISTRATIVE"
	RoleResponsible    UserRole = "RESPONSIBLE"
)

var roleLabels = map[UserRole]string{
	RoleStudent:        "Estudiante",
	RoleTeacher:        "Docente",
	RoleAdministrative: "Administrativo",
	RoleResponsible:    "Responsable de atención",
}

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

// Label returns the display label.
func (r UserRole) Label() string { return roleLabels[r] }

// ParseUserRole parses a case-insensitive role name.
func ParseUserRole(raw string) (UserRole, bool) {
	r := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	return r, r.Valid()
}

// User represents an application user stored in the users table.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Identification string    `db:"identification" json:"identification"`
	GivenName      string    `db:"given_name" json:"givenName"`
	FamilyName     string    `db:"family_name" json:"familyName"`
	Email          string    `db:"email" json:"email"`
	Role           UserRole  `db:"role" json:"role"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// FullName joins given and family names.
func (u User) FullName() string {
	return strings.TrimSpace(u.GivenName + " " + u.FamilyName)
}

// CanBeAssigned reports whether the user may own requests.
func (u User) CanBeAssigned() bool {
	return u.Active && u.Role == RoleResponsible
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Active   *bool
	Search   string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
