package domain

// Role is owned by the identity provider; this service only reads it.
type Role string

const (
	RoleRequester Role = "requester"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleRequester || r == RoleStaff || r == RoleAdmin
}

// Actor is an authenticated identity acting on tickets.
type Actor struct {
	ID    string
	Role  Role
	Email string
}
