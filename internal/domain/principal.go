package domain

// Role enumerates what a tenant member may do.
type Role string

const (
	// RoleAdmin manages the whole condominium.
	RoleAdmin Role = "X"
	// RoleReception validates access at the gate.
	RoleReception Role = "A"
	// RoleResident manages their own unit and issues visitor codes.
	RoleResident Role = "B"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleReception, RoleResident:
		return true
	}
	return false
}

// Principal is an authenticated, tenant-bound caller.
type Principal struct {
	UserID   string
	Name     string
	TenantID string
	Role     Role
	Unit     string
}
