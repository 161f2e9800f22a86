package types

// RoleName is the name of an authorization role.
type RoleName string

const (
	RoleStudent       RoleName = "Student"
	RoleAdministrator RoleName = "Administrator"
	RoleLibrarian     RoleName = "Librarian"
)

// DefaultRoles lists the roles seeded at startup, in seeding order.
var DefaultRoles = []RoleName{RoleStudent, RoleAdministrator, RoleLibrarian}

// Valid reports whether r is one of the known roles.
func (r RoleName) Valid() bool {
	for _, known := range DefaultRoles {
		if r == known {
			return true
		}
	}
	return false
}

// Role is a row of the roles table.
type Role struct {
	ID   int      `json:"id" db:"id"`
	Name RoleName `json:"name" db:"name"`
}
