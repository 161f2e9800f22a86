package types

import "time"

// User represents an account in the library.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Username is the unique display name chosen at registration.
	Username string `json:"username" db:"username"`

	// Email is the unique login identifier of the user.
	Email string `json:"email" db:"email"`

	// RoleID references the row in the roles table.
	RoleID int `json:"role_id" db:"role_id"`

	// Role is the name of the referenced role, resolved on read.
	Role RoleName `json:"role" db:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
