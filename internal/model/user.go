package model

import "time"

// Role names for account holders.  Instructors publish slots, sessions
// and packages; clients reserve seats and buy packages.
const (
	RoleInstructor = "INSTRUCTOR"
	RoleClient     = "CLIENT"
)

// User is an account holder.  Guests book without an account; a client
// who later registers keeps their credits because balances union the
// account id with the normalized phone number.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	FirstName    string    // users.first_name
	LastName     string    // users.last_name
	Phone        string    // users.phone (normalized)
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
}
