package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the identity record the rest of the schema hangs off. Accounts and
// grants are deleted with their user; audit logs keep their rows and lose
// only the reference.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
