package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type GrantStatus string

const (
	GrantStatusPending   GrantStatus = "pending"
	GrantStatusApproved  GrantStatus = "approved"
	GrantStatusRejected  GrantStatus = "rejected"
	GrantStatusCancelled GrantStatus = "cancelled"
)

func (s GrantStatus) Valid() bool {
	switch s {
	case GrantStatusPending, GrantStatusApproved, GrantStatusRejected, GrantStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status workflow allows moving to next.
// pending may move to any other state; approved may only be cancelled;
// rejected and cancelled are terminal. The schema only constrains the value
// set, so every write path must go through this check.
func (s GrantStatus) CanTransitionTo(next GrantStatus) bool {
	if !next.Valid() || s == next {
		return false
	}
	switch s {
	case GrantStatusPending:
		return true
	case GrantStatusApproved:
		return next == GrantStatusCancelled
	}
	return false
}

// Grant is a disbursement tied to a user and one of their accounts. Both
// foreign keys cascade on delete.
type Grant struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	AccountID  uuid.UUID       `json:"account_id" db:"account_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`
	Purpose    string          `json:"purpose" db:"purpose"`
	Status     GrantStatus     `json:"status" db:"status"`
	Metadata   json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty" db:"approved_at"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
