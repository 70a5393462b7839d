package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "transfer"
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypePayment    TransactionType = "payment"
	TransactionTypeFee        TransactionType = "fee"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeTransfer, TransactionTypeDeposit, TransactionTypeWithdrawal,
		TransactionTypePayment, TransactionTypeFee:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// Transaction is a movement of funds out of a source account. ToAccountID is
// optional (withdrawals and fees have no destination) and is nulled if the
// destination account is later deleted.
type Transaction struct {
	ID            uuid.UUID         `json:"id" db:"id"`
	FromAccountID uuid.UUID         `json:"from_account_id" db:"from_account_id"`
	ToAccountID   *uuid.UUID        `json:"to_account_id,omitempty" db:"to_account_id"`
	Amount        decimal.Decimal   `json:"amount" db:"amount"`
	Type          TransactionType   `json:"type" db:"type"`
	Status        TransactionStatus `json:"status" db:"status"`
	Description   string            `json:"description,omitempty" db:"description"`
	Reference     string            `json:"reference,omitempty" db:"reference"`
	Category      string            `json:"category,omitempty" db:"category"`
	Recipient     string            `json:"recipient,omitempty" db:"recipient"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}
