package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ubasgroup/backend/internal/models"
)

// TransferService moves funds between accounts. Both balance updates, the
// transactions row and the audit row commit in a single database transaction.
type TransferService struct {
	db        *sql.DB
	audit     *AuditService
	validator *ValidationHelper
}

type TransferRequest struct {
	FromAccountID string `json:"fromAccountId" validate:"required,uuid4"`
	ToAccountID   string `json:"toAccountId" validate:"required,uuid4"`
	Amount        string `json:"amount" validate:"required"`
	Description   string `json:"description" validate:"max=200"`
	Reference     string `json:"reference" validate:"omitempty,max=64"`
}

type lockedAccount struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Balance  decimal.Decimal
	Currency string
	IsActive bool
}

func NewTransferService(db *sql.DB) *TransferService {
	return &TransferService{
		db:        db,
		audit:     NewAuditService(db),
		validator: NewValidationHelper(),
	}
}

// CreateTransfer moves funds between two accounts
// @Summary Transfer between accounts
// @Tags transfers
// @Accept json
// @Produce json
// @Param transfer body TransferRequest true "Transfer data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /transfers [post]
func (ts *TransferService) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req TransferRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.FromAccountID == req.ToAccountID {
		SendErrorResponse(w, "Cannot transfer to same account", http.StatusBadRequest, nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		SendErrorResponse(w, "Amount must be a positive decimal", http.StatusBadRequest, nil)
		return
	}
	if amount.Exponent() < -2 {
		SendErrorResponse(w, "Amount supports at most two decimal places", http.StatusBadRequest, nil)
		return
	}

	tx, err := ts.Transfer(req.FromAccountID, req.ToAccountID, amount, req.Description, req.Reference, r)
	if err != nil {
		switch err.Error() {
		case "account not found":
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		case "account not active", "insufficient balance", "currency mismatch":
			SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		default:
			log.Printf("[TRANSFER] Transfer failed: %v", err)
			SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// Transfer debits the source and credits the destination under row locks
// taken in a consistent order to prevent deadlocks.
func (ts *TransferService) Transfer(fromID, toID string, amount decimal.Decimal, description, reference string, r *http.Request) (*models.Transaction, error) {
	dbTx, err := ts.db.Begin()
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback()

	firstLock, secondLock := fromID, toID
	if fromID > toID {
		firstLock, secondLock = toID, fromID
	}

	first, err := ts.lockAccount(dbTx, firstLock)
	if err != nil {
		return nil, err
	}
	second, err := ts.lockAccount(dbTx, secondLock)
	if err != nil {
		return nil, err
	}

	from, to := first, second
	if firstLock != fromID {
		from, to = second, first
	}

	if !from.IsActive || !to.IsActive {
		return nil, fmt.Errorf("account not active")
	}
	if from.Currency != to.Currency {
		return nil, fmt.Errorf("currency mismatch")
	}
	if from.Balance.LessThan(amount) {
		return nil, fmt.Errorf("insufficient balance")
	}

	if err := ts.updateBalance(dbTx, from.ID, from.Balance.Sub(amount)); err != nil {
		return nil, err
	}
	if err := ts.updateBalance(dbTx, to.ID, to.Balance.Add(amount)); err != nil {
		return nil, err
	}

	transaction := models.Transaction{
		FromAccountID: from.ID,
		ToAccountID:   &to.ID,
		Amount:        amount,
		Type:          models.TransactionTypeTransfer,
		Status:        models.TransactionStatusCompleted,
		Description:   description,
		Reference:     reference,
	}

	err = dbTx.QueryRow(`
		INSERT INTO transactions (from_account_id, to_account_id, amount, type, status, description, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, from.ID, to.ID, amount.StringFixed(2), string(transaction.Type),
		string(transaction.Status), nullableString(description), nullableString(reference)).
		Scan(&transaction.ID, &transaction.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store transaction: %w", err)
	}

	entry := AuditEntry{
		UserID:       &from.UserID,
		Action:       "transaction.transfer",
		ResourceType: "transaction",
		ResourceID:   transaction.ID.String(),
		NewValues:    transaction,
	}
	if r != nil {
		entry.IPAddress = ClientIP(r)
		entry.UserAgent = r.UserAgent()
	}
	if err := ts.audit.RecordTx(dbTx, entry); err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[TRANSFER] Moved %s %s from %s to %s (tx %s)",
		amount.StringFixed(2), from.Currency, from.ID, to.ID, transaction.ID)
	return &transaction, nil
}

func (ts *TransferService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var a lockedAccount
	var balanceStr string
	err := tx.QueryRow(`
		SELECT id, user_id, balance::text, currency, is_active
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).
		Scan(&a.ID, &a.UserID, &balanceStr, &a.Currency, &a.IsActive)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account not found")
	}
	if err != nil {
		return nil, err
	}

	a.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored balance for account %s: %w", accountID, err)
	}
	return &a, nil
}

func (ts *TransferService) updateBalance(tx *sql.Tx, accountID uuid.UUID, newBalance decimal.Decimal) error {
	result, err := tx.Exec(`
		UPDATE accounts SET balance = $1, updated_at = $2 WHERE id = $3`,
		newBalance.StringFixed(2), time.Now(), accountID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("balance update touched no rows for account %s", accountID)
	}
	return nil
}
