package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/ubasgroup/backend/internal/models"
)

type AccountService struct {
	db        *sql.DB
	audit     *AuditService
	validator *ValidationHelper
}

type CreateAccountRequest struct {
	UserID      string `json:"userId" validate:"required,uuid4"`
	AccountType string `json:"accountType" validate:"required"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		audit:     NewAuditService(db),
		validator: NewValidationHelper(),
	}
}

// CreateAccount opens a new account for a user
// @Summary Open an account
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body CreateAccountRequest true "Account data"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateAccountRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	accountType := models.AccountType(req.AccountType)
	if !accountType.Valid() {
		SendErrorResponse(w, "Invalid account type", http.StatusBadRequest, nil)
		return
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}

	account := models.Account{
		AccountType: accountType,
		Balance:     decimal.Zero,
		Currency:    currency,
		IsActive:    true,
	}
	account.UserID, _ = uuid.Parse(req.UserID)

	// Account numbers are random; a unique-constraint collision just draws a
	// fresh number instead of failing the request.
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		account.AccountNumber = generateAccountNumber()
		err = as.db.QueryRow(`
			INSERT INTO accounts (user_id, account_number, account_type, currency)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at
		`, account.UserID, account.AccountNumber, string(accountType), currency).
			Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
		if !isUniqueViolation(err) {
			break
		}
		log.Printf("[ACCOUNT] Account number %s collided, retrying", account.AccountNumber)
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account for user %s: %v", req.UserID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	if err := as.audit.Record(AuditEntry{
		UserID:       &account.UserID,
		Action:       "account.create",
		ResourceType: "account",
		ResourceID:   account.ID.String(),
		NewValues:    account,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		log.Printf("[ACCOUNT] Audit record failed for account %s: %v", account.ID, err)
	}

	log.Printf("[ACCOUNT] Opened %s account %s for user %s", accountType, account.AccountNumber, req.UserID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListUserAccounts returns all accounts for a user
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Param userId query string true "User ID"
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts [get]
func (as *AccountService) ListUserAccounts(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if _, err := uuid.Parse(userID); err != nil {
		SendErrorResponse(w, "Invalid userId", http.StatusBadRequest, nil)
		return
	}

	rows, err := as.db.Query(`
		SELECT id, user_id, account_number, account_type, balance::text, currency,
		       is_active, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		var balanceStr string
		err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountType, &balanceStr,
			&a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			log.Printf("[ACCOUNT] Failed to scan account row: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		if a.Balance, err = decimal.NewFromString(balanceStr); err != nil {
			log.Printf("[ACCOUNT] Invalid stored balance for account %s: %v", a.ID, err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// CloseAccount deactivates an account
// @Summary Close account
// @Description Mark an account inactive; history and balances are retained
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/close [put]
func (as *AccountService) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		SendErrorResponse(w, "Invalid account ID", http.StatusBadRequest, nil)
		return
	}

	var userID uuid.UUID
	err := as.db.QueryRow(`
		UPDATE accounts SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1 AND is_active = TRUE
		RETURNING user_id
	`, accountID).Scan(&userID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found or already closed", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[ACCOUNT] Failed to close account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		return
	}

	if err := as.audit.Record(AuditEntry{
		UserID:       &userID,
		Action:       "account.close",
		ResourceType: "account",
		ResourceID:   accountID,
		NewValues:    map[string]bool{"is_active": false},
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		log.Printf("[ACCOUNT] Audit record failed for account %s: %v", accountID, err)
	}

	log.Printf("[ACCOUNT] Closed account %s", accountID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "closed"})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}
