package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/ubasgroup/backend/internal/models"
)

type GrantService struct {
	db           *sql.DB
	audit        *AuditService
	disbursement *DisbursementService
	validator    *ValidationHelper
}

// CreateGrantRequest is the grant creation payload. Amount travels as a
// string so it can be parsed into a fixed-point decimal without ever touching
// a float.
type CreateGrantRequest struct {
	UserID    string          `json:"userId" validate:"required,uuid4"`
	AccountID string          `json:"accountId" validate:"required,uuid4"`
	Amount    string          `json:"amount" validate:"required"`
	Currency  string          `json:"currency" validate:"omitempty,len=3"`
	Purpose   string          `json:"purpose" validate:"required,max=500"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func NewGrantService(db *sql.DB) *GrantService {
	// The schema default is 'approved'; the service default is configurable
	// so deployments can reinstate an explicit approval step.
	viper.SetDefault("grants.default_status", string(models.GrantStatusApproved))

	return &GrantService{
		db:           db,
		audit:        NewAuditService(db),
		disbursement: NewDisbursementService(),
		validator:    NewValidationHelper(),
	}
}

func (gs *GrantService) defaultStatus() models.GrantStatus {
	status := models.GrantStatus(viper.GetString("grants.default_status"))
	if !status.Valid() {
		log.Printf("[GRANT] Invalid grants.default_status %q, falling back to approved", status)
		return models.GrantStatusApproved
	}
	return status
}

// CreateGrant creates a new disbursement grant
// @Summary Create a grant
// @Description Create a disbursement grant tied to a user and one of their accounts
// @Tags grants
// @Accept json
// @Produce json
// @Param grant body CreateGrantRequest true "Grant data"
// @Success 201 {object} models.Grant
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /grants [post]
func (gs *GrantService) CreateGrant(w http.ResponseWriter, r *http.Request) {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req CreateGrantRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := gs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
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

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = "USD"
	}

	status := gs.defaultStatus()

	tx, err := gs.db.Begin()
	if err != nil {
		log.Printf("[GRANT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create grant", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// The account must exist and belong to the grantee; the foreign keys
	// would reject a dangling reference anyway, but this gives a clean 404.
	var accountOwner uuid.UUID
	err = tx.QueryRow(`SELECT user_id FROM accounts WHERE id = $1`, req.AccountID).Scan(&accountOwner)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[GRANT] Account lookup failed: %v", err)
		SendErrorResponse(w, "Failed to create grant", http.StatusInternalServerError, nil)
		return
	}
	if accountOwner.String() != req.UserID {
		SendErrorResponse(w, "Account does not belong to user", http.StatusBadRequest, nil)
		return
	}

	grant := models.Grant{
		Amount:   amount,
		Currency: currency,
		Purpose:  req.Purpose,
		Status:   status,
		Metadata: req.Metadata,
	}
	grant.UserID, _ = uuid.Parse(req.UserID)
	grant.AccountID, _ = uuid.Parse(req.AccountID)

	var approvedAt *time.Time
	if status == models.GrantStatusApproved {
		now := time.Now()
		approvedAt = &now
	}

	err = tx.QueryRow(`
		INSERT INTO grants (user_id, account_id, amount, currency, purpose, status, metadata, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, approved_at, created_at, updated_at
	`, grant.UserID, grant.AccountID, amount.StringFixed(2), currency, req.Purpose,
		string(status), nullableJSON(req.Metadata), approvedAt).
		Scan(&grant.ID, &grant.ApprovedAt, &grant.CreatedAt, &grant.UpdatedAt)
	if err != nil {
		log.Printf("[GRANT] Insert failed: %v", err)
		SendErrorResponse(w, "Failed to create grant", http.StatusInternalServerError, nil)
		return
	}

	if err := gs.audit.RecordTx(tx, AuditEntry{
		UserID:       &grant.UserID,
		Action:       "grant.create",
		ResourceType: "grant",
		ResourceID:   grant.ID.String(),
		NewValues:    grant,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		SendErrorResponse(w, "Failed to create grant", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[GRANT] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to create grant", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[GRANT] Created grant %s for user %s (%s %s, status %s)",
		grant.ID, grant.UserID, amount.StringFixed(2), currency, status)

	// A grant born approved is disbursed the same way an approval transition
	// is: after commit, retried out of band on failure.
	if grant.Status == models.GrantStatusApproved {
		if err := gs.disburse(&grant); err != nil {
			log.Printf("[GRANT] Disbursement failed for grant %s: %v", grant.ID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(grant)
}

// GetGrant retrieves a grant by ID
// @Summary Get grant by ID
// @Tags grants
// @Produce json
// @Param grantId path string true "Grant ID"
// @Success 200 {object} models.Grant
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /grants/{grantId} [get]
func (gs *GrantService) GetGrant(w http.ResponseWriter, r *http.Request) {
	grantID := chi.URLParam(r, "grantId")
	if _, err := uuid.Parse(grantID); err != nil {
		SendErrorResponse(w, "Invalid grant ID", http.StatusBadRequest, nil)
		return
	}

	grant, err := gs.fetchGrant(gs.db.QueryRow, grantID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Grant not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[GRANT] Failed to fetch grant %s: %v", grantID, err)
		SendErrorResponse(w, "Failed to fetch grant", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(grant)
}

// ListGrants retrieves grants with optional filters
// @Summary List grants
// @Tags grants
// @Produce json
// @Param userId query string false "Filter by user ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} object{grants=[]models.Grant,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /grants [get]
func (gs *GrantService) ListGrants(w http.ResponseWriter, r *http.Request) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if userID := r.URL.Query().Get("userId"); userID != "" {
		if _, err := uuid.Parse(userID); err != nil {
			SendErrorResponse(w, "Invalid userId", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}

	if status := r.URL.Query().Get("status"); status != "" {
		if !models.GrantStatus(status).Valid() {
			SendErrorResponse(w, "Invalid status", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}

	query := selectGrant + " FROM grants"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := gs.db.Query(query, args...)
	if err != nil {
		log.Printf("[GRANT] Failed to list grants: %v", err)
		SendErrorResponse(w, "Failed to fetch grants", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		var g models.Grant
		var amountStr string
		err := rows.Scan(&g.ID, &g.UserID, &g.AccountID, &amountStr, &g.Currency,
			&g.Purpose, &g.Status, &g.Metadata, &g.ApprovedAt, &g.CreatedAt, &g.UpdatedAt)
		if err != nil {
			log.Printf("[GRANT] Failed to scan grant row: %v", err)
			SendErrorResponse(w, "Failed to fetch grants", http.StatusInternalServerError, nil)
			return
		}
		if g.Amount, err = decimal.NewFromString(amountStr); err != nil {
			log.Printf("[GRANT] Invalid stored amount for grant %s: %v", g.ID, err)
			SendErrorResponse(w, "Failed to fetch grants", http.StatusInternalServerError, nil)
			return
		}
		grants = append(grants, g)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"grants": grants,
		"count":  len(grants),
	})
}

// ApproveGrant moves a pending grant to approved and disburses it
// @Summary Approve grant
// @Tags grants
// @Produce json
// @Param grantId path string true "Grant ID"
// @Success 200 {object} models.Grant
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grants/{grantId}/approve [put]
func (gs *GrantService) ApproveGrant(w http.ResponseWriter, r *http.Request) {
	gs.transition(w, r, models.GrantStatusApproved)
}

// RejectGrant moves a pending grant to rejected
// @Summary Reject grant
// @Tags grants
// @Produce json
// @Param grantId path string true "Grant ID"
// @Success 200 {object} models.Grant
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grants/{grantId}/reject [put]
func (gs *GrantService) RejectGrant(w http.ResponseWriter, r *http.Request) {
	gs.transition(w, r, models.GrantStatusRejected)
}

// CancelGrant cancels a pending or approved grant
// @Summary Cancel grant
// @Tags grants
// @Produce json
// @Param grantId path string true "Grant ID"
// @Success 200 {object} models.Grant
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /grants/{grantId}/cancel [put]
func (gs *GrantService) CancelGrant(w http.ResponseWriter, r *http.Request) {
	gs.transition(w, r, models.GrantStatusCancelled)
}

const selectGrant = `
	SELECT id, user_id, account_id, amount::text, currency, purpose, status,
	       metadata, approved_at, created_at, updated_at`

func (gs *GrantService) fetchGrant(queryRow func(string, ...interface{}) *sql.Row, grantID string) (*models.Grant, error) {
	var g models.Grant
	var amountStr string
	err := queryRow(selectGrant+` FROM grants WHERE id = $1`, grantID).
		Scan(&g.ID, &g.UserID, &g.AccountID, &amountStr, &g.Currency,
			&g.Purpose, &g.Status, &g.Metadata, &g.ApprovedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if g.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("invalid stored amount for grant %s: %w", grantID, err)
	}
	return &g, nil
}

// transition applies the status workflow under a row lock. The schema only
// constrains the value set; the ordering rules live in
// models.GrantStatus.CanTransitionTo and every write goes through here.
func (gs *GrantService) transition(w http.ResponseWriter, r *http.Request, next models.GrantStatus) {
	grantID := chi.URLParam(r, "grantId")
	if _, err := uuid.Parse(grantID); err != nil {
		SendErrorResponse(w, "Invalid grant ID", http.StatusBadRequest, nil)
		return
	}

	tx, err := gs.db.Begin()
	if err != nil {
		log.Printf("[GRANT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to update grant", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	before, err := gs.fetchGrantForUpdate(tx, grantID)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Grant not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		log.Printf("[GRANT] Failed to lock grant %s: %v", grantID, err)
		SendErrorResponse(w, "Failed to update grant", http.StatusInternalServerError, nil)
		return
	}

	if !before.Status.CanTransitionTo(next) {
		SendErrorResponse(w,
			fmt.Sprintf("Cannot move grant from %s to %s", before.Status, next),
			http.StatusConflict, nil)
		return
	}

	after := *before
	after.Status = next
	if next == models.GrantStatusApproved {
		now := time.Now()
		after.ApprovedAt = &now
	}

	err = tx.QueryRow(`
		UPDATE grants SET status = $1, approved_at = COALESCE($2, approved_at), updated_at = NOW()
		WHERE id = $3
		RETURNING approved_at, updated_at
	`, string(next), after.ApprovedAt, grantID).Scan(&after.ApprovedAt, &after.UpdatedAt)
	if err != nil {
		log.Printf("[GRANT] Failed to update grant %s: %v", grantID, err)
		SendErrorResponse(w, "Failed to update grant", http.StatusInternalServerError, nil)
		return
	}

	if err := gs.audit.RecordTx(tx, AuditEntry{
		UserID:       &after.UserID,
		Action:       "grant." + string(next),
		ResourceType: "grant",
		ResourceID:   after.ID.String(),
		OldValues:    before,
		NewValues:    after,
		IPAddress:    ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		SendErrorResponse(w, "Failed to update grant", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[GRANT] Commit failed for grant %s: %v", grantID, err)
		SendErrorResponse(w, "Failed to update grant", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[GRANT] Grant %s moved %s -> %s", grantID, before.Status, next)

	// Disbursement happens after commit: a settlement hiccup must not undo
	// the approval, it is retried out of band.
	if next == models.GrantStatusApproved {
		if err := gs.disburse(&after); err != nil {
			log.Printf("[GRANT] Disbursement failed for grant %s: %v", grantID, err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(after)
}

func (gs *GrantService) fetchGrantForUpdate(tx *sql.Tx, grantID string) (*models.Grant, error) {
	var g models.Grant
	var amountStr string
	err := tx.QueryRow(selectGrant+` FROM grants WHERE id = $1 FOR UPDATE`, grantID).
		Scan(&g.ID, &g.UserID, &g.AccountID, &amountStr, &g.Currency,
			&g.Purpose, &g.Status, &g.Metadata, &g.ApprovedAt, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if g.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("invalid stored amount for grant %s: %w", grantID, err)
	}
	return &g, nil
}

func (gs *GrantService) disburse(grant *models.Grant) error {
	var accountNumber string
	err := gs.db.QueryRow(`SELECT account_number FROM accounts WHERE id = $1`, grant.AccountID).
		Scan(&accountNumber)
	if err != nil {
		return fmt.Errorf("failed to resolve beneficiary account: %w", err)
	}

	doc, err := gs.disbursement.CreatePacs008(grant, accountNumber)
	if err != nil {
		return err
	}

	return gs.disbursement.SendToSettlement(doc)
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
