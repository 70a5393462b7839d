package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ubasgroup/backend/internal/models"
)

// AuditService writes and reads the audit_logs table. Rows are append-only:
// this service exposes no update or delete operation, and none may be added.
type AuditService struct {
	db *sql.DB
}

func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// AuditEntry is what mutating services hand to Record. Snapshots and actor
// are optional; action and resource type are not.
type AuditEntry struct {
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   string
	OldValues    any
	NewValues    any
	IPAddress    string
	UserAgent    string
}

const insertAuditLog = `
	INSERT INTO audit_logs
	(user_id, action, resource_type, resource_id, old_values, new_values, ip_address, user_agent)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// Record inserts one audit row. Audit failures are logged and returned but
// callers outside a database transaction treat them as non-fatal: losing an
// audit row must not fail the user-visible operation retroactively.
func (as *AuditService) Record(e AuditEntry) error {
	oldJSON, newJSON, err := marshalSnapshots(e)
	if err != nil {
		return err
	}

	_, err = as.db.Exec(insertAuditLog,
		e.UserID, e.Action, e.ResourceType, nullableString(e.ResourceID),
		oldJSON, newJSON, nullableString(e.IPAddress), nullableString(e.UserAgent))
	if err != nil {
		log.Printf("[AUDIT] Failed to record %s on %s: %v", e.Action, e.ResourceType, err)
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

// RecordTx is Record inside the caller's transaction, so the audit row
// commits or rolls back with the mutation it describes.
func (as *AuditService) RecordTx(tx *sql.Tx, e AuditEntry) error {
	oldJSON, newJSON, err := marshalSnapshots(e)
	if err != nil {
		return err
	}

	_, err = tx.Exec(insertAuditLog,
		e.UserID, e.Action, e.ResourceType, nullableString(e.ResourceID),
		oldJSON, newJSON, nullableString(e.IPAddress), nullableString(e.UserAgent))
	if err != nil {
		log.Printf("[AUDIT] Failed to record %s on %s: %v", e.Action, e.ResourceType, err)
		return fmt.Errorf("failed to record audit log: %w", err)
	}
	return nil
}

func marshalSnapshots(e AuditEntry) ([]byte, []byte, error) {
	var oldJSON, newJSON []byte
	var err error
	if e.OldValues != nil {
		if oldJSON, err = json.Marshal(e.OldValues); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal old values: %w", err)
		}
	}
	if e.NewValues != nil {
		if newJSON, err = json.Marshal(e.NewValues); err != nil {
			return nil, nil, fmt.Errorf("failed to marshal new values: %w", err)
		}
	}
	return oldJSON, newJSON, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListAuditLogs retrieves audit log entries with optional filters
// @Summary List audit logs
// @Description Query audit history by actor, action, resource type or time range
// @Tags audit
// @Produce json
// @Param userId query string false "Filter by actor user ID"
// @Param action query string false "Filter by action"
// @Param resourceType query string false "Filter by resource type"
// @Param since query string false "RFC 3339 lower bound on created_at"
// @Param limit query int false "Number of entries (default 50, max 200)"
// @Success 200 {object} object{logs=[]models.AuditLog,count=int}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /audit-logs [get]
func (as *AuditService) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	var conditions []string
	var args []interface{}
	argIndex := 1

	if userID := strings.TrimSpace(r.URL.Query().Get("userId")); userID != "" {
		if _, err := uuid.Parse(userID); err != nil {
			SendErrorResponse(w, "Invalid userId", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIndex))
		args = append(args, userID)
		argIndex++
	}

	if action := strings.TrimSpace(r.URL.Query().Get("action")); action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIndex))
		args = append(args, action)
		argIndex++
	}

	if resourceType := strings.TrimSpace(r.URL.Query().Get("resourceType")); resourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argIndex))
		args = append(args, resourceType)
		argIndex++
	}

	if since := strings.TrimSpace(r.URL.Query().Get("since")); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			SendErrorResponse(w, "Invalid since timestamp", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, ts)
		argIndex++
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}

	query := `
		SELECT id, user_id, action, resource_type, COALESCE(resource_id, ''),
		       old_values, new_values, COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at
		FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit)

	rows, err := as.db.Query(query, args...)
	if err != nil {
		log.Printf("[AUDIT] Failed to list audit logs: %v", err)
		SendErrorResponse(w, "Failed to fetch audit logs", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	logs := []models.AuditLog{}
	for rows.Next() {
		var entry models.AuditLog
		err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Action, &entry.ResourceType, &entry.ResourceID,
			&entry.OldValues, &entry.NewValues, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt,
		)
		if err != nil {
			log.Printf("[AUDIT] Failed to scan audit log row: %v", err)
			SendErrorResponse(w, "Failed to fetch audit logs", http.StatusInternalServerError, nil)
			return
		}
		logs = append(logs, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// ClientIP resolves the originating address the way the proxies hand it over.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
