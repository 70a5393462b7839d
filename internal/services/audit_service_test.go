package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ubasgroup/backend/internal/models"
)

var auditColumns = []string{
	"id", "user_id", "action", "resource_type", "resource_id",
	"old_values", "new_values", "ip_address", "user_agent", "created_at",
}

func TestAuditService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	t.Run("full entry", func(t *testing.T) {
		userID := uuid.New()

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(&userID, "account.create", "account", "acc-1",
				nil, []byte(`{"is_active":true}`), "203.0.113.7", "curl/8.0").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.Record(AuditEntry{
			UserID:       &userID,
			Action:       "account.create",
			ResourceType: "account",
			ResourceID:   "acc-1",
			NewValues:    map[string]bool{"is_active": true},
			IPAddress:    "203.0.113.7",
			UserAgent:    "curl/8.0",
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optional fields become NULL", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(nil, "system.migrate", "schema", nil, nil, nil, nil, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.Record(AuditEntry{
			Action:       "system.migrate",
			ResourceType: "schema",
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("both snapshots recorded on update", func(t *testing.T) {
		userID := uuid.New()

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(&userID, "grant.cancelled", "grant", "g-1",
				[]byte(`{"status":"approved"}`), []byte(`{"status":"cancelled"}`), nil, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.Record(AuditEntry{
			UserID:       &userID,
			Action:       "grant.cancelled",
			ResourceType: "grant",
			ResourceID:   "g-1",
			OldValues:    map[string]string{"status": "approved"},
			NewValues:    map[string]string{"status": "cancelled"},
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditService_RecordTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	t.Run("rides the caller's transaction", func(t *testing.T) {
		userID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(&userID, "grant.create", "grant", "g-2",
				nil, sqlmock.AnyArg(), nil, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectRollback()

		tx, err := db.Begin()
		assert.NoError(t, err)

		err = service.RecordTx(tx, AuditEntry{
			UserID:       &userID,
			Action:       "grant.create",
			ResourceType: "grant",
			ResourceID:   "g-2",
			NewValues:    map[string]string{"status": "pending"},
		})
		assert.NoError(t, err)

		// The audit row disappears with the rollback.
		assert.NoError(t, tx.Rollback())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditService_ListAuditLogs(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewAuditService(db)

	t.Run("no filters uses the default limit", func(t *testing.T) {
		userID := uuid.New()

		mock.ExpectQuery("FROM audit_logs ORDER BY created_at DESC LIMIT \\$1").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(auditColumns).
				AddRow(uuid.New().String(), userID.String(), "user.register", "user", "u-1",
					nil, []byte(`{"email":"jane@example.com"}`), "203.0.113.7", "curl/8.0", time.Now()))

		r := httptest.NewRequest("GET", "/audit-logs", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Logs  []models.AuditLog `json:"logs"`
			Count int               `json:"count"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, 1, response.Count)
		assert.Equal(t, "user.register", response.Logs[0].Action)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rows survive a deleted actor", func(t *testing.T) {
		mock.ExpectQuery("FROM audit_logs WHERE action = \\$1").
			WithArgs("user.delete", 50).
			WillReturnRows(sqlmock.NewRows(auditColumns).
				AddRow(uuid.New().String(), nil, "user.delete", "user", "u-9",
					nil, nil, "", "", time.Now()))

		r := httptest.NewRequest("GET", "/audit-logs?action=user.delete", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response struct {
			Logs []models.AuditLog `json:"logs"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Len(t, response.Logs, 1)
		assert.Nil(t, response.Logs[0].UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("combined filters keep placeholder order", func(t *testing.T) {
		userID := uuid.New()
		since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		mock.ExpectQuery("FROM audit_logs WHERE user_id = \\$1 AND resource_type = \\$2 AND created_at >= \\$3").
			WithArgs(userID.String(), "grant", since, 10).
			WillReturnRows(sqlmock.NewRows(auditColumns))

		r := httptest.NewRequest("GET",
			"/audit-logs?userId="+userID.String()+"&resourceType=grant&since=2026-01-01T00:00:00Z&limit=10", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid userId", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/audit-logs?userId=banana", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid since timestamp", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/audit-logs?since=yesterday", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("out-of-range limit falls back to default", func(t *testing.T) {
		mock.ExpectQuery("FROM audit_logs ORDER BY created_at DESC LIMIT \\$1").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(auditColumns))

		r := httptest.NewRequest("GET", "/audit-logs?limit=9999", nil)
		w := httptest.NewRecorder()

		service.ListAuditLogs(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestClientIP(t *testing.T) {
	t.Run("prefers first X-Forwarded-For hop", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
		assert.Equal(t, "198.51.100.4", ClientIP(r))
	})

	t.Run("falls back to X-Real-IP", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Real-IP", "198.51.100.9")
		assert.Equal(t, "198.51.100.9", ClientIP(r))
	})

	t.Run("falls back to remote address", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		assert.Equal(t, r.RemoteAddr, ClientIP(r))
	})
}
