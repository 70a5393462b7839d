package database

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func expectMigrationsTable(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestMigrate(t *testing.T) {
	t.Run("applies all steps in order on a fresh database", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))

		for _, m := range Migrations {
			mock.ExpectBegin()
			mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO schema_migrations").
				WithArgs(m.Version, m.Name).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()
		}

		assert.NoError(t, Migrate(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-run is a no-op once all steps are recorded", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		rows := sqlmock.NewRows([]string{"version"})
		for _, m := range Migrations {
			rows.AddRow(m.Version)
		}
		mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(rows)

		assert.NoError(t, Migrate(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("applies only pending steps", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		// Extension and users already applied.
		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1).AddRow(2))

		for _, m := range Migrations[2:] {
			mock.ExpectBegin()
			mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectExec("INSERT INTO schema_migrations").
				WithArgs(m.Version, m.Name).
				WillReturnResult(sqlmock.NewResult(1, 1))
			mock.ExpectCommit()
		}

		assert.NoError(t, Migrate(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed step rolls back and halts the run", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		mock.ExpectQuery("SELECT version FROM schema_migrations").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))

		mock.ExpectBegin()
		mock.ExpectExec("CREATE EXTENSION").
			WillReturnError(errors.New("permission denied to create extension"))
		mock.ExpectRollback()

		err = Migrate(db)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "enable_extensions")
		assert.Contains(t, err.Error(), "permission denied")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRollback(t *testing.T) {
	t.Run("reverts the most recent step", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		mock.ExpectQuery("SELECT version FROM schema_migrations ORDER BY version DESC").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(6))

		mock.ExpectBegin()
		mock.ExpectExec("DROP TABLE transactions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM schema_migrations").
			WithArgs(6).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, Rollback(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("extension step has no reverse DDL", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		mock.ExpectQuery("SELECT version FROM schema_migrations ORDER BY version DESC").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))

		// Only the bookkeeping row is removed; the extension stays.
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM schema_migrations").
			WithArgs(1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, Rollback(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty history is a no-op", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		expectMigrationsTable(mock)
		mock.ExpectQuery("SELECT version FROM schema_migrations ORDER BY version DESC").
			WillReturnRows(sqlmock.NewRows([]string{"version"}))

		assert.NoError(t, Rollback(db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrationsCatalog(t *testing.T) {
	t.Run("versions are sequential and unique", func(t *testing.T) {
		for i, m := range Migrations {
			assert.Equal(t, i+1, m.Version)
			assert.NotEmpty(t, m.Name)
			assert.NotEmpty(t, m.Up)
		}
	})

	t.Run("extensions come before any table", func(t *testing.T) {
		assert.Equal(t, "enable_extensions", Migrations[0].Name)
		assert.Empty(t, Migrations[0].Down)
	})

	t.Run("audit trail survives user deletion, operational data does not", func(t *testing.T) {
		var grantsUp, auditUp string
		for _, m := range Migrations {
			switch m.Name {
			case "create_grants":
				grantsUp = m.Up
			case "create_audit_logs":
				auditUp = m.Up
			}
		}
		assert.Contains(t, grantsUp, "ON DELETE CASCADE")
		assert.Contains(t, auditUp, "ON DELETE SET NULL")
		assert.NotContains(t, auditUp, "ON DELETE CASCADE")
	})
}
