package database

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration is a single ordered schema change. Down may be empty for steps
// that must never be reverted (the extension step, which other objects
// depend on).
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}
	return nil
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration in version order. Each step runs in
// its own database transaction together with its bookkeeping row, so a step
// either fully applies or fully fails. Errors propagate unmodified to the
// operator; the runner is meant to be re-run after the cause is fixed.
func Migrate(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	applied, err := appliedVersions(db)
	if err != nil {
		return err
	}

	for _, m := range Migrations {
		if applied[m.Version] {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) bookkeeping failed: %w", m.Version, m.Name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d (%s) commit failed: %w", m.Version, m.Name, err)
		}

		log.Printf("[MIGRATE] Applied migration %d: %s", m.Version, m.Name)
	}

	return nil
}

// Rollback reverts the most recently applied migration. Steps without a Down
// statement only remove their bookkeeping row.
func Rollback(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return err
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		log.Println("[MIGRATE] Nothing to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}

	var target *Migration
	for i := range Migrations {
		if Migrations[i].Version == version {
			target = &Migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no migration registered for applied version %d", version)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("rollback %d (%s): %w", target.Version, target.Name, err)
	}

	if target.Down != "" {
		if _, err := tx.Exec(target.Down); err != nil {
			tx.Rollback()
			return fmt.Errorf("rollback %d (%s) failed: %w", target.Version, target.Name, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM schema_migrations WHERE version = $1`, target.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("rollback %d (%s) bookkeeping failed: %w", target.Version, target.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rollback %d (%s) commit failed: %w", target.Version, target.Name, err)
	}

	log.Printf("[MIGRATE] Rolled back migration %d: %s", target.Version, target.Name)
	return nil
}
