package store

import (
	"context"
	"embed"
	"flag"
	"fmt"

	"github.com/pressly/goose/v3"

	"tracktally/core/utils"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS organizations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		domain TEXT UNIQUE NOT NULL,
		lms_provider TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'teacher',
		organization_id INTEGER REFERENCES organizations(id),
		active INTEGER NOT NULL DEFAULT 1,
		last_login_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		student_id TEXT NOT NULL,
		name TEXT NOT NULL,
		class_code TEXT NOT NULL DEFAULT '',
		homeroom_teacher_email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(organization_id, student_id)
	);`,
	`CREATE TABLE IF NOT EXISTS classrooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		code TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(organization_id, code)
	);`,
	`CREATE TABLE IF NOT EXISTS incidents (
		uuid TEXT PRIMARY KEY,
		organization_id INTEGER NOT NULL REFERENCES organizations(id),
		kind TEXT NOT NULL DEFAULT 'incident',
		occurred_at TIMESTAMP NOT NULL,
		student_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		class_code TEXT NOT NULL DEFAULT '',
		teacher_email TEXT NOT NULL,
		level TEXT NOT NULL,
		category TEXT NOT NULL,
		location TEXT NOT NULL,
		action_taken TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		device TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_org_occurred ON incidents(organization_id, occurred_at);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		account_id INTEGER NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		organization_id INTEGER,
		org_name TEXT NOT NULL DEFAULT '',
		org_domain TEXT NOT NULL DEFAULT '',
		ip TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS auth_tickets (
		state TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		transfer_token_hash TEXT NOT NULL DEFAULT '',
		redirect_path TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		consumed_at TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		details TEXT,
		created_at TIMESTAMP NOT NULL
	);`,
}

func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db.IsPostgres() {
		return applyGooseMigrations(ctx, db, logger)
	}
	if !isTestRuntime() {
		return fmt.Errorf("driver %q is only supported under the go test runtime", db.driver)
	}
	return applySQLiteTestMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("applying goose migrations")
	}
	return goose.UpContext(ctx, db.DB, "migrations")
}

func applySQLiteTestMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	if logger != nil {
		logger.Printf("sqlite test migrations applied")
	}
	return nil
}

func isTestRuntime() bool {
	return flag.Lookup("test.v") != nil
}
