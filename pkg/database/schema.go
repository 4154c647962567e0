package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Migration is one ordered schema step.
type Migration struct {
	Version string
	SQL     string
}

// Migrations creates the roster schema.
var Migrations = []Migration{
	{
		Version: "001_accounts",
		SQL: `CREATE TABLE IF NOT EXISTS accounts (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		Version: "002_students",
		SQL: `CREATE TABLE IF NOT EXISTS students (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	academic_year   TEXT NOT NULL,
	class_standard  TEXT NOT NULL,
	division        TEXT NOT NULL,
	roll_no         TEXT NOT NULL,
	register_name   TEXT NOT NULL DEFAULT '',
	full_name       TEXT NOT NULL,
	saral_id        TEXT NOT NULL DEFAULT '',
	apar_id         TEXT NOT NULL DEFAULT '',
	pen_no          TEXT NOT NULL DEFAULT '',
	aadhaar_no      TEXT NOT NULL DEFAULT '',
	height_cm       TEXT NOT NULL DEFAULT '',
	weight_kg       TEXT NOT NULL DEFAULT '',
	gender          TEXT NOT NULL DEFAULT '',
	birth_date      TEXT NOT NULL DEFAULT '',
	age             INTEGER NOT NULL DEFAULT 0,
	blood_group     TEXT NOT NULL DEFAULT '',
	father_name     TEXT NOT NULL DEFAULT '',
	mother_name     TEXT NOT NULL DEFAULT '',
	father_mobile   TEXT NOT NULL DEFAULT '',
	mother_mobile   TEXT NOT NULL DEFAULT '',
	mother_tongue   TEXT NOT NULL DEFAULT '',
	religion        TEXT NOT NULL DEFAULT '',
	caste           TEXT NOT NULL DEFAULT '',
	caste_category  TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	bank_account_no TEXT NOT NULL DEFAULT '',
	notes           TEXT NOT NULL DEFAULT '',
	photo_ref       TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
)`,
	},
	{
		Version: "003_students_owner_idx",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_students_owner_year ON students (owner_id, academic_year)`,
	},
}

// EnsureSchema applies every migration not yet recorded in schema_migrations.
func EnsureSchema(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version     TEXT PRIMARY KEY,
	executed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range Migrations {
		var exists bool
		if err := db.QueryRowxContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.Version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
		logger.Info("migration applied", zap.String("version", m.Version))
	}

	return nil
}
