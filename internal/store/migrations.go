package store

import (
	"database/sql"
	"fmt"

	"pacts/internal/logging"
)

// baseSchema creates every table fresh. Columns added after the initial
// release go through pendingMigrations instead of editing these statements,
// so an existing database picks them up via ALTER TABLE.
var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		req_id TEXT PRIMARY KEY,
		plan_hash TEXT NOT NULL,
		verdict TEXT,
		rca_class TEXT,
		rca_confidence REAL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		heal_round INTEGER DEFAULT 0,
		duration_ms INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS run_steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		req_id TEXT NOT NULL REFERENCES runs(req_id),
		step_idx INTEGER NOT NULL,
		element_name TEXT NOT NULL,
		action TEXT NOT NULL,
		selector TEXT,
		strategy TEXT,
		outcome TEXT,
		ms INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_steps_req_id ON run_steps(req_id)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		req_id TEXT NOT NULL REFERENCES runs(req_id),
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS selector_cache (
		url_pattern TEXT NOT NULL,
		element_name TEXT NOT NULL,
		action TEXT NOT NULL,
		selector TEXT NOT NULL,
		strategy TEXT NOT NULL,
		stable INTEGER NOT NULL DEFAULT 0,
		score REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		last_ok_at TEXT,
		hit_count INTEGER DEFAULT 0,
		miss_count INTEGER DEFAULT 0,
		dom_hash TEXT,
		epoch INTEGER DEFAULT 0,
		PRIMARY KEY (url_pattern, element_name, action)
	)`,
	`CREATE TABLE IF NOT EXISTS heal_history (
		url_pattern TEXT NOT NULL,
		element_name TEXT NOT NULL,
		strategy TEXT NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_used_at TEXT,
		PRIMARY KEY (url_pattern, element_name, strategy)
	)`,
}

// migration is one ALTER-TABLE-shaped schema change applied idempotently to
// an existing database (grounded on codenerd's internal/store/migrations.go
// Migration{Table,Column,Def} pattern).
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations is empty at the initial schema version; it exists as the
// landing spot for future columns so upgrades never require a hand-rolled
// ALTER TABLE at the call site.
var pendingMigrations []migration

// RunMigrations creates the base schema if missing, then applies any
// pending ALTER TABLE migrations.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "run_migrations")
	defer timer.Stop()

	for _, stmt := range baseSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply base schema: %w", err)
		}
	}

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			logging.StoreWarn("migration failed for %s.%s: %v", m.Table, m.Column, err)
			continue
		}
		applied++
	}
	logging.StoreDebug("migrations applied: %d", applied)
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt any
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
