// Package store is the sqlite-backed persistence layer for runs, steps,
// artifacts, the durable selector cache, and the heal ledger (spec.md §6).
// Adapted from the connection/PRAGMA pattern in codenerd's
// internal/store/local_core.go, swapped from the teacher's cgo
// mattn/go-sqlite3 driver to the pure-Go modernc.org/sqlite so the binary
// stays cross-compilable without a C toolchain.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pacts/internal/logging"
	"pacts/internal/model"
)

// Store wraps a single sqlite connection. Single-writer by design (spec.md
// §5's "single run owns the browser" extends naturally to "single run owns
// its write transaction"); SetMaxOpenConns(1) serializes writers the same
// way the teacher's local_core.go does.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logging.Store("opened store at %s", path)
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// InsertRun records a finished run (spec.md §6 runs table).
func (s *Store) InsertRun(ctx context.Context, rs *model.RunState) error {
	timer := logging.StartTimer(logging.CategoryStore, "insert_run")
	defer timer.Stop()

	var durationMs int64
	if !rs.FinishedAt.IsZero() && rs.FinishedAt.After(rs.StartedAt) {
		durationMs = rs.FinishedAt.Sub(rs.StartedAt).Milliseconds()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (req_id, plan_hash, verdict, rca_class, rca_confidence, started_at, finished_at, heal_round, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(req_id) DO UPDATE SET
			verdict=excluded.verdict, rca_class=excluded.rca_class, rca_confidence=excluded.rca_confidence,
			finished_at=excluded.finished_at, heal_round=excluded.heal_round, duration_ms=excluded.duration_ms`,
		rs.ReqID, rs.PlanHash, string(rs.Verdict), string(rs.RCA.Class), rs.RCA.Confidence,
		rs.StartedAt.UTC().Format(time.RFC3339Nano), rs.FinishedAt.UTC().Format(time.RFC3339Nano), rs.HealRound, durationMs,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// InsertStep records one executed step (spec.md §6 run_steps table). Secret
// values are never written — the caller passes an already-redacted value.
func (s *Store) InsertStep(ctx context.Context, reqID string, idx int, step model.ExecutedStep) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_steps (req_id, step_idx, element_name, action, selector, strategy, outcome, ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		reqID, idx, step.Intent.ElementName, string(step.Intent.Action), step.Selector.Selector, string(step.Strategy), step.Outcome, step.Ms,
	)
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

// InsertArtifact records an artifact's location (spec.md §6 artifacts table).
func (s *Store) InsertArtifact(ctx context.Context, reqID, kind, path string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO artifacts (req_id, kind, path, created_at) VALUES (?, ?, ?, ?)`,
		reqID, kind, path, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// UpsertSelectorCache writes the durable tier of the selector cache
// (spec.md §6 selector_cache table, §4.7 admission rules).
func (s *Store) UpsertSelectorCache(ctx context.Context, e model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selector_cache (url_pattern, element_name, action, selector, strategy, stable, score, created_at, last_ok_at, hit_count, miss_count, dom_hash, epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_pattern, element_name, action) DO UPDATE SET
			selector=excluded.selector, strategy=excluded.strategy, stable=excluded.stable, score=excluded.score,
			last_ok_at=excluded.last_ok_at, hit_count=excluded.hit_count, miss_count=excluded.miss_count,
			dom_hash=excluded.dom_hash, epoch=excluded.epoch`,
		e.Key.URLPattern, e.Key.ElementNameLower, string(e.Key.Action), e.Selector, string(e.Strategy), e.Stable, e.Score,
		e.CreatedAt.UTC().Format(time.RFC3339Nano), e.LastOKAt.UTC().Format(time.RFC3339Nano), e.HitCount, e.MissCount, e.DOMHashSnapshot, e.Epoch,
	)
	if err != nil {
		return fmt.Errorf("upsert selector_cache: %w", err)
	}
	return nil
}

// GetSelectorCache reads the durable tier for a key.
func (s *Store) GetSelectorCache(ctx context.Context, key model.CacheKey) (model.CacheEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT selector, strategy, stable, score, created_at, last_ok_at, hit_count, miss_count, dom_hash, epoch
		FROM selector_cache WHERE url_pattern = ? AND element_name = ? AND action = ?`,
		key.URLPattern, key.ElementNameLower, string(key.Action))

	var e model.CacheEntry
	var createdAt, lastOKAt string
	var strategy string
	e.Key = key
	if err := row.Scan(&e.Selector, &strategy, &e.Stable, &e.Score, &createdAt, &lastOKAt, &e.HitCount, &e.MissCount, &e.DOMHashSnapshot, &e.Epoch); err != nil {
		if err == sql.ErrNoRows {
			return model.CacheEntry{}, false, nil
		}
		return model.CacheEntry{}, false, fmt.Errorf("get selector_cache: %w", err)
	}
	e.Strategy = model.Strategy(strategy)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	e.LastOKAt, _ = time.Parse(time.RFC3339Nano, lastOKAt)
	return e, true, nil
}

// PurgeSelectorCache deletes every durable-tier entry — the operator-command
// invalidation path (spec.md §4.7). Returns the number of entries removed.
func (s *Store) PurgeSelectorCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM selector_cache`)
	if err != nil {
		return 0, fmt.Errorf("purge selector_cache: %w", err)
	}
	n, _ := res.RowsAffected()
	logging.Store("purged %d selector_cache entries", n)
	return n, nil
}

// InvalidateSelectorCache deletes a durable-tier entry (spec.md §4.8 drift).
func (s *Store) InvalidateSelectorCache(ctx context.Context, key model.CacheKey) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM selector_cache WHERE url_pattern = ? AND element_name = ? AND action = ?`,
		key.URLPattern, key.ElementNameLower, string(key.Action))
	return err
}

// RecordHealOutcome appends to the heal ledger (spec.md §6 heal_history,
// §4.9 ranking).
func (s *Store) RecordHealOutcome(ctx context.Context, urlPattern, elementName string, strategy model.Strategy, success bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO heal_history (url_pattern, element_name, strategy, success_count, failure_count, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(url_pattern, element_name, strategy) DO UPDATE SET
			success_count = success_count + excluded.success_count,
			failure_count = failure_count + excluded.failure_count,
			last_used_at = excluded.last_used_at`,
		urlPattern, elementName, string(strategy), boolToInt(success), boolToInt(!success), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// HealLedgerFor reads every ledger entry for an (url_pattern, element_name)
// pair, ranked by the caller via model.HealLedgerEntry.Score.
func (s *Store) HealLedgerFor(ctx context.Context, urlPattern, elementName string) ([]model.HealLedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT strategy, success_count, failure_count, last_used_at FROM heal_history
		WHERE url_pattern = ? AND element_name = ?`, urlPattern, elementName)
	if err != nil {
		return nil, fmt.Errorf("query heal_history: %w", err)
	}
	defer rows.Close()

	var out []model.HealLedgerEntry
	for rows.Next() {
		var e model.HealLedgerEntry
		var strategy, lastUsedAt string
		if err := rows.Scan(&strategy, &e.SuccessCount, &e.FailureCount, &lastUsedAt); err != nil {
			return nil, err
		}
		e.URLPattern = urlPattern
		e.ElementNameLower = elementName
		e.Strategy = model.Strategy(strategy)
		e.LastUsedAt, _ = time.Parse(time.RFC3339Nano, lastUsedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
