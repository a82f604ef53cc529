// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns connection setup, schema creation, migrations and shared scan helpers

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		-- Materialized run state; history lives in ledger_entries
		CREATE TABLE IF NOT EXISTS runs (
			run_id         TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL,
			agent_id       TEXT NOT NULL,
			status         TEXT NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'cancelled', 'failed', 'completed')),
			subagent_state TEXT NOT NULL CHECK (subagent_state IN ('idle', 'running', 'paused', 'stopped', 'error')),
			last_error     TEXT,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_runs_tenant ON runs(tenant_id);

		-- Append-only command/event log
		CREATE TABLE IF NOT EXISTS ledger_entries (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			entry_id     TEXT NOT NULL UNIQUE,
			kind         TEXT NOT NULL CHECK (kind IN ('command', 'event')),
			tenant_id    TEXT NOT NULL,
			agent_id     TEXT NOT NULL,
			run_id       TEXT NOT NULL REFERENCES runs(run_id),
			name         TEXT NOT NULL,
			message      TEXT,
			payload_json TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_ledger_entries_run ON ledger_entries(run_id, seq);

		-- Agent registry
		CREATE TABLE IF NOT EXISTS agents (
			id                TEXT PRIMARY KEY,
			agent_id          TEXT NOT NULL,
			tenant_id         TEXT NOT NULL,
			name              TEXT NOT NULL,
			workspace         TEXT NOT NULL,
			status            TEXT NOT NULL CHECK (status IN ('running', 'stopped')),
			heartbeat_minutes INTEGER NOT NULL,
			last_heartbeat_at TEXT,
			last_message_at   TEXT,
			last_message      TEXT,
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agents_tenant ON agents(tenant_id);

		-- Per-agent timelines
		CREATE TABLE IF NOT EXISTS agent_events (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id     TEXT NOT NULL UNIQUE,
			agent_ref    TEXT NOT NULL,
			agent_id     TEXT NOT NULL,
			tenant_id    TEXT NOT NULL,
			type         TEXT NOT NULL,
			message      TEXT NOT NULL,
			payload_json TEXT,
			timestamp    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_agent_events_ref ON agent_events(agent_ref, seq);

		-- Human approval requests
		CREATE TABLE IF NOT EXISTS approvals (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			agent_id     TEXT NOT NULL,
			run_id       TEXT NOT NULL,
			reason       TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
			requested_at TEXT NOT NULL,
			decided_at   TEXT,
			decided_by   TEXT,
			note         TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_approvals_tenant ON approvals(tenant_id, status);

		-- Model routing usage
		CREATE TABLE IF NOT EXISTS router_usage (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			model      TEXT NOT NULL,
			tokens     INTEGER NOT NULL DEFAULT 0,
			cost       REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL CHECK (status IN ('ok', 'error')),
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_router_usage_agent ON router_usage(agent_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_router_usage_tenant ON router_usage(tenant_id, created_at);

		-- Prompt template versions
		CREATE TABLE IF NOT EXISTS prompt_versions (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			agent_id   TEXT NOT NULL,
			version    INTEGER NOT NULL,
			template   TEXT NOT NULL,
			is_active  INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,

			UNIQUE(tenant_id, agent_id, version)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "router_usage",
			column: "latency_ms",
			apply:  `ALTER TABLE router_usage ADD COLUMN latency_ms INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "approvals",
			column: "note",
			apply:  `ALTER TABLE approvals ADD COLUMN note TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(
			`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column,
		).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseOptionalTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodePayload(payload map[string]any) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return string(data), nil
}

func decodePayload(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(ns.String), &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}

// keepLast returns the trailing n items, or all when n <= 0.
func keepLast[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
