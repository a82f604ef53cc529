// ABOUTME: SQLite persistence for the run ledger: append-only entries plus materialized runs
// ABOUTME: Each save writes the envelope and the reduced run in one transaction

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SaveCommand appends a command envelope and upserts the run it produced.
func (s *SQLiteStore) SaveCommand(ctx context.Context, cmd *Command, run *RunRecord) error {
	payload, err := encodePayload(cmd.Payload)
	if err != nil {
		return err
	}
	entry := ledgerRow{
		id:        cmd.ID,
		kind:      StepCommand,
		tenantID:  cmd.TenantID,
		agentID:   cmd.AgentID,
		runID:     cmd.RunID,
		name:      string(cmd.Type),
		payload:   payload,
		createdAt: formatTime(cmd.CreatedAt),
	}
	if err := s.saveEntry(ctx, entry, run); err != nil {
		return err
	}

	s.logger.Debug("saved command", "id", cmd.ID, "run_id", cmd.RunID, "type", cmd.Type, "status", run.Status)
	return nil
}

// SaveEvent appends an event envelope and upserts the run it produced.
func (s *SQLiteStore) SaveEvent(ctx context.Context, evt *Event, run *RunRecord) error {
	payload, err := encodePayload(evt.Payload)
	if err != nil {
		return err
	}
	entry := ledgerRow{
		id:        evt.ID,
		kind:      StepEvent,
		tenantID:  evt.TenantID,
		agentID:   evt.AgentID,
		runID:     evt.RunID,
		name:      string(evt.Type),
		message:   evt.Message,
		payload:   payload,
		createdAt: formatTime(evt.CreatedAt),
	}
	if err := s.saveEntry(ctx, entry, run); err != nil {
		return err
	}

	s.logger.Debug("saved event", "id", evt.ID, "run_id", evt.RunID, "type", evt.Type, "status", run.Status)
	return nil
}

type ledgerRow struct {
	id        string
	kind      StepKind
	tenantID  string
	agentID   string
	runID     string
	name      string
	message   string
	payload   any
	createdAt string
}

func (s *SQLiteStore) saveEntry(ctx context.Context, entry ledgerRow, run *RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, tenant_id, agent_id, status, subagent_state, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			subagent_state = excluded.subagent_state,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`,
		run.RunID,
		run.TenantID,
		run.AgentID,
		string(run.Status),
		string(run.SubagentState),
		nullString(run.LastError),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (entry_id, kind, tenant_id, agent_id, run_id, name, message, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.id,
		string(entry.kind),
		entry.tenantID,
		entry.agentID,
		entry.runID,
		entry.name,
		nullString(entry.message),
		entry.payload,
		entry.createdAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("ledger entry %s: %w", entry.id, ErrDuplicate)
		}
		return fmt.Errorf("inserting ledger entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

const runColumns = `run_id, tenant_id, agent_id, status, subagent_state, last_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var status, state, createdAt, updatedAt string
	var lastError sql.NullString

	if err := row.Scan(&run.RunID, &run.TenantID, &run.AgentID, &status, &state, &lastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.SubagentState = SubagentState(state)
	run.LastError = lastError.String

	var err error
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &run, nil
}

// GetRun retrieves a run and its full step history.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	if err := s.loadSteps(ctx, []*RunRecord{run}); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs matching the filter, oldest first, keeping the last Limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var conditions []string
	var args []any
	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}

	// Reverse to oldest-first
	for i, j := 0, len(runs)-1; i < j; i, j = i+1, j-1 {
		runs[i], runs[j] = runs[j], runs[i]
	}

	if err := s.loadSteps(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// LatestRunForAgent returns the most recently updated run of the agent whose
// status is one of statuses. Returns ErrNotFound when there is none.
func (s *SQLiteStore) LatestRunForAgent(ctx context.Context, agentID string, statuses ...RunStatus) (*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE agent_id = ?`
	args := []any{agentID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY updated_at DESC, rowid DESC LIMIT 1"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) loadSteps(ctx context.Context, runs []*RunRecord) error {
	for _, run := range runs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT entry_id, kind, name, payload_json, created_at
			FROM ledger_entries
			WHERE run_id = ?
			ORDER BY seq ASC
		`, run.RunID)
		if err != nil {
			return fmt.Errorf("querying steps: %w", err)
		}

		steps := []RunStep{}
		for rows.Next() {
			var step RunStep
			var kind, at string
			var payload sql.NullString
			if err := rows.Scan(&step.ID, &kind, &step.Name, &payload, &at); err != nil {
				rows.Close()
				return fmt.Errorf("scanning step: %w", err)
			}
			step.Kind = StepKind(kind)
			if step.At, err = parseTime(at); err != nil {
				rows.Close()
				return fmt.Errorf("parsing step time: %w", err)
			}
			if step.Payload, err = decodePayload(payload); err != nil {
				rows.Close()
				return err
			}
			steps = append(steps, step)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterating steps: %w", err)
		}
		run.Steps = steps
	}
	return nil
}
