// ABOUTME: SQLite persistence for the agent registry
// ABOUTME: Upserts and lists AgentRecord rows, preserving registration order

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// SaveAgent inserts or replaces an agent record.
func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *AgentRecord) error {
	query := `
		INSERT INTO agents (
			id, agent_id, tenant_id, name, workspace, status, heartbeat_minutes,
			last_heartbeat_at, last_message_at, last_message, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id = excluded.agent_id,
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			workspace = excluded.workspace,
			status = excluded.status,
			heartbeat_minutes = excluded.heartbeat_minutes,
			last_heartbeat_at = excluded.last_heartbeat_at,
			last_message_at = excluded.last_message_at,
			last_message = excluded.last_message,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		agent.ID,
		agent.AgentID,
		agent.TenantID,
		agent.Name,
		agent.Workspace,
		string(agent.Status),
		agent.HeartbeatMinutes,
		formatOptionalTime(agent.LastHeartbeatAt),
		formatOptionalTime(agent.LastMessageAt),
		nullString(agent.LastMessage),
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving agent: %w", err)
	}

	s.logger.Debug("saved agent", "id", agent.ID, "status", agent.Status)
	return nil
}

const agentColumns = `id, agent_id, tenant_id, name, workspace, status, heartbeat_minutes,
	last_heartbeat_at, last_message_at, last_message, created_at, updated_at`

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var a AgentRecord
	var status, createdAt, updatedAt string
	var lastHeartbeat, lastMessageAt, lastMessage sql.NullString

	err := row.Scan(
		&a.ID, &a.AgentID, &a.TenantID, &a.Name, &a.Workspace, &status, &a.HeartbeatMinutes,
		&lastHeartbeat, &lastMessageAt, &lastMessage, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = AgentStatus(status)
	a.LastMessage = lastMessage.String

	if a.LastHeartbeatAt, err = parseOptionalTime(lastHeartbeat); err != nil {
		return nil, fmt.Errorf("parsing last_heartbeat_at: %w", err)
	}
	if a.LastMessageAt, err = parseOptionalTime(lastMessageAt); err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &a, nil
}

// GetAgent retrieves an agent by ID.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	a, err := scanAgent(s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent: %w", err)
	}
	return a, nil
}

// DeleteAgent removes an agent and its timeline.
// Returns ErrNotFound if the agent doesn't exist.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_events WHERE agent_ref = ?`, id); err != nil {
		return fmt.Errorf("deleting agent events: %w", err)
	}
	return tx.Commit()
}

// ListAgents returns agents in registration order.
func (s *SQLiteStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*AgentRecord, error) {
	var conditions []string
	var args []any
	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRecord
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}
