// ABOUTME: SQLite persistence for per-agent event timelines
// ABOUTME: Appends events, reads the most recent window and prunes old history

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveAgentEvent appends an event to an agent's timeline.
func (s *SQLiteStore) SaveAgentEvent(ctx context.Context, evt *AgentEvent) error {
	payload, err := encodePayload(evt.Payload)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_events (event_id, agent_ref, agent_id, tenant_id, type, message, payload_json, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		evt.ID,
		evt.AgentRef,
		evt.AgentID,
		evt.TenantID,
		string(evt.Type),
		evt.Message,
		payload,
		formatTime(evt.Timestamp),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("agent event %s: %w", evt.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting agent event: %w", err)
	}

	s.logger.Debug("saved agent event", "id", evt.ID, "agent", evt.AgentRef, "type", evt.Type)
	return nil
}

// RecentAgentEvents returns the last limit events of an agent, oldest first.
// A non-positive limit returns the whole timeline.
func (s *SQLiteStore) RecentAgentEvents(ctx context.Context, agentRef string, limit int) ([]*AgentEvent, error) {
	query := `
		SELECT event_id, agent_ref, agent_id, tenant_id, type, message, payload_json, timestamp
		FROM agent_events
		WHERE agent_ref = ?
		ORDER BY seq DESC
	`
	args := []any{agentRef}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying agent events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		var evt AgentEvent
		var typ, ts string
		var payload sql.NullString
		if err := rows.Scan(&evt.ID, &evt.AgentRef, &evt.AgentID, &evt.TenantID, &typ, &evt.Message, &payload, &ts); err != nil {
			return nil, fmt.Errorf("scanning agent event: %w", err)
		}
		evt.Type = AgentEventType(typ)
		if evt.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		if evt.Payload, err = decodePayload(payload); err != nil {
			return nil, err
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent events: %w", err)
	}

	// Reverse to chronological order
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// CountAgentEvents returns the size of an agent's timeline.
func (s *SQLiteStore) CountAgentEvents(ctx context.Context, agentRef string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_events WHERE agent_ref = ?`, agentRef).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting agent events: %w", err)
	}
	return n, nil
}

// PruneAgentEvents deletes all but the newest keep events of an agent.
func (s *SQLiteStore) PruneAgentEvents(ctx context.Context, agentRef string, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_events
		WHERE agent_ref = ? AND seq NOT IN (
			SELECT seq FROM agent_events WHERE agent_ref = ? ORDER BY seq DESC LIMIT ?
		)
	`, agentRef, agentRef, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning agent events: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("pruned agent events", "agent", agentRef, "deleted", n, "kept", keep)
	return n, nil
}
