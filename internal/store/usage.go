// ABOUTME: SQLite implementation for router usage tracking
// ABOUTME: Stores per-call token and cost estimates and aggregates them for analytics

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveUsage stores a router usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *RouterUsage) error {
	query := `
		INSERT INTO router_usage (id, tenant_id, agent_id, model, tokens, cost, latency_ms, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.TenantID,
		usage.AgentID,
		usage.Model,
		usage.Tokens,
		usage.Cost,
		usage.LatencyMS,
		usage.Status,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved router usage",
		"id", usage.ID,
		"agent_id", usage.AgentID,
		"model", usage.Model,
		"tokens", usage.Tokens,
	)
	return nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query := `
		SELECT
			COUNT(*) as total_calls,
			COALESCE(SUM(tokens), 0) as total_tokens,
			COALESCE(SUM(cost), 0) as total_cost,
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) as error_count,
			AVG(latency_ms) as avg_latency
		FROM router_usage
		WHERE 1=1
	`
	args := []any{}

	if filter.TenantID != nil {
		query += " AND tenant_id = ?"
		args = append(args, *filter.TenantID)
	}
	if filter.AgentID != nil {
		query += " AND agent_id = ?"
		args = append(args, *filter.AgentID)
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		query += " AND created_at < ?"
		args = append(args, formatTime(*filter.Until))
	}

	var stats UsageStats
	var avgLatency sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalCalls,
		&stats.TotalTokens,
		&stats.TotalCost,
		&stats.ErrorCount,
		&avgLatency,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}
	stats.AvgLatencyMS = avgLatency.Float64

	return &stats, nil
}

// Ensure SQLiteStore implements UsageStore interface.
var _ UsageStore = (*SQLiteStore)(nil)
