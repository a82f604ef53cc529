// ABOUTME: SQLite persistence for versioned prompt templates
// ABOUTME: Versions increment per tenant/agent; at most one version is active

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const promptColumns = `id, tenant_id, agent_id, version, template, is_active, created_at`

func scanPrompt(row rowScanner) (*PromptVersion, error) {
	var pv PromptVersion
	var active int
	var createdAt string
	if err := row.Scan(&pv.ID, &pv.TenantID, &pv.AgentID, &pv.Version, &pv.Template, &active, &createdAt); err != nil {
		return nil, err
	}
	pv.Active = active != 0

	var err error
	if pv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &pv, nil
}

// GetActivePrompt returns the active template for a tenant/agent pair.
// Returns ErrNotFound if none is active.
func (s *SQLiteStore) GetActivePrompt(ctx context.Context, tenantID, agentID string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompt_versions
		WHERE tenant_id = ? AND agent_id = ? AND is_active = 1
		ORDER BY version DESC
		LIMIT 1
	`, tenantID, agentID)

	pv, err := scanPrompt(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active prompt: %w", err)
	}
	return pv, nil
}

// CreatePromptVersion stores pv as the next version for its tenant/agent pair.
// pv.Version is assigned here. When activate is set, other versions are deactivated.
func (s *SQLiteStore) CreatePromptVersion(ctx context.Context, pv *PromptVersion, activate bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM prompt_versions WHERE tenant_id = ? AND agent_id = ?
	`, pv.TenantID, pv.AgentID).Scan(&current)
	if err != nil {
		return fmt.Errorf("querying prompt version: %w", err)
	}
	pv.Version = current + 1

	if activate {
		if _, err := tx.ExecContext(ctx, `
			UPDATE prompt_versions SET is_active = 0 WHERE tenant_id = ? AND agent_id = ?
		`, pv.TenantID, pv.AgentID); err != nil {
			return fmt.Errorf("deactivating prompt versions: %w", err)
		}
	}
	pv.Active = activate

	active := 0
	if activate {
		active = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO prompt_versions (`+promptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, pv.ID, pv.TenantID, pv.AgentID, pv.Version, pv.Template, active, formatTime(pv.CreatedAt))
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("prompt version %d: %w", pv.Version, ErrDuplicate)
		}
		return fmt.Errorf("inserting prompt version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("created prompt version", "agent_id", pv.AgentID, "version", pv.Version, "active", activate)
	return nil
}

// ActivatePromptVersion makes version the only active one for its tenant/agent
// pair. Returns ErrNotFound if that version does not exist.
func (s *SQLiteStore) ActivatePromptVersion(ctx context.Context, tenantID, agentID string, version int) (*PromptVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE prompt_versions SET is_active = CASE WHEN version = ? THEN 1 ELSE 0 END
		WHERE tenant_id = ? AND agent_id = ?
	`, version, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("activating prompt version: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	pv, err := scanPrompt(tx.QueryRowContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompt_versions
		WHERE tenant_id = ? AND agent_id = ? AND version = ?
	`, tenantID, agentID, version))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying prompt version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("activated prompt version", "agent_id", agentID, "version", version)
	return pv, nil
}

// ListPromptVersions returns every version for a tenant/agent pair, oldest first.
func (s *SQLiteStore) ListPromptVersions(ctx context.Context, tenantID, agentID string) ([]*PromptVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+promptColumns+`
		FROM prompt_versions
		WHERE tenant_id = ? AND agent_id = ?
		ORDER BY version ASC
	`, tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying prompt versions: %w", err)
	}
	defer rows.Close()

	var versions []*PromptVersion
	for rows.Next() {
		pv, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning prompt version: %w", err)
		}
		versions = append(versions, pv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prompt versions: %w", err)
	}
	return versions, nil
}
