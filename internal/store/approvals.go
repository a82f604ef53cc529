// ABOUTME: SQLite persistence for human approval requests
// ABOUTME: Creates, decides and lists approvals raised by agents on sensitive actions

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateApproval stores a new approval request.
func (s *SQLiteStore) CreateApproval(ctx context.Context, approval *Approval) error {
	if approval.Status == "" {
		approval.Status = ApprovalPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, tenant_id, agent_id, run_id, reason, status, requested_at, decided_at, decided_by, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		approval.ID,
		approval.TenantID,
		approval.AgentID,
		approval.RunID,
		approval.Reason,
		string(approval.Status),
		formatTime(approval.RequestedAt),
		formatOptionalTime(approval.DecidedAt),
		nullString(approval.DecidedBy),
		nullString(approval.Note),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("approval %s: %w", approval.ID, ErrDuplicate)
		}
		return fmt.Errorf("inserting approval: %w", err)
	}

	s.logger.Debug("created approval", "id", approval.ID, "agent_id", approval.AgentID, "run_id", approval.RunID)
	return nil
}

const approvalColumns = `id, tenant_id, agent_id, run_id, reason, status, requested_at, decided_at, decided_by, note`

func scanApproval(row rowScanner) (*Approval, error) {
	var a Approval
	var status, requestedAt string
	var decidedAt, decidedBy, note sql.NullString

	err := row.Scan(&a.ID, &a.TenantID, &a.AgentID, &a.RunID, &a.Reason, &status, &requestedAt, &decidedAt, &decidedBy, &note)
	if err != nil {
		return nil, err
	}
	a.Status = ApprovalStatus(status)
	a.DecidedBy = decidedBy.String
	a.Note = note.String

	if a.RequestedAt, err = parseTime(requestedAt); err != nil {
		return nil, fmt.Errorf("parsing requested_at: %w", err)
	}
	if a.DecidedAt, err = parseOptionalTime(decidedAt); err != nil {
		return nil, fmt.Errorf("parsing decided_at: %w", err)
	}
	return &a, nil
}

// GetApproval retrieves an approval by ID.
// Returns ErrNotFound if the approval doesn't exist.
func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	a, err := scanApproval(s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying approval: %w", err)
	}
	return a, nil
}

// DecideApproval records an operator decision and returns the updated request.
// Returns ErrNotFound if the approval doesn't exist.
func (s *SQLiteStore) DecideApproval(ctx context.Context, id, decidedBy string, status ApprovalStatus, note string) (*Approval, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?, note = ?
		WHERE id = ?
	`, string(status), formatTime(time.Now()), nullString(decidedBy), nullString(note), id)
	if err != nil {
		return nil, fmt.Errorf("deciding approval: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}

	s.logger.Debug("decided approval", "id", id, "status", status, "decided_by", decidedBy)
	return s.GetApproval(ctx, id)
}

// ListApprovals returns matching approvals, oldest first, keeping the last Limit (default 100).
func (s *SQLiteStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
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
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + approvalColumns + ` FROM approvals`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating approvals: %w", err)
	}

	for i, j := 0, len(approvals)-1; i < j; i, j = i+1, j-1 {
		approvals[i], approvals[j] = approvals[j], approvals[i]
	}
	return approvals, nil
}
