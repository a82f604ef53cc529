// ABOUTME: HTTP handlers for human approval requests raised by agents
// ABOUTME: Deciding requires the admin role when authentication is enabled

package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/store"
)

const approvalNotFound = "Approval request not found"

// DecideApprovalRequest is the JSON body for POST /api/approvals/{id}/decide.
type DecideApprovalRequest struct {
	Decision   store.ApprovalStatus `json:"decision"`
	OperatorID string               `json:"operator_id"`
	Note       string               `json:"note,omitempty"`
}

// handleListApprovals handles GET /api/approvals?status=&agent_id=&limit=.
func (g *Gateway) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	approvals, err := g.store.ListApprovals(r.Context(), store.ApprovalFilter{
		TenantID: auth.TenantFromRequest(r),
		AgentID:  q.Get("agent_id"),
		Status:   store.ApprovalStatus(q.Get("status")),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if approvals == nil {
		approvals = []*store.Approval{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"approvals": approvals})
}

func (g *Gateway) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var req DecideApprovalRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := auth.OperatorFromRequest(r, strings.TrimSpace(req.OperatorID))
	if operator == "" || req.Decision == "" {
		g.sendJSONError(w, http.StatusBadRequest, "operator_id and decision are required")
		return
	}
	if req.Decision != store.ApprovalApproved && req.Decision != store.ApprovalRejected {
		g.sendJSONError(w, http.StatusBadRequest, "decision must be approved or rejected")
		return
	}

	id := r.PathValue("id")
	existing, err := g.store.GetApproval(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && existing.TenantID != auth.TenantFromRequest(r)) {
		g.sendJSONError(w, http.StatusNotFound, approvalNotFound)
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	decided, err := g.store.DecideApproval(r.Context(), id, operator, req.Decision, req.Note)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, approvalNotFound)
		return
	}
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.logger.Info("approval decided", "approval_id", id, "decision", req.Decision, "operator", operator)
	g.writeJSON(w, http.StatusOK, decided)
}
