// ABOUTME: HTTP handlers for the master orchestrator: planning, plan execution and system health
// ABOUTME: Plans come from the LLM planner or, for execute, may be supplied directly by the caller

package gateway

import (
	"net/http"
	"strings"

	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/supervisor"
)

// MasterRequest is the JSON body for POST /api/master/plan and /api/master/execute.
// Plan is only read by execute; when set, the LLM is not consulted.
type MasterRequest struct {
	Request  string                   `json:"request"`
	TenantID string                   `json:"tenant_id,omitempty"`
	Plan     *supervisor.ProposedPlan `json:"plan,omitempty"`
}

// availableAgents lists the tenant's agents for planning.
func (g *Gateway) availableAgents(r *http.Request, tenant string) ([]supervisor.AgentInfo, error) {
	summaries, err := g.hub.AvailableAgents(r.Context(), tenant)
	if err != nil {
		return nil, err
	}
	agents := make([]supervisor.AgentInfo, 0, len(summaries))
	for _, s := range summaries {
		agents = append(agents, supervisor.AgentInfo{ID: s.ID, Name: s.Name, Skills: s.Skills})
	}
	return agents, nil
}

// planFromRequest turns a master request into a validated plan.
// It writes the error response itself and returns nil on failure.
func (g *Gateway) planFromRequest(w http.ResponseWriter, r *http.Request, req MasterRequest, allowProposal bool) *supervisor.TaskPlan {
	tenant, err := resolveTenant(r, req.TenantID)
	if err != nil {
		g.writeError(w, r, err)
		return nil
	}
	useProposal := allowProposal && req.Plan != nil
	if !useProposal && strings.TrimSpace(req.Request) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "request is required")
		return nil
	}

	agents, err := g.availableAgents(r, tenant)
	if err != nil {
		g.writeError(w, r, err)
		return nil
	}
	if len(agents) == 0 {
		g.sendJSONError(w, http.StatusBadRequest, "No agents available for planning")
		return nil
	}

	var plan *supervisor.TaskPlan
	if useProposal {
		known := make(map[string]bool, len(agents))
		for _, a := range agents {
			known[a.ID] = true
		}
		plan, err = supervisor.NewPlanFromProposal(tenant, req.Request, req.Plan, known, g.config.Supervisor.MaxSubtasks)
	} else {
		plan, err = g.planner.CreatePlan(r.Context(), supervisor.PlannerInput{
			Request:         req.Request,
			TenantID:        tenant,
			AvailableAgents: agents,
		})
	}
	if err != nil {
		g.writeError(w, r, err)
		return nil
	}
	return plan
}

// handleMasterPlan handles POST /api/master/plan: decompose without executing.
func (g *Gateway) handleMasterPlan(w http.ResponseWriter, r *http.Request) {
	var req MasterRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan := g.planFromRequest(w, r, req, false)
	if plan == nil {
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"plan": plan})
}

// handleMasterExecute handles POST /api/master/execute and blocks until the plan finishes.
func (g *Gateway) handleMasterExecute(w http.ResponseWriter, r *http.Request) {
	var req MasterRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	plan := g.planFromRequest(w, r, req, true)
	if plan == nil {
		return
	}

	record, err := g.supervisor.ExecutePlan(r.Context(), plan)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, record)
}

func (g *Gateway) handleMasterHealth(w http.ResponseWriter, r *http.Request) {
	overview, err := g.monitor.SystemOverview(r.Context(), auth.TenantFromRequest(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, overview)
}
