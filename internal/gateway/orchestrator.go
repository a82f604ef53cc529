// ABOUTME: HTTP handlers for the run ledger: command and event intake, run queries and run control
// ABOUTME: External callers may only append the agent-level types; plan types belong to the supervisor

package gateway

import (
	"errors"
	"net/http"
	"slices"

	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/store"
)

// Types accepted from HTTP callers.
var (
	externalCommandTypes = []store.CommandType{
		store.CommandStartTask, store.CommandPause, store.CommandResume,
		store.CommandCancel, store.CommandRequestDelegate,
	}
	externalEventTypes = []store.EventType{
		store.EventStateChanged, store.EventToolStarted, store.EventToolFinished,
		store.EventMetricRecorded, store.EventErrorCompacted,
	}
)

// errRunNotFound hides runs that are missing or belong to another tenant.
var errRunNotFound = errors.New("Run not found")

// runControlActions maps POST /api/orchestrator/runs/{id}/{action} to commands.
var runControlActions = map[string]store.CommandType{
	"pause":  store.CommandPause,
	"resume": store.CommandResume,
	"cancel": store.CommandCancel,
}

// AppendCommandRequest is the JSON body for POST /api/orchestrator/commands.
type AppendCommandRequest struct {
	TenantID string            `json:"tenant_id,omitempty"`
	AgentID  string            `json:"agent_id"`
	RunID    string            `json:"run_id"`
	Type     store.CommandType `json:"type"`
	Payload  map[string]any    `json:"payload,omitempty"`
}

// AppendEventRequest is the JSON body for POST /api/orchestrator/events.
type AppendEventRequest struct {
	TenantID string          `json:"tenant_id,omitempty"`
	AgentID  string          `json:"agent_id"`
	RunID    string          `json:"run_id"`
	Type     store.EventType `json:"type"`
	Message  string          `json:"message"`
	Payload  map[string]any  `json:"payload,omitempty"`
}

// checkRunTenant refuses to append to an existing run of another tenant.
func (g *Gateway) checkRunTenant(r *http.Request, runID, tenant string) error {
	run, err := g.ledger.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if run.TenantID != tenant {
		return errRunNotFound
	}
	return nil
}

func (g *Gateway) handleAppendCommand(w http.ResponseWriter, r *http.Request) {
	var req AppendCommandRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !slices.Contains(externalCommandTypes, req.Type) {
		g.sendJSONError(w, http.StatusBadRequest, "Invalid command type: "+string(req.Type))
		return
	}
	tenant, err := resolveTenant(r, req.TenantID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.checkRunTenant(r, req.RunID, tenant); err != nil {
		g.writeRunError(w, r, err)
		return
	}

	cmd, err := g.ledger.AppendCommand(r.Context(), ledger.CommandInput{
		TenantID: tenant,
		AgentID:  req.AgentID,
		RunID:    req.RunID,
		Type:     req.Type,
		Payload:  req.Payload,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.respondWithRun(w, r, http.StatusCreated, "command", cmd, cmd.RunID)
}

func (g *Gateway) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req AppendEventRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !slices.Contains(externalEventTypes, req.Type) {
		g.sendJSONError(w, http.StatusBadRequest, "Invalid event type: "+string(req.Type))
		return
	}
	tenant, err := resolveTenant(r, req.TenantID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if err := g.checkRunTenant(r, req.RunID, tenant); err != nil {
		g.writeRunError(w, r, err)
		return
	}

	evt, err := g.ledger.AppendEvent(r.Context(), ledger.EventInput{
		TenantID: tenant,
		AgentID:  req.AgentID,
		RunID:    req.RunID,
		Type:     req.Type,
		Message:  req.Message,
		Payload:  req.Payload,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.respondWithRun(w, r, http.StatusCreated, "event", evt, evt.RunID)
}

// respondWithRun writes {<name>: envelope, run: <materialized run>}.
func (g *Gateway) respondWithRun(w http.ResponseWriter, r *http.Request, status int, name string, envelope any, runID string) {
	run, err := g.ledger.GetRun(r.Context(), runID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, status, map[string]any{name: envelope, "run": run})
}

// writeRunError reports missing or foreign runs as "Run not found".
func (g *Gateway) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errRunNotFound) || errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, errRunNotFound.Error())
		return
	}
	g.writeError(w, r, err)
}

// runForRequest loads the {id} run of the caller's tenant.
func (g *Gateway) runForRequest(r *http.Request) (*store.RunRecord, error) {
	run, err := g.ledger.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if run.TenantID != auth.TenantFromRequest(r) {
		return nil, errRunNotFound
	}
	return run, nil
}

// handleListRuns handles GET /api/orchestrator/runs?agent_id=&limit=.
func (g *Gateway) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := g.ledger.ListRuns(r.Context(), store.RunFilter{
		TenantID: auth.TenantFromRequest(r),
		AgentID:  r.URL.Query().Get("agent_id"),
		Limit:    queryInt(r, "limit", 0),
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*store.RunRecord{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (g *Gateway) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := g.runForRequest(r)
	if err != nil {
		g.writeRunError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, run)
}

// handleRunControl handles POST /api/orchestrator/runs/{id}/pause|resume|cancel
// by appending the matching command to the run.
func (g *Gateway) handleRunControl(w http.ResponseWriter, r *http.Request) {
	cmdType, ok := runControlActions[r.PathValue("action")]
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown run action: "+r.PathValue("action"))
		return
	}
	run, err := g.runForRequest(r)
	if err != nil {
		g.writeRunError(w, r, err)
		return
	}

	cmd, err := g.ledger.AppendCommand(r.Context(), ledger.CommandInput{
		TenantID: run.TenantID,
		AgentID:  run.AgentID,
		RunID:    run.RunID,
		Type:     cmdType,
		Payload:  map[string]any{"source": "run-control-api"},
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.logger.Info("run control", "run_id", run.RunID, "action", cmdType)
	g.respondWithRun(w, r, http.StatusOK, "command", cmd, cmd.RunID)
}

// handleSchema handles GET /api/orchestrator/schema.
func (g *Gateway) handleSchema(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"command_types":          store.CommandTypes,
		"event_types":            store.EventTypes,
		"run_statuses":           store.RunStatuses,
		"subagent_states":        store.SubagentStates,
		"external_command_types": externalCommandTypes,
		"external_event_types":   externalEventTypes,
	})
}
