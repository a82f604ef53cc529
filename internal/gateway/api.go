// ABOUTME: HTTP API route table, JSON helpers and the error-to-status mapping
// ABOUTME: Every /api route runs behind the JWT middleware when a secret is configured

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/llm"
	"github.com/Arcetro/talkative/internal/router"
	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
	"github.com/Arcetro/talkative/internal/supervisor"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// errTenantMismatch is returned when a body names a tenant the token does not carry.
var errTenantMismatch = errors.New("tenant_id does not match the authenticated tenant")

// registerAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
		admin   bool
	}{
		{"GET /api/agents", g.handleListAgents, false},
		{"POST /api/agents", g.handleCreateAgent, false},
		{"GET /api/agents/{id}", g.handleGetAgent, false},
		{"POST /api/agents/{id}/start", g.handleStartAgent, false},
		{"POST /api/agents/{id}/stop", g.handleStopAgent, false},
		{"POST /api/agents/{id}/heartbeat", g.handleHeartbeat, false},
		{"POST /api/agents/{id}/messages", g.handleSendMessage, false},
		{"GET /api/agents/{id}/skills", g.handleListSkills, false},
		{"POST /api/agents/{id}/skills", g.handleAttachSkill, false},
		{"GET /api/agents/{id}/skills/{skill}", g.handleSkillDoc, false},
		{"GET /api/agents/{id}/events", g.handleListEvents, false},
		{"GET /api/agents/{id}/events/stream", g.handleEventStream, false},
		{"GET /api/agents/{id}/events/ws", g.handleEventSocket, false},
		{"GET /api/agents/{id}/health", g.handleAgentHealth, false},
		{"GET /api/agents/{id}/prompts", g.handleListPrompts, false},
		{"POST /api/agents/{id}/prompts", g.handleCreatePrompt, false},
		{"POST /api/agents/{id}/prompts/render", g.handleRenderPrompt, false},
		{"POST /api/agents/{id}/prompts/{version}/activate", g.handleActivatePrompt, false},
		{"GET /api/skills/templates", g.handleListTemplates, false},
		{"POST /api/route", g.handleRoute, false},

		{"POST /api/orchestrator/commands", g.handleAppendCommand, false},
		{"POST /api/orchestrator/events", g.handleAppendEvent, false},
		{"GET /api/orchestrator/runs", g.handleListRuns, false},
		{"GET /api/orchestrator/runs/{id}", g.handleGetRun, false},
		{"POST /api/orchestrator/runs/{id}/{action}", g.handleRunControl, false},
		{"GET /api/orchestrator/schema", g.handleSchema, false},

		{"GET /api/approvals", g.handleListApprovals, false},
		{"POST /api/approvals/{id}/decide", g.handleDecideApproval, true},

		{"POST /api/master/plan", g.handleMasterPlan, false},
		{"POST /api/master/execute", g.handleMasterExecute, false},
		{"GET /api/master/health", g.handleMasterHealth, false},

		{"GET /api/stats/usage", g.handleUsageStats, false},
	}

	if g.verifier == nil {
		for _, rt := range routes {
			mux.HandleFunc(rt.pattern, rt.handler)
		}
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return
	}

	authMiddleware := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	adminMiddleware := auth.RequireAdminHTTP()
	for _, rt := range routes {
		var h http.Handler = rt.handler
		if rt.admin {
			h = adminMiddleware(h)
		}
		mux.Handle(rt.pattern, authMiddleware(h))
	}
	g.logger.Info("HTTP auth middleware enabled")
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

// queryInt parses a positive integer query parameter, returning def when absent or invalid.
func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// statusForError maps domain errors to HTTP statuses and client-safe messages.
func statusForError(err error) (int, string) {
	var validation *supervisor.ValidationError
	switch {
	case errors.Is(err, agent.ErrAgentNotFound):
		return http.StatusNotFound, agent.ErrAgentNotFound.Error()
	case errors.Is(err, agent.ErrSkillNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, agent.ErrAgentStopped):
		return http.StatusConflict, agent.ErrAgentStopped.Error()
	case errors.Is(err, agent.ErrAgentExists), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict, err.Error()
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.Is(err, errTenantMismatch):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, agent.ErrInvalidAgent),
		errors.Is(err, agent.ErrSkillTemplateNotFound),
		errors.Is(err, agent.ErrNoAgents),
		errors.Is(err, sandbox.ErrPathEscape),
		errors.Is(err, ledger.ErrMissingFields),
		errors.Is(err, ledger.ErrUnknownType),
		errors.Is(err, supervisor.ErrCircularDependency):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, llm.ErrNoAPIKey):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError logs unexpected failures and writes the mapped error response.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusForError(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	g.sendJSONError(w, status, msg)
}

// resolveTenant picks the tenant of a request that may also name one in its body.
// A token's tenant claim always wins; naming another tenant is an error.
func resolveTenant(r *http.Request, bodyTenant string) (string, error) {
	if a := auth.FromContext(r.Context()); a != nil && a.TenantID != "" {
		if bodyTenant != "" && bodyTenant != a.TenantID {
			return "", fmt.Errorf("%w: %s", errTenantMismatch, bodyTenant)
		}
		return a.TenantID, nil
	}
	if bodyTenant != "" {
		return bodyTenant, nil
	}
	return auth.TenantFromRequest(r), nil
}

// agentForRequest loads the {id} agent, hiding agents of other tenants.
func (g *Gateway) agentForRequest(r *http.Request) (*store.AgentRecord, error) {
	rec, err := g.hub.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if rec.TenantID != auth.TenantFromRequest(r) {
		return nil, agent.ErrAgentNotFound
	}
	return rec, nil
}

// handleUsageStats handles GET /api/stats/usage?agent_id=&since=&until= (RFC3339 times).
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUsageFilter(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := g.usage.Stats(r.Context(), filter)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

func parseUsageFilter(r *http.Request) (router.StatsFilter, error) {
	q := r.URL.Query()
	f := router.StatsFilter{TenantID: auth.TenantFromRequest(r), AgentID: q.Get("agent_id")}
	var err error
	if f.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return f, fmt.Errorf("invalid since: %w", err)
	}
	if f.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return f, fmt.Errorf("invalid until: %w", err)
	}
	return f, nil
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
