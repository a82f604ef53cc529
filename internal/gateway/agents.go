// ABOUTME: HTTP handlers for the agent registry: lifecycle, messages, skills, prompts and routing
// ABOUTME: Agent routes are tenant-scoped; agents of another tenant read as not found

package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/store"
)

// IdempotencyKeyHeader marks a message request as safe to retry.
const (
	IdempotencyKeyHeader = "Idempotency-Key"
	replayHeader         = "Idempotent-Replay"
	maxIdempotencyKeyLen = 100
)

// cachedReply is a message response remembered under an idempotency key.
type cachedReply struct {
	status int
	body   []byte
}

// CreateAgentRequest is the JSON body for POST /api/agents.
type CreateAgentRequest struct {
	ID        string `json:"id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Name      string `json:"name"`
	Workspace string `json:"workspace,omitempty"`
	Template  string `json:"template,omitempty"`
}

// SendMessageRequest is the JSON body for POST /api/agents/{id}/messages.
type SendMessageRequest struct {
	Message string `json:"message"`
}

// RouteRequest is the JSON body for POST /api/route.
type RouteRequest struct {
	Message string `json:"message"`
	AgentID string `json:"agentId,omitempty"`
}

// AttachSkillRequest is the JSON body for POST /api/agents/{id}/skills.
// SkillName is accepted as an alias of Template.
type AttachSkillRequest struct {
	Template  string `json:"template,omitempty"`
	SkillName string `json:"skillName,omitempty"`
}

// handleListAgents handles GET /api/agents?status=running|stopped.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := store.AgentFilter{
		TenantID: auth.TenantFromRequest(r),
		Status:   store.AgentStatus(r.URL.Query().Get("status")),
	}
	agents, err := g.hub.ListAgents(r.Context(), filter)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []*store.AgentRecord{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenant, err := resolveTenant(r, req.TenantID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	rec, err := g.hub.CreateAgent(r.Context(), agent.CreateInput{
		ID:        req.ID,
		TenantID:  tenant,
		Name:      req.Name,
		Workspace: req.Workspace,
		Template:  req.Template,
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, rec)
}

func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	rec, err = g.hub.StartAgent(r.Context(), rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	rec, err = g.hub.StopAgent(r.Context(), rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

// handleHeartbeat handles POST /api/agents/{id}/heartbeat by running one heartbeat now.
func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	events, err := g.hub.RunHeartbeat(r.Context(), rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*store.AgentEvent{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleSendMessage handles POST /api/agents/{id}/messages.
// With an Idempotency-Key header, a successful reply is replayed for the same
// tenant, agent and key instead of handling the message again.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	tenant := auth.TenantFromRequest(r)
	agentID := r.PathValue("id")

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		g.sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
		return
	}
	cacheKey := tenant + "|" + agentID + "|" + key
	if key != "" {
		if cached, ok := g.replies.Get(cacheKey); ok {
			g.logger.Debug("replaying idempotent message", "agent_id", agentID, "idempotency_key", key)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(replayHeader, "true")
			w.WriteHeader(cached.status)
			_, _ = w.Write(cached.body)
			return
		}
	}

	var req SendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := g.hub.SendMessage(r.Context(), agentID, req.Message, tenant)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(resp); err != nil {
		g.writeError(w, r, err)
		return
	}
	if key != "" {
		g.replies.Put(cacheKey, &cachedReply{status: http.StatusOK, body: buf.Bytes()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleRoute handles POST /api/route: the preferred agent when it exists,
// otherwise the classified one.
func (g *Gateway) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	target, resp, err := g.hub.RouteMessage(r.Context(), req.Message, req.AgentID, auth.TenantFromRequest(r))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"routedTo": target, "response": resp})
}

func (g *Gateway) handleListSkills(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	skills, err := g.hub.AgentSkills(r.Context(), rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if skills == nil {
		skills = []agent.Skill{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

func (g *Gateway) handleAttachSkill(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	var req AttachSkillRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	template := req.Template
	if template == "" {
		template = req.SkillName
	}
	if template == "" {
		g.sendJSONError(w, http.StatusBadRequest, "template is required")
		return
	}

	skills, err := g.hub.AttachSkill(r.Context(), rec.ID, template)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"skills": skills})
}

// handleSkillDoc handles GET /api/agents/{id}/skills/{skill}; ?format=html
// returns the rendered page instead of JSON.
func (g *Gateway) handleSkillDoc(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	doc, err := g.hub.SkillDoc(r.Context(), rec.ID, r.PathValue("skill"))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(doc.HTML))
		return
	}
	g.writeJSON(w, http.StatusOK, doc)
}

func (g *Gateway) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	names, err := g.hub.Templates()
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"templates": names})
}

func (g *Gateway) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	h, err := g.monitor.CheckAgentHealth(r.Context(), rec.ID, rec.TenantID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, h)
}

// CreatePromptRequest is the JSON body for POST /api/agents/{id}/prompts.
type CreatePromptRequest struct {
	Template string `json:"template"`
	Activate bool   `json:"activate"`
}

// RenderPromptRequest is the JSON body for POST /api/agents/{id}/prompts/render.
type RenderPromptRequest struct {
	Values map[string]string `json:"values"`
}

func (g *Gateway) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	versions, err := g.prompts.List(r.Context(), rec.TenantID, rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if versions == nil {
		versions = []*store.PromptVersion{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"prompts": versions})
}

func (g *Gateway) handleCreatePrompt(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	var req CreatePromptRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Template) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "template is required")
		return
	}
	pv, err := g.prompts.Create(r.Context(), rec.TenantID, rec.ID, req.Template, req.Activate)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, pv)
}

func (g *Gateway) handleActivatePrompt(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version <= 0 {
		g.sendJSONError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	pv, err := g.prompts.Activate(r.Context(), rec.TenantID, rec.ID, version)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, pv)
}

func (g *Gateway) handleRenderPrompt(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	var req RenderPromptRequest
	if err := decodeJSON(r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := g.prompts.Render(r.Context(), rec.TenantID, rec.ID, req.Values)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}
