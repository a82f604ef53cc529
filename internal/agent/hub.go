// ABOUTME: Hub is the registry of agent runtimes: creation, lifecycle, skills and message routing
// ABOUTME: Agent records persist through the AgentStore and are reloaded by Init

package agent

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
)

// DefaultEventLimit is the number of events Events returns when no limit is given.
const DefaultEventLimit = 50

// HubConfig configures a Hub.
type HubConfig struct {
	// WorkspaceRoot contains every agent workspace.
	WorkspaceRoot string
	// DefaultHeartbeat is the interval in minutes for new agents.
	DefaultHeartbeat int
	// Templates holds skill templates. Defaults to BuiltinTemplates.
	Templates fs.FS
	// OnStatusChange is called after an agent starts or stops.
	OnStatusChange func(agentID string, status store.AgentStatus)
}

// CreateInput describes a new agent.
type CreateInput struct {
	ID        string `json:"id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Name      string `json:"name"`
	Workspace string `json:"workspace,omitempty"`
	Template  string `json:"template,omitempty"`
}

// Summary is the view of an agent the planner works from.
type Summary struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Status store.AgentStatus `json:"status"`
	Skills []string          `json:"skills"`
}

// Hub owns every agent runtime.
type Hub struct {
	mu       sync.RWMutex
	runtimes map[string]*Runtime

	agents store.AgentStore
	deps   Deps
	cfg    HubConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewHub creates a Hub. Agents are not loaded until Init.
func NewHub(agents store.AgentStore, deps Deps, cfg HubConfig) *Hub {
	deps = deps.withDefaults()
	if cfg.Templates == nil {
		cfg.Templates = BuiltinTemplates()
	}
	if cfg.DefaultHeartbeat <= 0 {
		cfg.DefaultHeartbeat = DefaultHeartbeatMinutes
	}
	return &Hub{
		runtimes: make(map[string]*Runtime),
		agents:   agents,
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "hub"),
		now:      time.Now,
	}
}

// Init loads persisted agents and restarts the ones that were running.
func (h *Hub) Init(ctx context.Context) error {
	if err := os.MkdirAll(h.cfg.WorkspaceRoot, 0o755); err != nil {
		return fmt.Errorf("creating workspace root: %w", err)
	}
	records, err := h.agents.ListAgents(ctx, store.AgentFilter{})
	if err != nil {
		return fmt.Errorf("loading agents: %w", err)
	}

	for _, rec := range records {
		rt := h.register(*rec)
		if err := rt.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing agent %s: %w", rec.ID, err)
		}
		if rec.Status == store.AgentRunning {
			if err := rt.Start(ctx); err != nil {
				return fmt.Errorf("starting agent %s: %w", rec.ID, err)
			}
		}
		h.notify(rt)
	}
	h.logger.Info("agents loaded", "count", len(records))
	return nil
}

func (h *Hub) register(rec store.AgentRecord) *Runtime {
	rt := NewRuntime(rec, h.deps, h.agents.SaveAgent)
	h.mu.Lock()
	h.runtimes[rec.ID] = rt
	h.mu.Unlock()
	return rt
}

func (h *Hub) runtime(id string) (*Runtime, error) {
	h.mu.RLock()
	rt, ok := h.runtimes[id]
	h.mu.RUnlock()
	if !ok {
		return nil, ErrAgentNotFound
	}
	return rt, nil
}

func (h *Hub) notify(rt *Runtime) {
	if h.cfg.OnStatusChange != nil {
		rec := rt.Record()
		h.cfg.OnStatusChange(rec.ID, rec.Status)
	}
}

// CreateAgent registers a stopped agent, prepares its workspace and
// optionally attaches a skill template.
func (h *Hub) CreateAgent(ctx context.Context, in CreateInput) (*store.AgentRecord, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = shortID()
	}
	if id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: id %q", ErrInvalidAgent, id)
	}
	tenant := strings.TrimSpace(in.TenantID)
	if tenant == "" {
		tenant = DefaultTenant
	}

	workspace := strings.TrimSpace(in.Workspace)
	if workspace == "" {
		workspace = id
	}
	workspace, err := sandbox.EnsureInside(h.cfg.WorkspaceRoot, workspace)
	if err != nil {
		return nil, err
	}
	if root, _ := filepath.Abs(h.cfg.WorkspaceRoot); workspace == root {
		return nil, fmt.Errorf("%w: workspace cannot be the workspace root", sandbox.ErrPathEscape)
	}

	h.mu.Lock()
	if _, exists := h.runtimes[id]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAgentExists, id)
	}
	now := h.now().UTC()
	rec := store.AgentRecord{
		ID:               id,
		AgentID:          id,
		TenantID:         tenant,
		Name:             name,
		Workspace:        workspace,
		Status:           store.AgentStopped,
		HeartbeatMinutes: h.cfg.DefaultHeartbeat,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	rt := NewRuntime(rec, h.deps, h.agents.SaveAgent)
	h.runtimes[id] = rt
	h.mu.Unlock()

	if err := h.agents.SaveAgent(ctx, &rec); err != nil {
		h.unregister(id)
		return nil, fmt.Errorf("saving agent: %w", err)
	}
	if err := rt.Initialize(ctx); err != nil {
		h.rollbackCreate(ctx, id)
		return nil, err
	}
	if in.Template != "" {
		if _, err := h.AttachSkill(ctx, id, in.Template); err != nil {
			h.rollbackCreate(ctx, id)
			return nil, err
		}
	}
	if _, err := rt.emit(ctx, store.AgentEventCreated, fmt.Sprintf("Agent %s created", name),
		map[string]any{"workspace": workspace}); err != nil {
		return nil, err
	}

	h.logger.Info("agent created", "agent_id", id, "tenant_id", tenant, "template", in.Template)
	h.notify(rt)
	out := rt.Record()
	return &out, nil
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	delete(h.runtimes, id)
	h.mu.Unlock()
}

// rollbackCreate undoes a partially created agent so the id can be reused.
func (h *Hub) rollbackCreate(ctx context.Context, id string) {
	h.unregister(id)
	if err := h.agents.DeleteAgent(context.WithoutCancel(ctx), id); err != nil {
		h.logger.Warn("rolling back agent creation", "agent_id", id, "error", err)
	}
}

// StartAgent starts an agent's heartbeat loop.
func (h *Hub) StartAgent(ctx context.Context, id string) (*store.AgentRecord, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	if err := rt.Start(ctx); err != nil {
		return nil, err
	}
	h.notify(rt)
	rec := rt.Record()
	return &rec, nil
}

// StopAgent stops an agent's heartbeat loop.
func (h *Hub) StopAgent(ctx context.Context, id string) (*store.AgentRecord, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	if err := rt.Stop(ctx); err != nil {
		return nil, err
	}
	h.notify(rt)
	rec := rt.Record()
	return &rec, nil
}

// GetAgent returns the live record of an agent.
func (h *Hub) GetAgent(ctx context.Context, id string) (*store.AgentRecord, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	rec := rt.Record()
	return &rec, nil
}

// ListAgents returns persisted agents in registration order.
func (h *Hub) ListAgents(ctx context.Context, filter store.AgentFilter) ([]*store.AgentRecord, error) {
	agents, err := h.agents.ListAgents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return agents, nil
}

// AvailableAgents summarizes the agents of a tenant for planning.
// An empty tenantID lists every agent.
func (h *Hub) AvailableAgents(ctx context.Context, tenantID string) ([]Summary, error) {
	agents, err := h.ListAgents(ctx, store.AgentFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(agents))
	for _, a := range agents {
		s := Summary{ID: a.ID, Name: a.Name, Status: a.Status, Skills: []string{}}
		if rt, err := h.runtime(a.ID); err == nil {
			for _, skill := range rt.Skills() {
				s.Skills = append(s.Skills, skill.ID)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// AgentSkills rescans and returns an agent's skills.
func (h *Hub) AgentSkills(ctx context.Context, id string) ([]Skill, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	return rt.RefreshSkills()
}

// SkillDoc returns the rendered SKILL.md of one attached skill.
func (h *Hub) SkillDoc(ctx context.Context, id, skillID string) (*SkillDoc, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	return LoadSkillDoc(rt.Record().Workspace, skillID)
}

// Templates lists the skill templates that AttachSkill accepts.
func (h *Hub) Templates() ([]string, error) {
	return TemplateNames(h.cfg.Templates)
}

// AttachSkill copies a skill template into the agent workspace and seeds
// its sample inputs.
func (h *Hub) AttachSkill(ctx context.Context, id, template string) ([]Skill, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	workspace := rt.Record().Workspace
	if err := copyTemplate(h.cfg.Templates, template, workspace); err != nil {
		return nil, err
	}
	if err := seedWorkspace(template, workspace); err != nil {
		return nil, err
	}
	if _, err := rt.emit(ctx, store.AgentEventSkillAttached, "Skill attached: "+template,
		map[string]any{"skill": template}); err != nil {
		return nil, err
	}
	h.logger.Info("skill attached", "agent_id", id, "skill", template)
	return rt.RefreshSkills()
}

// Events returns the newest events of an agent, oldest first.
func (h *Hub) Events(ctx context.Context, id string, limit int) ([]*store.AgentEvent, error) {
	if _, err := h.runtime(id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	events, err := h.deps.Events.RecentAgentEvents(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

// SendMessage hands text to a running agent. A non-empty tenantID must match
// the agent's tenant; a mismatch reads as not found.
func (h *Hub) SendMessage(ctx context.Context, id, text, tenantID string) (*MessageResponse, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	rec := rt.Record()
	if tenantID != "" && tenantID != rec.TenantID {
		return nil, ErrAgentNotFound
	}
	if rec.Status != store.AgentRunning {
		return nil, ErrAgentStopped
	}
	return rt.HandleMessage(ctx, text)
}

// RunHeartbeat runs an agent's heartbeat now.
func (h *Hub) RunHeartbeat(ctx context.Context, id string) ([]*store.AgentEvent, error) {
	rt, err := h.runtime(id)
	if err != nil {
		return nil, err
	}
	return rt.RunHeartbeat(ctx, ReasonManual)
}

// ClassifyAgent picks the tenant's agent best suited to text, or nil when
// the tenant has none. An empty tenantID considers every agent.
func (h *Hub) ClassifyAgent(ctx context.Context, text, tenantID string) (*store.AgentRecord, error) {
	agents, err := h.ListAgents(ctx, store.AgentFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return Classify(text, agents), nil
}

// RouteMessage sends text to preferredID when it exists, otherwise to the
// classified agent. It returns the id of the agent that handled it.
func (h *Hub) RouteMessage(ctx context.Context, text, preferredID, tenantID string) (string, *MessageResponse, error) {
	var target string
	if preferredID != "" {
		if _, err := h.runtime(preferredID); err == nil {
			target = preferredID
		}
	}
	if target == "" {
		selected, err := h.ClassifyAgent(ctx, text, tenantID)
		if err != nil {
			return "", nil, err
		}
		if selected == nil {
			return "", nil, ErrNoAgents
		}
		target = selected.ID
	}

	resp, err := h.SendMessage(ctx, target, text, tenantID)
	if err != nil {
		return target, nil, err
	}
	return target, resp, nil
}

// Close stops every heartbeat ticker. Persisted statuses are left as they are
// so Init restarts the same agents.
func (h *Hub) Close() {
	h.mu.RLock()
	runtimes := make([]*Runtime, 0, len(h.runtimes))
	for _, rt := range h.runtimes {
		runtimes = append(runtimes, rt)
	}
	h.mu.RUnlock()

	for _, rt := range runtimes {
		rt.Close()
	}
}
