// ABOUTME: Agent package errors, collaborator interfaces and message response types
// ABOUTME: Runtimes receive their stores and services through the interfaces declared here

package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Arcetro/talkative/internal/interpreter"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/router"
	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
	"github.com/Arcetro/talkative/internal/workflow"
)

var (
	// ErrAgentNotFound indicates the agent does not exist or belongs to another tenant.
	ErrAgentNotFound = errors.New("Agent not found")

	// ErrAgentStopped indicates a message was sent to a stopped agent.
	ErrAgentStopped = errors.New("Agent is stopped. Start it before sending messages.")

	// ErrInvalidAgent indicates a create request with a missing name or unusable id.
	ErrInvalidAgent = errors.New("invalid agent")

	// ErrAgentExists indicates an agent with the requested id is already registered.
	ErrAgentExists = errors.New("agent already exists")

	// ErrSkillTemplateNotFound indicates an unknown skill template name.
	ErrSkillTemplateNotFound = errors.New("skill template not found")

	// ErrSkillNotFound indicates the agent has no attached skill with that id.
	ErrSkillNotFound = errors.New("skill not found")

	// ErrNoAgents indicates routing found no agent at all.
	ErrNoAgents = errors.New("No agents available to route this message")
)

// DefaultTenant is assigned to agents created without a tenant.
const DefaultTenant = "tenant-default"

// Defaults for runtime limits.
const (
	DefaultHeartbeatMinutes = 30
	DefaultContextMaxTokens = 700
	DefaultRecentEvents     = 8

	// Timelines are pruned to pruneKeep events once they exceed pruneThreshold.
	pruneThreshold = 500
	pruneKeep      = 200
)

// Action types returned in MessageResponse.Actions.
const (
	ActionPaused           = "agent.paused"
	ActionApprovalRequired = "human_approval_required"
	ActionHeartbeat        = "heartbeat.executed"
	ActionToolExecuted     = "tool.executed"
	ActionToolFailed       = "tool.failed"
)

// RunLedger is the part of the run ledger a runtime needs.
type RunLedger interface {
	ActiveRunForAgent(ctx context.Context, agentID string) (*store.RunRecord, error)
	MirrorAgentEvent(ctx context.Context, in ledger.MirrorInput) (*store.Event, error)
}

// ToolRunner executes workspace commands.
type ToolRunner interface {
	Run(ctx context.Context, workspace, commandLine string) (*sandbox.Result, error)
}

// PromptSource supplies the active prompt template of an agent.
type PromptSource interface {
	Active(ctx context.Context, tenantID, agentID string) (*store.PromptVersion, error)
	Ensure(ctx context.Context, tenantID, agentID, template string) (*store.PromptVersion, error)
}

// ApprovalCreator records human approval requests.
type ApprovalCreator interface {
	CreateApproval(ctx context.Context, approval *store.Approval) error
}

// UsageLogger accounts for each handled message.
type UsageLogger interface {
	LogUsage(ctx context.Context, in router.UsageInput) (*store.RouterUsage, error)
}

// Publisher fans emitted events out to live subscribers.
type Publisher interface {
	Publish(event *store.AgentEvent)
}

// Deps are the collaborators shared by every runtime of a hub.
// Events and Tools are required; the rest may be nil.
type Deps struct {
	Events    store.AgentEventStore
	Ledger    RunLedger
	Tools     ToolRunner
	Prompts   PromptSource
	Approvals ApprovalCreator
	Usage     UsageLogger
	Publisher Publisher
	Logger    *slog.Logger

	ContextMaxTokens int
	RecentEvents     int

	// HeartbeatUnit is the length of one heartbeat "minute". Defaults to time.Minute.
	HeartbeatUnit time.Duration
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.ContextMaxTokens <= 0 {
		d.ContextMaxTokens = DefaultContextMaxTokens
	}
	if d.RecentEvents <= 0 {
		d.RecentEvents = DefaultRecentEvents
	}
	if d.HeartbeatUnit <= 0 {
		d.HeartbeatUnit = time.Minute
	}
	return d
}

// Skill is a skill attached to an agent workspace.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
}

// Action is a side effect reported back to the sender of a message.
type Action struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// MessageResponse is the outcome of handling one message.
type MessageResponse struct {
	AgentID        string              `json:"agentId"`
	RunID          string              `json:"run_id,omitempty"`
	Reply          string              `json:"reply"`
	Interpretation *interpreter.Result `json:"interpretation,omitempty"`
	WorkflowPatch  *workflow.Patch     `json:"workflowPatch,omitempty"`
	Actions        []Action            `json:"actions"`
	Events         []*store.AgentEvent `json:"events"`
}
