// ABOUTME: Store interfaces and persisted data types for talkative
// ABOUTME: Covers runs, ledger entries, agents, agent events, approvals, usage and prompt versions

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an entity with the same key already exists
var ErrDuplicate = errors.New("already exists")

// RunStatus is the lifecycle status of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
	RunCompleted RunStatus = "completed"
)

// RunStatuses lists every RunStatus in declaration order.
var RunStatuses = []RunStatus{RunPending, RunRunning, RunPaused, RunCancelled, RunFailed, RunCompleted}

// SubagentState is the execution state of the agent working a run.
type SubagentState string

const (
	SubagentIdle    SubagentState = "idle"
	SubagentRunning SubagentState = "running"
	SubagentPaused  SubagentState = "paused"
	SubagentStopped SubagentState = "stopped"
	SubagentError   SubagentState = "error"
)

// SubagentStates lists every SubagentState in declaration order.
var SubagentStates = []SubagentState{SubagentIdle, SubagentRunning, SubagentPaused, SubagentStopped, SubagentError}

// CommandType names an intent recorded in the ledger.
type CommandType string

const (
	CommandStartTask       CommandType = "start_task"
	CommandPause           CommandType = "pause"
	CommandResume          CommandType = "resume"
	CommandCancel          CommandType = "cancel"
	CommandRequestDelegate CommandType = "request_delegate"
	CommandDelegateSubtask CommandType = "delegate_subtask"
	CommandEvaluateResult  CommandType = "evaluate_result"
)

// CommandTypes lists every CommandType.
var CommandTypes = []CommandType{
	CommandStartTask, CommandPause, CommandResume, CommandCancel,
	CommandRequestDelegate, CommandDelegateSubtask, CommandEvaluateResult,
}

// EventType names an outcome recorded in the ledger.
type EventType string

const (
	EventStateChanged      EventType = "state_changed"
	EventToolStarted       EventType = "tool_started"
	EventToolFinished      EventType = "tool_finished"
	EventMetricRecorded    EventType = "metric_recorded"
	EventErrorCompacted    EventType = "error_compacted"
	EventPlanCreated       EventType = "plan_created"
	EventSubtaskDelegated  EventType = "subtask_delegated"
	EventSubtaskCompleted  EventType = "subtask_completed"
	EventSubtaskFailed     EventType = "subtask_failed"
	EventSubtaskSkipped    EventType = "subtask_skipped"
	EventWorkflowEvaluated EventType = "workflow_evaluated"
	EventHealthCheck       EventType = "health_check"
)

// EventTypes lists every EventType.
var EventTypes = []EventType{
	EventStateChanged, EventToolStarted, EventToolFinished, EventMetricRecorded, EventErrorCompacted,
	EventPlanCreated, EventSubtaskDelegated, EventSubtaskCompleted, EventSubtaskFailed,
	EventSubtaskSkipped, EventWorkflowEvaluated, EventHealthCheck,
}

// Command is an immutable intent envelope.
type Command struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	AgentID   string         `json:"agent_id"`
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      CommandType    `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Event is an immutable outcome envelope.
type Event struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	AgentID   string         `json:"agent_id"`
	RunID     string         `json:"run_id"`
	CreatedAt time.Time      `json:"created_at"`
	Type      EventType      `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// StepKind distinguishes command steps from event steps in a run history.
type StepKind string

const (
	StepCommand StepKind = "command"
	StepEvent   StepKind = "event"
)

// RunStep is one entry of a run's append-only history.
type RunStep struct {
	ID      string         `json:"id"`
	Kind    StepKind       `json:"kind"`
	Name    string         `json:"name"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RunRecord is the materialized state of a run.
type RunRecord struct {
	RunID         string        `json:"run_id"`
	TenantID      string        `json:"tenant_id"`
	AgentID       string        `json:"agent_id"`
	Status        RunStatus     `json:"status"`
	SubagentState SubagentState `json:"subagent_state"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastError     string        `json:"last_error,omitempty"`
	Steps         []RunStep     `json:"steps"`
}

// RunFilter selects runs. Empty fields match everything.
type RunFilter struct {
	TenantID string
	AgentID  string
	Limit    int
}

// AgentStatus is whether an agent's heartbeat loop is active.
type AgentStatus string

const (
	AgentRunning AgentStatus = "running"
	AgentStopped AgentStatus = "stopped"
)

// AgentRecord is a registered agent.
type AgentRecord struct {
	ID               string      `json:"id"`
	AgentID          string      `json:"agent_id"`
	TenantID         string      `json:"tenant_id"`
	Name             string      `json:"name"`
	Workspace        string      `json:"workspace"`
	Status           AgentStatus `json:"status"`
	HeartbeatMinutes int         `json:"heartbeatMinutes"`
	LastHeartbeatAt  *time.Time  `json:"lastHeartbeatAt,omitempty"`
	LastMessageAt    *time.Time  `json:"lastMessageAt,omitempty"`
	LastMessage      string      `json:"lastMessage,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// AgentFilter selects agents. Empty fields match everything.
type AgentFilter struct {
	TenantID string
	Status   AgentStatus
}

// AgentEventType names an event in an agent's own timeline.
type AgentEventType string

const (
	AgentEventMessageReceived       AgentEventType = "MESSAGE_RECEIVED"
	AgentEventInterpretationResult  AgentEventType = "INTERPRETATION_RESULT"
	AgentEventWorkflowPatchProposed AgentEventType = "WORKFLOW_PATCH_PROPOSED"
	AgentEventWorkflowPatchApplied  AgentEventType = "WORKFLOW_PATCH_APPLIED"
	AgentEventToolRunStarted        AgentEventType = "TOOL_RUN_STARTED"
	AgentEventToolRunFinished       AgentEventType = "TOOL_RUN_FINISHED"
	AgentEventMetricRecorded        AgentEventType = "METRIC_RECORDED"
	AgentEventHeartbeatTick         AgentEventType = "HEARTBEAT_TICK"
	AgentEventCreated               AgentEventType = "AGENT_CREATED"
	AgentEventStarted               AgentEventType = "AGENT_STARTED"
	AgentEventStopped               AgentEventType = "AGENT_STOPPED"
	AgentEventSkillAttached         AgentEventType = "SKILL_ATTACHED"
)

// AgentEvent is one entry in an agent's timeline.
type AgentEvent struct {
	ID        string         `json:"id"`
	AgentRef  string         `json:"agentId"`
	AgentID   string         `json:"agent_id"`
	TenantID  string         `json:"tenant_id"`
	Type      AgentEventType `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ApprovalStatus is the decision state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a human-in-the-loop approval request.
type Approval struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	AgentID     string         `json:"agent_id"`
	RunID       string         `json:"run_id"`
	Reason      string         `json:"reason"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// ApprovalFilter selects approvals. Empty fields match everything.
type ApprovalFilter struct {
	TenantID string
	AgentID  string
	Status   ApprovalStatus
	Limit    int
}

// RouterUsage records one model call attributed to an agent.
type RouterUsage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id"`
	Model     string    `json:"model"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	LatencyMS int64     `json:"latency_ms"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageFilter specifies criteria for usage aggregation
type UsageFilter struct {
	TenantID *string
	AgentID  *string
	Since    *time.Time
	Until    *time.Time
}

// UsageStats contains aggregated usage statistics
type UsageStats struct {
	TotalCalls   int64   `json:"total_calls"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// PromptVersion is one revision of an agent's prompt template.
type PromptVersion struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id"`
	Version   int       `json:"version"`
	Template  string    `json:"template"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerStore persists ledger envelopes together with the run they produce.
// SaveCommand and SaveEvent write the envelope and the run atomically.
type LedgerStore interface {
	SaveCommand(ctx context.Context, cmd *Command, run *RunRecord) error
	SaveEvent(ctx context.Context, evt *Event, run *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error)
	LatestRunForAgent(ctx context.Context, agentID string, statuses ...RunStatus) (*RunRecord, error)
}

// AgentStore persists the agent registry.
type AgentStore interface {
	SaveAgent(ctx context.Context, agent *AgentRecord) error
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]*AgentRecord, error)
	DeleteAgent(ctx context.Context, id string) error
}

// AgentEventStore persists per-agent timelines.
type AgentEventStore interface {
	SaveAgentEvent(ctx context.Context, evt *AgentEvent) error
	RecentAgentEvents(ctx context.Context, agentRef string, limit int) ([]*AgentEvent, error)
	CountAgentEvents(ctx context.Context, agentRef string) (int, error)
	PruneAgentEvents(ctx context.Context, agentRef string, keep int) (int64, error)
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	CreateApproval(ctx context.Context, approval *Approval) error
	GetApproval(ctx context.Context, id string) (*Approval, error)
	DecideApproval(ctx context.Context, id, decidedBy string, status ApprovalStatus, note string) (*Approval, error)
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error)
}

// UsageStore persists router usage rows.
type UsageStore interface {
	SaveUsage(ctx context.Context, usage *RouterUsage) error
	GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error)
}

// PromptStore persists prompt template versions.
type PromptStore interface {
	GetActivePrompt(ctx context.Context, tenantID, agentID string) (*PromptVersion, error)
	CreatePromptVersion(ctx context.Context, pv *PromptVersion, activate bool) error
	ActivatePromptVersion(ctx context.Context, tenantID, agentID string, version int) (*PromptVersion, error)
	ListPromptVersions(ctx context.Context, tenantID, agentID string) ([]*PromptVersion, error)
}

// Store is the full persistence surface.
type Store interface {
	LedgerStore
	AgentStore
	AgentEventStore
	ApprovalStore
	UsageStore
	PromptStore
	Close() error
}
