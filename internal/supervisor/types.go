// ABOUTME: Plan, subtask, health and master run types for hierarchical orchestration
// ABOUTME: Config carries the per-subtask timeout and plan size cap

package supervisor

import (
	"time"

	"github.com/Arcetro/talkative/internal/store"
)

// Strategy is how a plan's subtasks are executed. Only sequential runs today.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// SubTaskStatus is the lifecycle of one subtask.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskDelegated SubTaskStatus = "delegated"
	SubTaskCompleted SubTaskStatus = "completed"
	SubTaskFailed    SubTaskStatus = "failed"
	SubTaskSkipped   SubTaskStatus = "skipped"
)

// SubTask is one unit of a plan, handled by exactly one agent.
type SubTask struct {
	ID            string        `json:"id"`
	Description   string        `json:"description"`
	TargetAgentID string        `json:"target_agent_id"`
	Dependencies  []string      `json:"dependencies"`
	Priority      int           `json:"priority"` // lower runs first
	Status        SubTaskStatus `json:"status"`
	Result        string        `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	DelegatedAt   *time.Time    `json:"delegated_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	DurationMS    int64         `json:"duration_ms,omitempty"`
}

// TaskPlan is a decomposed user request.
type TaskPlan struct {
	PlanID          string     `json:"plan_id"`
	TenantID        string     `json:"tenant_id"`
	OriginalRequest string     `json:"original_request"`
	Subtasks        []*SubTask `json:"subtasks"`
	Strategy        Strategy   `json:"strategy"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedBy       string     `json:"created_by"`
}

// HealthStatus classifies an agent.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
	HealthUnknown  HealthStatus = "unknown"
)

// AgentHealthStatus summarizes how an agent has been doing.
type AgentHealthStatus struct {
	AgentID           string       `json:"agent_id"`
	Name              string       `json:"name"`
	Status            HealthStatus `json:"status"`
	SuccessRate       float64      `json:"success_rate"`
	AvgResponseTimeMS float64      `json:"avg_response_time_ms"`
	LastError         string       `json:"last_error,omitempty"`
	LastActive        *time.Time   `json:"last_active,omitempty"`
	TotalInvocations  int          `json:"total_invocations"`
}

// Overall workflow outcomes.
const (
	WorkflowCompleted = "completed"
	WorkflowPartial   = "partial"
	WorkflowFailed    = "failed"
)

// WorkflowHealth is the health snapshot taken when a plan finishes.
type WorkflowHealth struct {
	PlanID            string              `json:"plan_id"`
	TotalSubtasks     int                 `json:"total_subtasks"`
	Completed         int                 `json:"completed"`
	Failed            int                 `json:"failed"`
	OverallDurationMS int64               `json:"overall_duration_ms"`
	AgentHealth       []AgentHealthStatus `json:"agent_health"`
	OverallStatus     string              `json:"overall_status"`
}

// MasterRunRecord is the outcome of executing a plan.
type MasterRunRecord struct {
	store.RunRecord
	IsMaster       bool            `json:"is_master"`
	PlanID         string          `json:"plan_id"`
	ChildRunIDs    []string        `json:"child_run_ids"`
	PlanSnapshot   *TaskPlan       `json:"plan_snapshot"`
	HealthSnapshot *WorkflowHealth `json:"health_snapshot,omitempty"`
	FinalSummary   string          `json:"final_summary,omitempty"`
}

// Config limits plan execution.
type Config struct {
	SubtaskTimeout  time.Duration
	MaxSubtasks     int
	EvaluateResults bool // record an evaluate_result command per completed subtask
}

// Defaults for Config.
const (
	DefaultSubtaskTimeout = 60 * time.Second
	DefaultMaxSubtasks    = 10
)

func (c Config) withDefaults() Config {
	if c.SubtaskTimeout <= 0 {
		c.SubtaskTimeout = DefaultSubtaskTimeout
	}
	if c.MaxSubtasks <= 0 {
		c.MaxSubtasks = DefaultMaxSubtasks
	}
	return c
}
