// ABOUTME: Executes task plans by delegating each subtask to an agent under a timeout
// ABOUTME: Fail-fast: the first failed subtask causes every later one to be skipped

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/store"
)

// MasterAgentID is the ledger agent id of every master run.
const MasterAgentID = "master-orchestrator"

// Result preview limits.
const (
	resultPreviewChars = 500
	summaryChars       = 200
)

// Delegator hands a subtask to an agent. The agent Hub satisfies it.
type Delegator interface {
	SendMessage(ctx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error)
}

// RunLedger records master run commands and events.
type RunLedger interface {
	AppendCommand(ctx context.Context, in ledger.CommandInput) (*store.Command, error)
	AppendEvent(ctx context.Context, in ledger.EventInput) (*store.Event, error)
}

// Supervisor executes plans.
type Supervisor struct {
	ledger    RunLedger
	delegator Delegator
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Supervisor.
func New(l RunLedger, d Delegator, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		ledger:    l,
		delegator: d,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "supervisor"),
		now:       time.Now,
	}
}

// masterRun binds ledger writes to one master run. Writes outlive the
// caller's context so a cancelled request still closes out the run.
type masterRun struct {
	s        *Supervisor
	tenantID string
	runID    string
}

func (m *masterRun) event(ctx context.Context, typ store.EventType, message string, payload map[string]any) error {
	_, err := m.s.ledger.AppendEvent(context.WithoutCancel(ctx), ledger.EventInput{
		TenantID: m.tenantID, AgentID: MasterAgentID, RunID: m.runID,
		Type: typ, Message: message, Payload: payload,
	})
	return err
}

func (m *masterRun) command(ctx context.Context, typ store.CommandType, payload map[string]any) error {
	_, err := m.s.ledger.AppendCommand(context.WithoutCancel(ctx), ledger.CommandInput{
		TenantID: m.tenantID, AgentID: MasterAgentID, RunID: m.runID,
		Type: typ, Payload: payload,
	})
	return err
}

// ExecutePlan runs plan's subtasks in dependency order. Subtask failures are
// recorded in the returned record; only ordering and ledger faults return an
// error. The plan's subtasks are updated in place.
func (s *Supervisor) ExecutePlan(ctx context.Context, plan *TaskPlan) (*MasterRunRecord, error) {
	if plan.Strategy != StrategySequential {
		s.logger.Warn("only sequential execution is supported, forcing it", "plan_id", plan.PlanID, "strategy", plan.Strategy)
		plan.Strategy = StrategySequential
	}
	ordered, err := OrderSubtasks(plan.Subtasks)
	if err != nil {
		return nil, err
	}

	started := s.now()
	run := &masterRun{s: s, tenantID: plan.TenantID, runID: "master-" + shortID()}
	logger := s.logger.With("plan_id", plan.PlanID, "run_id", run.runID)

	if err := run.event(ctx, store.EventPlanCreated,
		fmt.Sprintf("Plan %s created with %d subtask(s)", plan.PlanID, len(plan.Subtasks)),
		map[string]any{"plan_id": plan.PlanID, "subtask_count": len(plan.Subtasks)}); err != nil {
		return nil, err
	}

	childRunIDs := []string{}
	aborted := false
	for _, st := range ordered {
		if aborted {
			st.Status = SubTaskSkipped
			if err := run.event(ctx, store.EventSubtaskSkipped,
				fmt.Sprintf("Subtask %s skipped (previous failure)", st.ID),
				map[string]any{"subtask_id": st.ID, "plan_id": plan.PlanID}); err != nil {
				return nil, err
			}
			continue
		}

		childRunID, err := s.delegate(ctx, run, plan, st)
		if err != nil {
			return nil, err
		}
		if st.Status == SubTaskFailed {
			logger.Warn("subtask failed", "subtask_id", st.ID, "error", st.Error)
			aborted = true
			continue
		}
		childRunIDs = append(childRunIDs, childRunID)
	}

	health := BuildWorkflowHealth(plan)
	if err := run.event(ctx, store.EventHealthCheck,
		fmt.Sprintf("Health snapshot for %s: %d agent(s)", plan.PlanID, len(health.AgentHealth)),
		map[string]any{"plan_id": plan.PlanID, "agent_health": healthPayload(health.AgentHealth)}); err != nil {
		return nil, err
	}

	duration := s.now().Sub(started).Milliseconds()
	if err := run.event(ctx, store.EventWorkflowEvaluated,
		fmt.Sprintf("Workflow %s %s: %d/%d completed", plan.PlanID, health.OverallStatus, health.Completed, health.TotalSubtasks),
		map[string]any{
			"plan_id":        plan.PlanID,
			"overall_status": health.OverallStatus,
			"completed":      health.Completed,
			"failed":         health.Failed,
			"duration_ms":    duration,
		}); err != nil {
		return nil, err
	}

	status := store.RunFailed
	if health.OverallStatus == WorkflowCompleted {
		status = store.RunCompleted
	}
	logger.Info("plan executed", "status", health.OverallStatus, "completed", health.Completed, "total", health.TotalSubtasks)

	return &MasterRunRecord{
		RunRecord: store.RunRecord{
			RunID:         run.runID,
			TenantID:      plan.TenantID,
			AgentID:       MasterAgentID,
			Status:        status,
			SubagentState: store.SubagentIdle,
			CreatedAt:     started.UTC(),
			UpdatedAt:     s.now().UTC(),
			Steps:         []store.RunStep{},
		},
		IsMaster:       true,
		PlanID:         plan.PlanID,
		ChildRunIDs:    childRunIDs,
		PlanSnapshot:   plan,
		HealthSnapshot: &health,
		FinalSummary:   summarize(plan),
	}, nil
}

// delegate runs one subtask and records its outcome. It returns the child
// run id on success; the error is reserved for ledger faults.
func (s *Supervisor) delegate(ctx context.Context, run *masterRun, plan *TaskPlan, st *SubTask) (string, error) {
	delegatedAt := s.now().UTC()
	st.Status = SubTaskDelegated
	st.DelegatedAt = &delegatedAt

	if err := run.command(ctx, store.CommandDelegateSubtask, map[string]any{
		"subtask_id":      st.ID,
		"target_agent_id": st.TargetAgentID,
		"description":     st.Description,
		"plan_id":         plan.PlanID,
	}); err != nil {
		return "", err
	}
	if err := run.event(ctx, store.EventSubtaskDelegated,
		fmt.Sprintf("Subtask %s delegated to %s", st.ID, st.TargetAgentID),
		map[string]any{"subtask_id": st.ID, "target_agent_id": st.TargetAgentID}); err != nil {
		return "", err
	}

	resp, callErr := s.callWithTimeout(ctx, st, plan.TenantID)

	completedAt := s.now().UTC()
	st.CompletedAt = &completedAt
	st.DurationMS = completedAt.Sub(delegatedAt).Milliseconds()

	if callErr != nil {
		st.Status = SubTaskFailed
		st.Error = callErr.Error()
		return "", run.event(ctx, store.EventSubtaskFailed,
			fmt.Sprintf("Subtask %s failed: %s", st.ID, st.Error),
			map[string]any{
				"subtask_id":      st.ID,
				"target_agent_id": st.TargetAgentID,
				"error":           st.Error,
				"duration_ms":     st.DurationMS,
			})
	}

	if resp == nil {
		resp = &agent.MessageResponse{AgentID: st.TargetAgentID}
	}
	st.Status = SubTaskCompleted
	st.Result = resp.Reply
	if err := run.event(ctx, store.EventSubtaskCompleted,
		fmt.Sprintf("Subtask %s completed by %s", st.ID, st.TargetAgentID),
		map[string]any{
			"subtask_id":      st.ID,
			"target_agent_id": st.TargetAgentID,
			"duration_ms":     st.DurationMS,
			"result_preview":  preview(resp.Reply, resultPreviewChars),
		}); err != nil {
		return "", err
	}

	if s.cfg.EvaluateResults {
		if err := run.command(ctx, store.CommandEvaluateResult, map[string]any{
			"subtask_id":     st.ID,
			"plan_id":        plan.PlanID,
			"result_preview": preview(resp.Reply, resultPreviewChars),
		}); err != nil {
			return "", err
		}
	}

	childRunID := resp.RunID
	if childRunID == "" {
		childRunID = resp.AgentID
	}
	return childRunID, nil
}

// callWithTimeout races the delegated call against the subtask timeout. On
// timeout the call's context is cancelled but the agent may still finish the
// step it was in.
func (s *Supervisor) callWithTimeout(ctx context.Context, st *SubTask, tenantID string) (*agent.MessageResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubtaskTimeout)
	defer cancel()

	type outcome struct {
		resp *agent.MessageResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := s.delegator.SendMessage(callCtx, st.TargetAgentID, st.Description, tenantID)
		done <- outcome{resp, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out.err = callCtx.Err()
	}
	if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("Timeout: subtask %s exceeded %dms", st.ID, s.cfg.SubtaskTimeout.Milliseconds())
	}
	return out.resp, out.err
}

// BuildWorkflowHealth aggregates per-agent results of a finished plan.
func BuildWorkflowHealth(plan *TaskPlan) WorkflowHealth {
	type tally struct {
		successes, failures int
		totalMS             int64
		lastError           string
	}
	var order []string
	tallies := map[string]*tally{}

	health := WorkflowHealth{PlanID: plan.PlanID, TotalSubtasks: len(plan.Subtasks), AgentHealth: []AgentHealthStatus{}}
	for _, st := range plan.Subtasks {
		health.OverallDurationMS += st.DurationMS
		switch st.Status {
		case SubTaskCompleted:
			health.Completed++
		case SubTaskFailed:
			health.Failed++
		case SubTaskPending, SubTaskSkipped:
			continue
		}

		t, ok := tallies[st.TargetAgentID]
		if !ok {
			t = &tally{}
			tallies[st.TargetAgentID] = t
			order = append(order, st.TargetAgentID)
		}
		switch st.Status {
		case SubTaskCompleted:
			t.successes++
		case SubTaskFailed:
			t.failures++
			t.lastError = st.Error
		}
		t.totalMS += st.DurationMS
	}

	for _, id := range order {
		t := tallies[id]
		total := t.successes + t.failures
		status := HealthHealthy
		if t.failures > 0 {
			status = HealthDegraded
		}
		h := AgentHealthStatus{AgentID: id, Name: id, Status: status, LastError: t.lastError, TotalInvocations: total}
		if total > 0 {
			h.SuccessRate = float64(t.successes) / float64(total)
			h.AvgResponseTimeMS = float64(t.totalMS) / float64(total)
		}
		health.AgentHealth = append(health.AgentHealth, h)
	}

	switch {
	case health.Failed == 0 && health.Completed == health.TotalSubtasks:
		health.OverallStatus = WorkflowCompleted
	case health.Completed > 0:
		health.OverallStatus = WorkflowPartial
	default:
		health.OverallStatus = WorkflowFailed
	}
	return health
}

func healthPayload(agents []AgentHealthStatus) []any {
	out := make([]any, 0, len(agents))
	for _, a := range agents {
		out = append(out, map[string]any{
			"agent_id":     a.AgentID,
			"status":       string(a.Status),
			"success_rate": a.SuccessRate,
		})
	}
	return out
}

func summarize(plan *TaskPlan) string {
	var lines []string
	for _, st := range plan.Subtasks {
		if st.Status == SubTaskCompleted {
			lines = append(lines, fmt.Sprintf("[%s] %s", st.ID, preview(st.Result, summaryChars)))
		}
	}
	if len(lines) == 0 {
		return "No subtasks completed."
	}
	return strings.Join(lines, "\n")
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}
