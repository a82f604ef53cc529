// ABOUTME: Tests for plan execution against the in-memory ledger with a scripted delegator
// ABOUTME: Covers ordering, fail-fast skipping, timeouts and the master run history

package supervisor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/store"
)

type fakeDelegator struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	block   map[string]bool
	calls   []string
}

func newFakeDelegator() *fakeDelegator {
	return &fakeDelegator{replies: map[string]string{}, errs: map[string]error{}, block: map[string]bool{}}
}

func (f *fakeDelegator) SendMessage(ctx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentID)
	reply, err, block := f.replies[agentID], f.errs[agentID], f.block[agentID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &agent.MessageResponse{AgentID: agentID, RunID: "run-" + agentID, Reply: reply}, nil
}

func (f *fakeDelegator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *ledger.Ledger, *fakeDelegator) {
	t.Helper()
	l := ledger.New(store.NewMockStore(), nil)
	d := newFakeDelegator()
	return New(l, d, cfg, nil), l, d
}

func stepNames(run *store.RunRecord) []string {
	out := make([]string, 0, len(run.Steps))
	for _, s := range run.Steps {
		out = append(out, s.Name)
	}
	return out
}

func testPlan(subtasks ...*SubTask) *TaskPlan {
	for _, st := range subtasks {
		st.Status = SubTaskPending
	}
	return &TaskPlan{
		PlanID:          "plan-test",
		TenantID:        "tenant-a",
		OriginalRequest: "do things",
		Subtasks:        subtasks,
		Strategy:        StrategySequential,
		CreatedAt:       time.Now(),
		CreatedBy:       "test",
	}
}

func TestExecutePlan_AllSucceed(t *testing.T) {
	ctx := context.Background()
	sup, l, d := newTestSupervisor(t, Config{})
	d.replies["a1"] = "first done"
	d.replies["a2"] = "second done"

	plan := testPlan(
		&SubTask{ID: "st-2", Description: "send report", TargetAgentID: "a2", Dependencies: []string{"st-1"}, Priority: 1},
		&SubTask{ID: "st-1", Description: "collect invoices", TargetAgentID: "a1", Priority: 2},
	)

	rec, err := sup.ExecutePlan(ctx, plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"a1", "a2"}, d.Calls())
	assert.True(t, strings.HasPrefix(rec.RunID, "master-"))
	assert.Equal(t, MasterAgentID, rec.AgentID)
	assert.Equal(t, store.RunCompleted, rec.Status)
	assert.Equal(t, store.SubagentIdle, rec.SubagentState)
	assert.True(t, rec.IsMaster)
	assert.Equal(t, "plan-test", rec.PlanID)
	assert.Equal(t, []string{"run-a1", "run-a2"}, rec.ChildRunIDs)
	assert.Equal(t, "[st-2] second done\n[st-1] first done", rec.FinalSummary, "summary follows plan order")

	require.NotNil(t, rec.HealthSnapshot)
	assert.Equal(t, WorkflowCompleted, rec.HealthSnapshot.OverallStatus)
	assert.Equal(t, 2, rec.HealthSnapshot.Completed)
	assert.Len(t, rec.HealthSnapshot.AgentHealth, 2)

	for _, st := range plan.Subtasks {
		assert.Equal(t, SubTaskCompleted, st.Status)
		assert.NotNil(t, st.DelegatedAt)
		assert.NotNil(t, st.CompletedAt)
	}

	run, err := l.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", run.TenantID)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, []string{
		"plan_created",
		"delegate_subtask", "subtask_delegated", "subtask_completed",
		"delegate_subtask", "subtask_delegated", "subtask_completed",
		"health_check", "workflow_evaluated",
	}, stepNames(run))

	assert.Equal(t, "st-1", run.Steps[1].Payload["subtask_id"])
	assert.Equal(t, "a1", run.Steps[1].Payload["target_agent_id"])
	assert.Equal(t, "first done", run.Steps[3].Payload["result_preview"])
}

func TestExecutePlan_FailFast(t *testing.T) {
	ctx := context.Background()
	sup, l, d := newTestSupervisor(t, Config{})
	d.replies["a1"] = "ok"
	d.errs["a2"] = errors.New("boom")
	d.replies["a3"] = "never"

	plan := testPlan(
		&SubTask{ID: "st-1", TargetAgentID: "a1", Priority: 1},
		&SubTask{ID: "st-2", TargetAgentID: "a2", Priority: 2},
		&SubTask{ID: "st-3", TargetAgentID: "a3", Priority: 3},
	)

	rec, err := sup.ExecutePlan(ctx, plan)
	require.NoError(t, err, "subtask failures are data, not errors")

	assert.Equal(t, []string{"a1", "a2"}, d.Calls())
	assert.Equal(t, store.RunFailed, rec.Status)
	assert.Equal(t, []string{"run-a1"}, rec.ChildRunIDs)
	assert.Equal(t, "[st-1] ok", rec.FinalSummary)

	assert.Equal(t, SubTaskCompleted, plan.Subtasks[0].Status)
	assert.Equal(t, SubTaskFailed, plan.Subtasks[1].Status)
	assert.Equal(t, "boom", plan.Subtasks[1].Error)
	assert.Equal(t, SubTaskSkipped, plan.Subtasks[2].Status)

	h := rec.HealthSnapshot
	assert.Equal(t, WorkflowPartial, h.OverallStatus)
	assert.Equal(t, 1, h.Completed)
	assert.Equal(t, 1, h.Failed)
	require.Len(t, h.AgentHealth, 2)
	assert.Equal(t, HealthHealthy, h.AgentHealth[0].Status)
	assert.Equal(t, HealthDegraded, h.AgentHealth[1].Status)
	assert.Equal(t, "boom", h.AgentHealth[1].LastError)

	run, err := l.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	names := stepNames(run)
	assert.Contains(t, names, "subtask_failed")
	assert.Contains(t, names, "subtask_skipped")
	assert.Equal(t, "workflow_evaluated", names[len(names)-1])
	assert.Equal(t, "partial", run.Steps[len(run.Steps)-1].Payload["overall_status"])
}

func TestExecutePlan_Timeout(t *testing.T) {
	sup, _, d := newTestSupervisor(t, Config{SubtaskTimeout: 20 * time.Millisecond})
	d.block["slow"] = true

	plan := testPlan(&SubTask{ID: "st-1", TargetAgentID: "slow"})
	rec, err := sup.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, SubTaskFailed, plan.Subtasks[0].Status)
	assert.Equal(t, "Timeout: subtask st-1 exceeded 20ms", plan.Subtasks[0].Error)
	assert.Equal(t, store.RunFailed, rec.Status)
	assert.Equal(t, WorkflowFailed, rec.HealthSnapshot.OverallStatus)
	assert.Equal(t, "No subtasks completed.", rec.FinalSummary)
	assert.Empty(t, rec.ChildRunIDs)
}

func TestExecutePlan_CycleWritesNothing(t *testing.T) {
	ctx := context.Background()
	sup, l, d := newTestSupervisor(t, Config{})

	plan := testPlan(
		&SubTask{ID: "a", TargetAgentID: "x", Dependencies: []string{"b"}},
		&SubTask{ID: "b", TargetAgentID: "x", Dependencies: []string{"a"}},
	)
	_, err := sup.ExecutePlan(ctx, plan)
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.Empty(t, d.Calls())

	runs, err := l.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestExecutePlan_ForcesSequential(t *testing.T) {
	sup, _, d := newTestSupervisor(t, Config{})
	d.replies["a1"] = "done"

	plan := testPlan(&SubTask{ID: "st-1", TargetAgentID: "a1"})
	plan.Strategy = StrategyParallel

	rec, err := sup.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, StrategySequential, plan.Strategy)
	assert.Equal(t, store.RunCompleted, rec.Status)
}

func TestExecutePlan_EvaluateResultsAndPreview(t *testing.T) {
	ctx := context.Background()
	sup, l, d := newTestSupervisor(t, Config{EvaluateResults: true})
	d.replies["a1"] = strings.Repeat("é", 600)

	rec, err := sup.ExecutePlan(ctx, testPlan(&SubTask{ID: "st-1", TargetAgentID: "a1"}))
	require.NoError(t, err)

	run, err := l.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"plan_created", "delegate_subtask", "subtask_delegated", "subtask_completed", "evaluate_result",
		"health_check", "workflow_evaluated",
	}, stepNames(run))

	previewText, ok := run.Steps[3].Payload["result_preview"].(string)
	require.True(t, ok)
	assert.Equal(t, 500, len([]rune(previewText)))

	assert.Equal(t, 200+len("[st-1] "), len([]rune(rec.FinalSummary)))
}

// delegatorFunc adapts a function to the Delegator interface.
type delegatorFunc func(ctx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error)

func (f delegatorFunc) SendMessage(ctx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error) {
	return f(ctx, agentID, text, tenantID)
}

func TestExecutePlan_MasterRunsWhileSubtaskInFlight(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMockStore(), nil)

	var seen []store.SubagentState
	d := delegatorFunc(func(ctx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error) {
		runs, err := l.ListRuns(ctx, store.RunFilter{AgentID: MasterAgentID})
		if err != nil || len(runs) != 1 {
			return nil, errors.New("master run not found")
		}
		seen = append(seen, runs[0].SubagentState)
		return &agent.MessageResponse{AgentID: agentID, Reply: "ok"}, nil
	})

	sup := New(l, d, Config{}, nil)
	rec, err := sup.ExecutePlan(ctx, testPlan(&SubTask{ID: "st-1", TargetAgentID: "a1"}))
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, rec.Status)
	assert.Equal(t, []store.SubagentState{store.SubagentRunning}, seen)

	run, err := l.GetRun(ctx, rec.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.SubagentIdle, run.SubagentState)
}

func TestExecutePlan_CallerCancelledMidPlan(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "supervisor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	l := ledger.New(s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	d := delegatorFunc(func(callCtx context.Context, agentID, text, tenantID string) (*agent.MessageResponse, error) {
		calls = append(calls, agentID)
		if agentID == "a2" {
			cancel()
			<-callCtx.Done()
			return nil, callCtx.Err()
		}
		return &agent.MessageResponse{AgentID: agentID, RunID: "run-" + agentID, Reply: "ok"}, nil
	})

	plan := testPlan(
		&SubTask{ID: "st-1", TargetAgentID: "a1", Priority: 1},
		&SubTask{ID: "st-2", TargetAgentID: "a2", Priority: 2},
		&SubTask{ID: "st-3", TargetAgentID: "a3", Priority: 3},
	)
	rec, err := New(l, d, Config{}, nil).ExecutePlan(ctx, plan)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, []string{"a1", "a2"}, calls)
	assert.Equal(t, store.RunFailed, rec.Status)
	assert.Equal(t, []string{"run-a1"}, rec.ChildRunIDs)
	assert.Equal(t, SubTaskFailed, plan.Subtasks[1].Status)
	assert.Equal(t, context.Canceled.Error(), plan.Subtasks[1].Error)
	assert.Equal(t, SubTaskSkipped, plan.Subtasks[2].Status)

	run, err := l.GetRun(context.Background(), rec.RunID)
	require.NoError(t, err)
	names := stepNames(run)
	assert.Contains(t, names, "subtask_failed")
	assert.Contains(t, names, "subtask_skipped")
	assert.Equal(t, "workflow_evaluated", names[len(names)-1])
}

func TestBuildWorkflowHealth_Empty(t *testing.T) {
	h := BuildWorkflowHealth(&TaskPlan{PlanID: "p"})
	assert.Equal(t, 0, h.TotalSubtasks)
	assert.Equal(t, WorkflowCompleted, h.OverallStatus)
	assert.Empty(t, h.AgentHealth)
}
