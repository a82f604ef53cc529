// ABOUTME: Table tests for the run status and subagent state reducers
// ABOUTME: Checks every listed transition and that unlisted pairs are no-ops

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Arcetro/talkative/internal/store"
)

func TestReduceRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		current store.RunStatus
		in      Input
		want    store.RunStatus
	}{
		{"start_task from pending", store.RunPending, Input{Command: store.CommandStartTask}, store.RunRunning},
		{"start_task from failed", store.RunFailed, Input{Command: store.CommandStartTask}, store.RunRunning},
		{"pause from running", store.RunRunning, Input{Command: store.CommandPause}, store.RunPaused},
		{"pause from pending is no-op", store.RunPending, Input{Command: store.CommandPause}, store.RunPending},
		{"resume from paused", store.RunPaused, Input{Command: store.CommandResume}, store.RunRunning},
		{"resume from cancelled is no-op", store.RunCancelled, Input{Command: store.CommandResume}, store.RunCancelled},
		{"cancel from anything", store.RunCompleted, Input{Command: store.CommandCancel}, store.RunCancelled},
		{"delegate keeps running", store.RunRunning, Input{Command: store.CommandDelegateSubtask}, store.RunRunning},
		{"delegate from paused is no-op", store.RunPaused, Input{Command: store.CommandDelegateSubtask}, store.RunPaused},
		{"request_delegate is no-op", store.RunRunning, Input{Command: store.CommandRequestDelegate}, store.RunRunning},
		{"tool_started leaves status", store.RunPending, Input{Event: store.EventToolStarted}, store.RunPending},
		{"tool_finished keeps running", store.RunRunning, Input{Event: store.EventToolFinished}, store.RunRunning},
		{"tool_finished from paused is no-op", store.RunPaused, Input{Event: store.EventToolFinished}, store.RunPaused},
		{"error_compacted fails", store.RunRunning, Input{Event: store.EventErrorCompacted}, store.RunFailed},
		{"plan_created runs", store.RunPending, Input{Event: store.EventPlanCreated}, store.RunRunning},
		{"subtask_completed keeps running", store.RunRunning, Input{Event: store.EventSubtaskCompleted}, store.RunRunning},
		{"subtask_failed fails", store.RunRunning, Input{Event: store.EventSubtaskFailed}, store.RunFailed},
		{"workflow_evaluated completes", store.RunFailed, Input{Event: store.EventWorkflowEvaluated}, store.RunCompleted},
		{"state_changed is no-op", store.RunPaused, Input{Event: store.EventStateChanged}, store.RunPaused},
		{"metric_recorded is no-op", store.RunRunning, Input{Event: store.EventMetricRecorded}, store.RunRunning},
		{"subtask_skipped is no-op", store.RunRunning, Input{Event: store.EventSubtaskSkipped}, store.RunRunning},
		{"health_check is no-op", store.RunCompleted, Input{Event: store.EventHealthCheck}, store.RunCompleted},
		{"empty input is no-op", store.RunPaused, Input{}, store.RunPaused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReduceRunStatus(tt.current, tt.in))
		})
	}
}

func TestReduceSubagentState(t *testing.T) {
	tests := []struct {
		name    string
		current store.SubagentState
		in      Input
		want    store.SubagentState
	}{
		{"start_task", store.SubagentIdle, Input{Command: store.CommandStartTask}, store.SubagentRunning},
		{"pause from running", store.SubagentRunning, Input{Command: store.CommandPause}, store.SubagentPaused},
		{"pause from idle", store.SubagentIdle, Input{Command: store.CommandPause}, store.SubagentPaused},
		{"resume from paused", store.SubagentPaused, Input{Command: store.CommandResume}, store.SubagentRunning},
		{"resume from stopped", store.SubagentStopped, Input{Command: store.CommandResume}, store.SubagentRunning},
		{"delegate_subtask from idle", store.SubagentIdle, Input{Command: store.CommandDelegateSubtask}, store.SubagentRunning},
		{"subtask_delegated from idle", store.SubagentIdle, Input{Event: store.EventSubtaskDelegated}, store.SubagentRunning},
		{"evaluate_result leaves state", store.SubagentIdle, Input{Command: store.CommandEvaluateResult}, store.SubagentIdle},
		{"cancel stops", store.SubagentRunning, Input{Command: store.CommandCancel}, store.SubagentStopped},
		{"tool_started runs", store.SubagentIdle, Input{Event: store.EventToolStarted}, store.SubagentRunning},
		{"tool_finished leaves state", store.SubagentRunning, Input{Event: store.EventToolFinished}, store.SubagentRunning},
		{"error_compacted errors", store.SubagentRunning, Input{Event: store.EventErrorCompacted}, store.SubagentError},
		{"plan_created leaves state", store.SubagentIdle, Input{Event: store.EventPlanCreated}, store.SubagentIdle},
		{"subtask_failed errors", store.SubagentRunning, Input{Event: store.EventSubtaskFailed}, store.SubagentError},
		{"workflow_evaluated idles", store.SubagentError, Input{Event: store.EventWorkflowEvaluated}, store.SubagentIdle},
		{"metric_recorded is no-op", store.SubagentPaused, Input{Event: store.EventMetricRecorded}, store.SubagentPaused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReduceSubagentState(tt.current, tt.in))
		})
	}
}

func TestReducersAreTotal(t *testing.T) {
	// Every pair must produce a member of the closed set, never panic.
	for _, status := range store.RunStatuses {
		for _, c := range store.CommandTypes {
			assert.Contains(t, store.RunStatuses, ReduceRunStatus(status, Input{Command: c}))
		}
		for _, e := range store.EventTypes {
			assert.Contains(t, store.RunStatuses, ReduceRunStatus(status, Input{Event: e}))
		}
	}
	for _, state := range store.SubagentStates {
		for _, c := range store.CommandTypes {
			assert.Contains(t, store.SubagentStates, ReduceSubagentState(state, Input{Command: c}))
		}
		for _, e := range store.EventTypes {
			assert.Contains(t, store.SubagentStates, ReduceSubagentState(state, Input{Event: e}))
		}
	}
}
