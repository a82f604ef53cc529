// ABOUTME: Pure state machine reducers for run status and subagent state
// ABOUTME: Every (state, input) pair not listed in a switch leaves the state unchanged

package ledger

import "github.com/Arcetro/talkative/internal/store"

// Input is the command or event being applied to a run. Exactly one field is set.
type Input struct {
	Command store.CommandType
	Event   store.EventType
}

// ReduceRunStatus returns the run status after applying in.
func ReduceRunStatus(current store.RunStatus, in Input) store.RunStatus {
	switch in.Command {
	case store.CommandStartTask:
		return store.RunRunning
	case store.CommandPause:
		if current == store.RunRunning {
			return store.RunPaused
		}
	case store.CommandResume:
		if current == store.RunPaused {
			return store.RunRunning
		}
	case store.CommandCancel:
		return store.RunCancelled
	case store.CommandDelegateSubtask, store.CommandEvaluateResult:
		// running stays running
	case store.CommandRequestDelegate:
	}

	switch in.Event {
	case store.EventErrorCompacted, store.EventSubtaskFailed:
		return store.RunFailed
	case store.EventPlanCreated:
		return store.RunRunning
	case store.EventWorkflowEvaluated:
		return store.RunCompleted
	case store.EventToolFinished, store.EventSubtaskDelegated, store.EventSubtaskCompleted:
		// running stays running
	case store.EventToolStarted, store.EventStateChanged, store.EventMetricRecorded,
		store.EventSubtaskSkipped, store.EventHealthCheck:
	}

	return current
}

// ReduceSubagentState returns the subagent state after applying in. The
// pause, resume and delegation rules apply from any subagent state.
func ReduceSubagentState(current store.SubagentState, in Input) store.SubagentState {
	switch in.Command {
	case store.CommandStartTask, store.CommandResume, store.CommandDelegateSubtask:
		return store.SubagentRunning
	case store.CommandPause:
		return store.SubagentPaused
	case store.CommandCancel:
		return store.SubagentStopped
	case store.CommandEvaluateResult, store.CommandRequestDelegate:
	}

	switch in.Event {
	case store.EventToolStarted, store.EventSubtaskDelegated:
		return store.SubagentRunning
	case store.EventErrorCompacted, store.EventSubtaskFailed:
		return store.SubagentError
	case store.EventWorkflowEvaluated:
		return store.SubagentIdle
	case store.EventToolFinished, store.EventPlanCreated, store.EventSubtaskCompleted,
		store.EventStateChanged, store.EventMetricRecorded, store.EventSubtaskSkipped, store.EventHealthCheck:
	}

	return current
}

// ValidCommand reports whether t is a known command type.
func ValidCommand(t store.CommandType) bool {
	for _, c := range store.CommandTypes {
		if c == t {
			return true
		}
	}
	return false
}

// ValidEvent reports whether t is a known event type.
func ValidEvent(t store.EventType) bool {
	for _, e := range store.EventTypes {
		if e == t {
			return true
		}
	}
	return false
}
