// Package ledger records run commands and events and maintains run state.
//
// Commands express intent (start_task, pause, delegate_subtask); events
// express outcomes (tool_finished, subtask_failed). Each append validates
// the envelope, loads or creates the run, applies ReduceRunStatus and
// ReduceSubagentState, and persists the envelope and the run together.
//
// Appends to the same run are serialized by a per-run mutex; appends to
// different runs proceed in parallel.
package ledger
