// Package supervisor runs multi-agent plans.
//
// A Planner asks an LLM to split a request into subtasks, each bound to one
// agent, and validates the answer. The Supervisor then executes the plan in
// dependency order under a master run ("master-<id>", agent
// "master-orchestrator") in the run ledger: every delegation, completion,
// failure and skip is an event of that run. Execution is sequential and stops
// at the first failed subtask; the rest are skipped.
//
// HealthMonitor derives per-agent health from recent ledger runs.
package supervisor
