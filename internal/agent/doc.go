// Package agent runs workspace-backed business agents.
//
// # Overview
//
// Each agent owns a directory under the configured workspace root:
//
//	<root>/<agent-id>/
//	    config.json     {"heartbeatMinutes": 30}, comments allowed
//	    HEARTBEAT.md    one "RUN <command>" line per scheduled tool
//	    skills/<id>/    attached skills, each with a SKILL.md
//	    inputs/         sample and user-provided inputs
//	    outputs/        tool reports
//
// # Hub
//
// The Hub is the registry of runtimes. It persists agent records through a
// store.AgentStore and reloads them on Init, restarting agents that were
// running:
//
//	hub := agent.NewHub(db, agent.Deps{...}, agent.HubConfig{WorkspaceRoot: root})
//	if err := hub.Init(ctx); err != nil { ... }
//	defer hub.Close()
//
// Key operations:
//
//   - CreateAgent(ctx, in): register a stopped agent, optionally from a template
//   - StartAgent / StopAgent: control the heartbeat ticker
//   - AttachSkill(ctx, id, template): copy an embedded skill template
//   - SendMessage(ctx, id, text, tenantID): run the message pipeline
//   - RouteMessage(ctx, text, preferredID, tenantID): pick an agent by keyword
//
// # Runtime
//
// A Runtime emits every event three ways: appended to the agent timeline,
// mirrored into the run ledger, and published to live subscribers. Handling a
// message interprets it into tasks, proposes a workflow patch and then applies
// side effects: approval requests for sensitive words, a manual heartbeat,
// and the mail-triage skill.
//
// A paused run blocks both messages and heartbeats. Message handling and the
// heartbeat ticker are not serialized against each other.
package agent
