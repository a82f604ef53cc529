// Package gateway serves talkative over HTTP and gRPC.
//
// # Overview
//
// The Gateway owns every long-lived component: the SQLite store, the run
// ledger, the agent hub, the event broadcaster, the plan supervisor with its
// planner and health monitor, and the idempotency cache. New wires them from a
// config.Config; NewWithOptions lets tests substitute the store, the tool
// runner and the LLM.
//
// # HTTP API
//
// Routes use net/http pattern matching. Under /api every route is wrapped in
// the JWT middleware when auth.jwt_secret is set. The tenant of a request is
// the token's tenant_id claim, else the X-Tenant-ID header, else
// tenant-default. Agents, runs and approvals of another tenant read as not
// found.
//
//   - GET /health, GET /health/ready
//   - GET|POST /api/agents, GET /api/agents/{id}
//   - POST /api/agents/{id}/start|stop|heartbeat
//   - POST /api/agents/{id}/messages (Idempotency-Key aware)
//   - GET|POST /api/agents/{id}/skills, GET /api/agents/{id}/skills/{skill}
//   - GET /api/agents/{id}/events, .../events/stream (SSE), .../events/ws
//   - GET /api/agents/{id}/health
//   - GET|POST /api/agents/{id}/prompts, POST .../prompts/render,
//     POST .../prompts/{version}/activate
//   - GET /api/skills/templates, POST /api/route
//   - POST /api/orchestrator/commands|events, GET /api/orchestrator/runs[/{id}],
//     POST /api/orchestrator/runs/{id}/pause|resume|cancel,
//     GET /api/orchestrator/schema
//   - GET /api/approvals, POST /api/approvals/{id}/decide (admin)
//   - POST /api/master/plan|execute, GET /api/master/health
//   - GET /api/stats/usage
//
// Errors are JSON objects of the form {"error": "..."}.
//
// # Event Feeds
//
// The SSE and websocket feeds subscribe to the broadcaster, replay the
// agent's recent timeline, then forward live events. SSE frames name the
// agent event type:
//
//	event: HEARTBEAT_TICK
//	data: {"id": "...", "agentId": "...", "type": "HEARTBEAT_TICK", ...}
//
// # gRPC
//
// The gRPC listener serves grpc.health.v1.Health. Service "" reports the
// gateway; "agent/<id>" is SERVING while that agent runs.
//
// # Lifecycle
//
//	gw, err := gateway.New(ctx, cfg, logger)
//	err = gw.Run(ctx) // blocks; shuts down when ctx is canceled
//
// With tailscale.enabled the listeners move to a tsnet node on :50051 and :80.
package gateway
