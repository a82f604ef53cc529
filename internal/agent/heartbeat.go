// ABOUTME: Heartbeat execution: runs every RUN line of HEARTBEAT.md through the sandbox
// ABOUTME: Skips while the agent's active run is paused or cancelled

package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
)

// Heartbeat reasons.
const (
	ReasonScheduled = "scheduled"
	ReasonManual    = "manual"
)

// RunHeartbeat executes the agent's HEARTBEAT.md commands and returns the
// events it emitted. A failing or rejected command never stops the ones
// after it; only persistence faults return an error.
func (r *Runtime) RunHeartbeat(ctx context.Context, reason string) ([]*store.AgentEvent, error) {
	var events []*store.AgentEvent
	emit := func(typ store.AgentEventType, message string, payload map[string]any) error {
		event, err := r.emit(ctx, typ, message, payload)
		if err != nil {
			return err
		}
		events = append(events, event)
		return nil
	}

	rec := r.Record()
	run, err := r.activeRun(ctx, rec.AgentID)
	if err != nil {
		return nil, err
	}
	if run != nil && (run.Status == store.RunPaused || run.Status == store.RunCancelled) {
		err := emit(store.AgentEventHeartbeatTick,
			fmt.Sprintf("Heartbeat skipped: run %s is %s", run.RunID, run.Status),
			map[string]any{"reason": reason, "skipped": true, "run_id": run.RunID})
		return events, err
	}

	content, err := os.ReadFile(filepath.Join(rec.Workspace, heartbeatFile))
	if errors.Is(err, os.ErrNotExist) {
		err := emit(store.AgentEventHeartbeatTick, "Heartbeat skipped: HEARTBEAT.md missing",
			map[string]any{"reason": reason})
		return events, err
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", heartbeatFile, err)
	}

	commands := heartbeatCommands(string(content))
	now := r.now().UTC()
	if _, err := r.update(ctx, func(a *store.AgentRecord) { a.LastHeartbeatAt = &now }); err != nil {
		return nil, err
	}
	if err := emit(store.AgentEventHeartbeatTick, fmt.Sprintf("Heartbeat triggered (%s)", reason),
		map[string]any{"commandCount": len(commands)}); err != nil {
		return events, err
	}

	for _, command := range commands {
		if err := emit(store.AgentEventToolRunStarted, "Tool run started: "+command,
			map[string]any{"command": command}); err != nil {
			return events, err
		}

		result, runErr := r.deps.Tools.Run(ctx, rec.Workspace, command)
		if runErr != nil {
			r.logger.Warn("heartbeat tool rejected", "command", command, "error", runErr)
			if err := emit(store.AgentEventToolRunFinished, "Tool rejected: "+command,
				map[string]any{"command": command, "error": runErr.Error(), "ok": false}); err != nil {
				return events, err
			}
			continue
		}

		message := "Tool executed: " + command
		if !result.OK {
			message = "Tool failed: " + command
			r.logger.Warn("heartbeat tool failed", "command", command, "exit_code", result.ExitCode)
		}
		if err := emit(store.AgentEventToolRunFinished, message, toolPayload(command, result)); err != nil {
			return events, err
		}
		if err := emit(store.AgentEventMetricRecorded, "Tool metric recorded",
			metricPayload(command, result)); err != nil {
			return events, err
		}
	}
	return events, nil
}

func (r *Runtime) activeRun(ctx context.Context, agentID string) (*store.RunRecord, error) {
	if r.deps.Ledger == nil {
		return nil, nil
	}
	run, err := r.deps.Ledger.ActiveRunForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("checking active run: %w", err)
	}
	return run, nil
}

// toolPayload flattens a tool result into JSON-shaped values so stored and
// in-memory timelines read the same.
func toolPayload(command string, result *sandbox.Result) map[string]any {
	var toolErr any
	if result.Error != nil {
		toolErr = map[string]any{"code": result.Error.Code, "message": result.Error.Message}
	}
	artifacts := make([]any, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		artifact := map[string]any{"type": a.Type, "path": a.Path}
		if a.Digest != "" {
			artifact["digest"] = a.Digest
		}
		artifacts = append(artifacts, artifact)
	}
	return map[string]any{
		"command": command,
		"ok":      result.OK,
		"error":   toolErr,
		"metrics": map[string]any{
			"duration_ms": result.Metrics.DurationMS,
			"exit_code":   result.Metrics.ExitCode,
		},
		"artifacts": artifacts,
	}
}

func metricPayload(command string, result *sandbox.Result) map[string]any {
	return map[string]any{
		"command":  command,
		"runMs":    result.Metrics.DurationMS,
		"exitCode": result.Metrics.ExitCode,
	}
}
