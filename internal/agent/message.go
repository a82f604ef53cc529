// ABOUTME: Message pipeline for one agent: context, interpretation, workflow patch and side effects
// ABOUTME: Side effects are approval requests, a manual heartbeat and the mail-triage skill

package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/budget"
	"github.com/Arcetro/talkative/internal/interpreter"
	"github.com/Arcetro/talkative/internal/router"
	"github.com/Arcetro/talkative/internal/store"
	"github.com/Arcetro/talkative/internal/workflow"
)

// fallbackPrompt is used when the agent has no active prompt version.
const fallbackPrompt = "You are a business workflow subagent."

var sensitiveWords = []string{"transfer", "wire", "refund", "delete"}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// HandleMessage runs the message pipeline and returns the reply together
// with every event emitted along the way.
func (r *Runtime) HandleMessage(ctx context.Context, text string) (*MessageResponse, error) {
	started := r.now()
	rec := r.Record()

	run, err := r.activeRun(ctx, rec.AgentID)
	if err != nil {
		return nil, err
	}
	if run != nil && run.Status == store.RunPaused {
		return &MessageResponse{
			AgentID: rec.ID,
			Reply:   fmt.Sprintf("Agent %s is paused (run %s). Resume the run before sending messages.", rec.Name, run.RunID),
			Actions: []Action{{Type: ActionPaused, Data: map[string]any{"run_id": run.RunID, "status": string(run.Status)}}},
			Events:  []*store.AgentEvent{},
		}, nil
	}

	runID := newRunID()
	resp := &MessageResponse{AgentID: rec.ID, RunID: runID, Actions: []Action{}, Events: []*store.AgentEvent{}}
	emit := func(typ store.AgentEventType, message string, payload map[string]any) error {
		event, err := r.emit(ctx, typ, message, payload)
		if err != nil {
			return err
		}
		resp.Events = append(resp.Events, event)
		return nil
	}

	now := started.UTC()
	if _, err := r.update(ctx, func(a *store.AgentRecord) {
		a.LastMessageAt = &now
		a.LastMessage = text
	}); err != nil {
		return nil, err
	}
	if err := emit(store.AgentEventMessageReceived, text, map[string]any{"run_id": runID}); err != nil {
		return nil, err
	}

	built, err := r.buildContext(ctx, rec, text)
	if err != nil {
		return nil, err
	}

	interpretation := interpreter.Interpret(text)
	resp.Interpretation = &interpretation
	if err := emit(store.AgentEventInterpretationResult, "Interpretation generated", map[string]any{
		"run_id":            runID,
		"detectedTasks":     interpretation.DetectedTasks,
		"context_tokens":    built.TokenEstimate,
		"context_truncated": built.Truncated,
	}); err != nil {
		return nil, err
	}

	patch := workflow.CreatePatch(interpretation, 0)
	resp.WorkflowPatch = patch
	if err := emit(store.AgentEventWorkflowPatchProposed, "Workflow patch proposed from conversation", map[string]any{
		"run_id":     runID,
		"patchId":    patch.ID,
		"operations": patch.Operations,
	}); err != nil {
		return nil, err
	}

	reply := []string{fmt.Sprintf("Agent %s interpreted %d task(s).", rec.Name, len(interpretation.DetectedTasks))}
	lower := strings.ToLower(text)

	if containsAny(lower, sensitiveWords...) && r.deps.Approvals != nil {
		approval := &store.Approval{
			ID:          uuid.NewString(),
			TenantID:    rec.TenantID,
			AgentID:     rec.AgentID,
			RunID:       runID,
			Reason:      "Sensitive action detected in message: " + text,
			Status:      store.ApprovalPending,
			RequestedAt: now,
		}
		if err := r.deps.Approvals.CreateApproval(ctx, approval); err != nil {
			return nil, fmt.Errorf("creating approval: %w", err)
		}
		r.logger.Info("approval requested", "approval_id", approval.ID, "run_id", runID)
		resp.Actions = append(resp.Actions, Action{Type: ActionApprovalRequired, Data: map[string]any{
			"approval_id": approval.ID,
			"reason":      approval.Reason,
		}})
		reply = append(reply, fmt.Sprintf("Human approval required (approval_id=%s).", approval.ID))
	}

	if strings.Contains(lower, "heartbeat") && containsAny(lower, "run", "now") {
		events, err := r.RunHeartbeat(ctx, ReasonManual)
		resp.Events = append(resp.Events, events...)
		if err != nil {
			return nil, err
		}
		resp.Actions = append(resp.Actions, Action{Type: ActionHeartbeat, Data: map[string]any{"count": len(events)}})
		reply = append(reply, "Heartbeat executed.")
	}

	if r.HasSkill(mailTriageTemplateID) && containsAny(lower, "triage", "email") {
		line, err := r.runMailTriage(ctx, runID, resp, emit)
		if err != nil {
			return nil, err
		}
		reply = append(reply, line)
	}

	if err := emit(store.AgentEventWorkflowPatchApplied, "Workflow patch accepted in session", map[string]any{
		"run_id":  runID,
		"patchId": patch.ID,
	}); err != nil {
		return nil, err
	}

	resp.Reply = strings.Join(reply, " ")
	r.logUsage(ctx, rec, text, resp.Reply, r.now().Sub(started))
	return resp, nil
}

func (r *Runtime) buildContext(ctx context.Context, rec store.AgentRecord, text string) (budget.BuiltContext, error) {
	recent, err := r.deps.Events.RecentAgentEvents(ctx, rec.ID, r.deps.RecentEvents)
	if err != nil {
		return budget.BuiltContext{}, fmt.Errorf("loading recent events: %w", err)
	}
	events := make([]budget.ContextEvent, 0, len(recent))
	for _, e := range recent {
		events = append(events, budget.ContextEvent{Type: string(e.Type), Message: e.Message, Payload: e.Payload})
	}

	template := fallbackPrompt
	if r.deps.Prompts != nil {
		active, err := r.deps.Prompts.Active(ctx, rec.TenantID, rec.AgentID)
		if err != nil {
			return budget.BuiltContext{}, fmt.Errorf("loading prompt: %w", err)
		}
		if active != nil {
			template = active.Template
		}
	}

	skills := r.Skills()
	ids := make([]string, 0, len(skills))
	for _, s := range skills {
		ids = append(ids, s.ID)
	}

	return budget.BuildBudgetedContext(budget.ContextInput{
		PromptTemplate: template,
		UserMessage:    text,
		Skills:         ids,
		RecentEvents:   events,
		MaxTokens:      r.deps.ContextMaxTokens,
	}), nil
}

// runMailTriage runs the fixed mail-triage command and returns the reply line.
func (r *Runtime) runMailTriage(ctx context.Context, runID string, resp *MessageResponse,
	emit func(store.AgentEventType, string, map[string]any) error) (string, error) {
	command := mailTriageCommand
	if err := emit(store.AgentEventToolRunStarted, "Mail triage tool started",
		map[string]any{"run_id": runID, "command": command}); err != nil {
		return "", err
	}

	result, runErr := r.deps.Tools.Run(ctx, r.Record().Workspace, command)
	if runErr != nil {
		r.logger.Warn("mail triage rejected", "error", runErr)
		resp.Actions = append(resp.Actions, Action{Type: ActionToolFailed, Data: map[string]any{"command": command}})
		if err := emit(store.AgentEventToolRunFinished, "Mail triage rejected",
			map[string]any{"run_id": runID, "error": runErr.Error(), "ok": false}); err != nil {
			return "", err
		}
		return "Mail triage command rejected by safety rules.", nil
	}

	line := "Mail triage completed and wrote " + mailTriageOutput + "."
	message := "Mail triage skill executed"
	if result.OK {
		resp.Actions = append(resp.Actions, Action{Type: ActionToolExecuted, Data: map[string]any{
			"command": command,
			"output":  mailTriageOutput,
		}})
	} else {
		line = "Mail triage failed."
		message = "Mail triage skill failed"
		resp.Actions = append(resp.Actions, Action{Type: ActionToolFailed, Data: map[string]any{"command": command}})
	}

	payload := toolPayload(command, result)
	payload["run_id"] = runID
	if err := emit(store.AgentEventToolRunFinished, message, payload); err != nil {
		return "", err
	}
	metric := metricPayload(command, result)
	metric["run_id"] = runID
	if err := emit(store.AgentEventMetricRecorded, "Mail triage metric recorded", metric); err != nil {
		return "", err
	}
	return line, nil
}

// logUsage records the message with the router. Failures are logged only.
func (r *Runtime) logUsage(ctx context.Context, rec store.AgentRecord, text, reply string, latency time.Duration) {
	if r.deps.Usage == nil {
		return
	}
	if _, err := r.deps.Usage.LogUsage(ctx, router.UsageInput{
		TenantID:  rec.TenantID,
		AgentID:   rec.AgentID,
		Prompt:    text,
		Response:  reply,
		LatencyMS: latency.Milliseconds(),
		Status:    router.StatusOK,
	}); err != nil {
		r.logger.Error("logging router usage", "error", err)
	}
}
