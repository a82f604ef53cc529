// ABOUTME: Tests for ledger intake, run queries and run control over HTTP
// ABOUTME: Run transitions follow the ledger reducer; foreign tenants see runs as missing

package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/store"
)

type runResponse struct {
	Command map[string]any   `json:"command"`
	Event   map[string]any   `json:"event"`
	Run     *store.RunRecord `json:"run"`
}

func TestRunControl(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodPost, "/api/orchestrator/commands", map[string]any{
		"agent_id": "a1", "run_id": "run-1", "type": "start_task",
		"payload": map[string]any{"task": "reconcile invoices"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decodeBody[runResponse](t, rec)
	require.NotNil(t, started.Run)
	assert.Equal(t, store.RunRunning, started.Run.Status)
	assert.Equal(t, "start_task", started.Command["type"])

	steps := []struct {
		action string
		want   store.RunStatus
	}{
		{"pause", store.RunPaused},
		{"resume", store.RunRunning},
		{"cancel", store.RunCancelled},
	}
	for _, step := range steps {
		rec = gw.do(t, http.MethodPost, "/api/orchestrator/runs/run-1/"+step.action, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decodeBody[runResponse](t, rec)
		assert.Equal(t, step.want, resp.Run.Status, step.action)
	}

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/runs/run-1/restart", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/runs/missing/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Run not found", errorMessage(t, rec))
}

func TestAppendValidation(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodPost, "/api/orchestrator/commands", map[string]any{
		"agent_id": "a1", "run_id": "run-1", "type": "delegate_subtask",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid command type: delegate_subtask", errorMessage(t, rec))

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/events", map[string]any{
		"agent_id": "a1", "run_id": "run-1", "type": "plan_created",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid event type: plan_created", errorMessage(t, rec))

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/commands", map[string]any{
		"agent_id": "a1", "type": "start_task",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "run_id is required")

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/events", map[string]any{
		"agent_id": "a1", "run_id": "run-2", "type": "error_compacted", "message": "context overflow",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[runResponse](t, rec)
	assert.Equal(t, store.RunFailed, resp.Run.Status)
	assert.Equal(t, "error_compacted", resp.Event["type"])
}

func TestRunsAreTenantScoped(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodPost, "/api/orchestrator/commands", map[string]any{
		"agent_id": "a1", "run_id": "run-acme", "type": "start_task",
	}, "X-Tenant-ID", "acme")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = gw.do(t, http.MethodGet, "/api/orchestrator/runs/run-acme", nil, "X-Tenant-ID", "acme")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", decodeBody[store.RunRecord](t, rec).TenantID)

	rec = gw.do(t, http.MethodGet, "/api/orchestrator/runs/run-acme", nil, "X-Tenant-ID", "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/runs/run-acme/cancel", nil, "X-Tenant-ID", "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = gw.do(t, http.MethodPost, "/api/orchestrator/events", map[string]any{
		"agent_id": "a1", "run_id": "run-acme", "type": "tool_started",
	}, "X-Tenant-ID", "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code, "cannot append to another tenant's run")

	rec = gw.do(t, http.MethodGet, "/api/orchestrator/runs", nil, "X-Tenant-ID", "acme")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeBody[map[string][]store.RunRecord](t, rec)["runs"]
	require.Len(t, runs, 1)
	assert.Equal(t, "run-acme", runs[0].RunID)

	rec = gw.do(t, http.MethodGet, "/api/orchestrator/runs", nil, "X-Tenant-ID", "globex")
	assert.Empty(t, decodeBody[map[string][]store.RunRecord](t, rec)["runs"])
}

func TestSchema(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodGet, "/api/orchestrator/schema", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	schema := decodeBody[map[string][]string](t, rec)

	assert.Contains(t, schema["command_types"], "delegate_subtask")
	assert.Contains(t, schema["event_types"], "workflow_evaluated")
	assert.Contains(t, schema["run_statuses"], "paused")
	assert.NotEmpty(t, schema["subagent_states"])
	assert.Len(t, schema["external_command_types"], 5)
	assert.NotContains(t, schema["external_event_types"], "plan_created")
}
