// ABOUTME: Tests for ledger-derived agent health and the tenant overview
// ABOUTME: Runs are written through the real ledger into the mock store

package supervisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/store"
)

type stubDirectory struct {
	agents []*store.AgentRecord
}

func (d stubDirectory) GetAgent(ctx context.Context, id string) (*store.AgentRecord, error) {
	for _, a := range d.agents {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, agent.ErrAgentNotFound
}

func (d stubDirectory) ListAgents(ctx context.Context, filter store.AgentFilter) ([]*store.AgentRecord, error) {
	return d.agents, nil
}

func finishRun(t *testing.T, l *ledger.Ledger, agentID, runID string, failed bool) {
	t.Helper()
	ctx := context.Background()
	_, err := l.AppendCommand(ctx, ledger.CommandInput{TenantID: "t", AgentID: agentID, RunID: runID, Type: store.CommandStartTask})
	require.NoError(t, err)
	if failed {
		_, err = l.AppendEvent(ctx, ledger.EventInput{TenantID: "t", AgentID: agentID, RunID: runID, Type: store.EventErrorCompacted, Message: "err " + runID})
	} else {
		_, err = l.AppendEvent(ctx, ledger.EventInput{TenantID: "t", AgentID: agentID, RunID: runID, Type: store.EventWorkflowEvaluated})
	}
	require.NoError(t, err)
}

func TestCheckAgentHealth(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewMockStore(), nil)
	dir := stubDirectory{agents: []*store.AgentRecord{
		{ID: "good", Name: "Good Agent"},
		{ID: "bad", Name: "Bad Agent"},
		{ID: "idle", Name: "Idle Agent"},
	}}
	m := NewHealthMonitor(l, dir)

	for i := 0; i < 4; i++ {
		finishRun(t, l, "good", fmt.Sprintf("g-%d", i), i == 3)
	}
	finishRun(t, l, "bad", "b-0", false)
	finishRun(t, l, "bad", "b-1", true)
	finishRun(t, l, "bad", "b-2", true)

	good, err := m.CheckAgentHealth(ctx, "good", "t")
	require.NoError(t, err)
	assert.Equal(t, "Good Agent", good.Name)
	assert.Equal(t, HealthHealthy, good.Status, "1 of 4 failed is under the threshold")
	assert.InDelta(t, 0.75, good.SuccessRate, 1e-9)
	assert.Equal(t, 4, good.TotalInvocations)
	assert.Equal(t, "err g-3", good.LastError)
	assert.NotNil(t, good.LastActive)

	bad, err := m.CheckAgentHealth(ctx, "bad", "t")
	require.NoError(t, err)
	assert.Equal(t, HealthDegraded, bad.Status)
	assert.Equal(t, "err b-1", bad.LastError, "first failed run in the window")

	idle, err := m.CheckAgentHealth(ctx, "idle", "t")
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, idle.Status)
	assert.Nil(t, idle.LastActive)

	ghost, err := m.CheckAgentHealth(ctx, "ghost", "t")
	require.NoError(t, err)
	assert.Equal(t, "ghost", ghost.Name)

	overview, err := m.SystemOverview(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, 3, overview.TotalAgents)
	assert.Equal(t, 1, overview.Healthy)
	assert.Equal(t, 1, overview.Degraded)
	assert.Equal(t, 0, overview.Down)
}
