// ABOUTME: On-demand agent health computed from the agent's recent ledger runs
// ABOUTME: No separate storage; every call re-reads the ledger

package supervisor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/store"
)

// healthWindow is how many recent runs feed an agent's health.
const healthWindow = 50

// degradedRatio is the failed share above which an agent is degraded.
const degradedRatio = 0.3

// RunLister reads runs. *ledger.Ledger satisfies it.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.RunRecord, error)
}

// AgentDirectory looks agents up. *agent.Hub satisfies it.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*store.AgentRecord, error)
	ListAgents(ctx context.Context, filter store.AgentFilter) ([]*store.AgentRecord, error)
}

// SystemOverview is the health of every agent of a tenant.
type SystemOverview struct {
	Agents      []AgentHealthStatus `json:"agents"`
	TotalAgents int                 `json:"total_agents"`
	Healthy     int                 `json:"healthy"`
	Degraded    int                 `json:"degraded"`
	Down        int                 `json:"down"`
}

// HealthMonitor computes agent health.
type HealthMonitor struct {
	runs   RunLister
	agents AgentDirectory
}

// NewHealthMonitor creates a HealthMonitor.
func NewHealthMonitor(runs RunLister, agents AgentDirectory) *HealthMonitor {
	return &HealthMonitor{runs: runs, agents: agents}
}

// CheckAgentHealth summarizes the agent's last runs. Unknown agents are
// reported under their id.
func (m *HealthMonitor) CheckAgentHealth(ctx context.Context, agentID, tenantID string) (*AgentHealthStatus, error) {
	name := agentID
	if rec, err := m.agents.GetAgent(ctx, agentID); err == nil {
		name = rec.Name
	} else if !errors.Is(err, agent.ErrAgentNotFound) {
		return nil, err
	}

	runs, err := m.runs.ListRuns(ctx, store.RunFilter{TenantID: tenantID, AgentID: agentID, Limit: healthWindow})
	if err != nil {
		return nil, fmt.Errorf("listing runs for %s: %w", agentID, err)
	}

	h := &AgentHealthStatus{AgentID: agentID, Name: name, Status: HealthUnknown}
	var completed, failed int
	for _, run := range runs {
		switch run.Status {
		case store.RunCompleted:
			completed++
		case store.RunFailed:
			if failed == 0 {
				h.LastError = run.LastError
			}
			failed++
		}
	}
	total := completed + failed
	h.TotalInvocations = total
	if total > 0 {
		h.SuccessRate = float64(completed) / float64(total)
		h.Status = HealthHealthy
		if float64(failed) > float64(total)*degradedRatio {
			h.Status = HealthDegraded
		}
	}
	if len(runs) > 0 {
		last := runs[len(runs)-1].UpdatedAt
		h.LastActive = &last
	}
	return h, nil
}

// SystemOverview checks every agent of the tenant.
func (m *HealthMonitor) SystemOverview(ctx context.Context, tenantID string) (*SystemOverview, error) {
	agents, err := m.agents.ListAgents(ctx, store.AgentFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	out := &SystemOverview{Agents: make([]AgentHealthStatus, 0, len(agents))}
	for _, a := range agents {
		h, err := m.CheckAgentHealth(ctx, a.ID, tenantID)
		if err != nil {
			return nil, err
		}
		out.Agents = append(out.Agents, *h)
		switch h.Status {
		case HealthHealthy:
			out.Healthy++
		case HealthDegraded:
			out.Degraded++
		case HealthDown:
			out.Down++
		}
	}
	out.TotalAgents = len(out.Agents)
	return out, nil
}
