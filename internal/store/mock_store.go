// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	runs        map[string]*RunRecord    // keyed by run ID
	runOrder    []string                 // run IDs in creation order
	entryIDs    map[string]bool          // ledger entry IDs already written
	agents      map[string]*AgentRecord  // keyed by agent ID
	agentOrder  []string                 // agent IDs in registration order
	agentEvents map[string][]*AgentEvent // keyed by agent ref
	approvals   map[string]*Approval     // keyed by approval ID
	approvalIDs []string                 // approval IDs in creation order
	usage       []*RouterUsage
	prompts     map[string][]*PromptVersion // keyed by "tenant:agent"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		runs:        make(map[string]*RunRecord),
		entryIDs:    make(map[string]bool),
		agents:      make(map[string]*AgentRecord),
		agentEvents: make(map[string][]*AgentEvent),
		approvals:   make(map[string]*Approval),
		prompts:     make(map[string][]*PromptVersion),
	}
}

func copyRun(r *RunRecord) *RunRecord {
	c := *r
	c.Steps = append([]RunStep{}, r.Steps...)
	return &c
}

func (m *MockStore) saveEntry(id string, step RunStep, run *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entryIDs[id] {
		return fmt.Errorf("ledger entry %s: %w", id, ErrDuplicate)
	}
	m.entryIDs[id] = true

	existing, ok := m.runs[run.RunID]
	var steps []RunStep
	if ok {
		steps = existing.Steps
	} else {
		m.runOrder = append(m.runOrder, run.RunID)
	}

	c := *run
	c.Steps = append(append([]RunStep{}, steps...), step)
	m.runs[run.RunID] = &c
	return nil
}

// SaveCommand stores a command and the run it produced.
func (m *MockStore) SaveCommand(ctx context.Context, cmd *Command, run *RunRecord) error {
	return m.saveEntry(cmd.ID, RunStep{
		ID: cmd.ID, Kind: StepCommand, Name: string(cmd.Type), At: cmd.CreatedAt, Payload: cmd.Payload,
	}, run)
}

// SaveEvent stores an event and the run it produced.
func (m *MockStore) SaveEvent(ctx context.Context, evt *Event, run *RunRecord) error {
	return m.saveEntry(evt.ID, RunStep{
		ID: evt.ID, Kind: StepEvent, Name: string(evt.Type), At: evt.CreatedAt, Payload: evt.Payload,
	}, run)
}

// GetRun retrieves a run by ID.
func (m *MockStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

// ListRuns returns matching runs oldest first, keeping the last Limit.
func (m *MockStore) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RunRecord
	for _, id := range m.runOrder {
		run := m.runs[id]
		if filter.TenantID != "" && run.TenantID != filter.TenantID {
			continue
		}
		if filter.AgentID != "" && run.AgentID != filter.AgentID {
			continue
		}
		result = append(result, copyRun(run))
	}
	return keepLast(result, filter.Limit), nil
}

// LatestRunForAgent returns the most recently updated matching run.
func (m *MockStore) LatestRunForAgent(ctx context.Context, agentID string, statuses ...RunStatus) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *RunRecord
	for _, id := range m.runOrder {
		run := m.runs[id]
		if run.AgentID != agentID || !hasStatus(statuses, run.Status) {
			continue
		}
		if best == nil || !run.UpdatedAt.Before(best.UpdatedAt) {
			best = run
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return copyRun(best), nil
}

func hasStatus(statuses []RunStatus, s RunStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// SaveAgent inserts or replaces an agent.
func (m *MockStore) SaveAgent(ctx context.Context, agent *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		m.agentOrder = append(m.agentOrder, agent.ID)
	}
	a := *agent
	m.agents[a.ID] = &a
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// DeleteAgent removes an agent and its timeline.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)
	delete(m.agentEvents, id)
	for i, aid := range m.agentOrder {
		if aid == id {
			m.agentOrder = append(m.agentOrder[:i], m.agentOrder[i+1:]...)
			break
		}
	}
	return nil
}

// ListAgents returns agents in registration order.
func (m *MockStore) ListAgents(ctx context.Context, filter AgentFilter) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AgentRecord
	for _, id := range m.agentOrder {
		a := m.agents[id]
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		c := *a
		result = append(result, &c)
	}
	return result, nil
}

// SaveAgentEvent appends an event to an agent's timeline.
func (m *MockStore) SaveAgentEvent(ctx context.Context, evt *AgentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *evt
	m.agentEvents[evt.AgentRef] = append(m.agentEvents[evt.AgentRef], &e)
	return nil
}

// RecentAgentEvents returns the last limit events, oldest first.
func (m *MockStore) RecentAgentEvents(ctx context.Context, agentRef string, limit int) ([]*AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := keepLast(m.agentEvents[agentRef], limit)
	result := make([]*AgentEvent, len(events))
	for i, e := range events {
		c := *e
		result[i] = &c
	}
	return result, nil
}

// CountAgentEvents returns the number of stored events for an agent.
func (m *MockStore) CountAgentEvents(ctx context.Context, agentRef string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agentEvents[agentRef]), nil
}

// PruneAgentEvents keeps only the newest keep events.
func (m *MockStore) PruneAgentEvents(ctx context.Context, agentRef string, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := m.agentEvents[agentRef]
	if len(events) <= keep {
		return 0, nil
	}
	deleted := len(events) - keep
	m.agentEvents[agentRef] = append([]*AgentEvent{}, events[deleted:]...)
	return int64(deleted), nil
}

// CreateApproval stores an approval request.
func (m *MockStore) CreateApproval(ctx context.Context, approval *Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.approvals[approval.ID]; ok {
		return fmt.Errorf("approval %s: %w", approval.ID, ErrDuplicate)
	}
	if approval.Status == "" {
		approval.Status = ApprovalPending
	}
	a := *approval
	m.approvals[a.ID] = &a
	m.approvalIDs = append(m.approvalIDs, a.ID)
	return nil
}

// GetApproval retrieves an approval by ID.
func (m *MockStore) GetApproval(ctx context.Context, id string) (*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// DecideApproval records a decision.
func (m *MockStore) DecideApproval(ctx context.Context, id, decidedBy string, status ApprovalStatus, note string) (*Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	a.Status = status
	a.DecidedAt = &now
	a.DecidedBy = decidedBy
	a.Note = note
	c := *a
	return &c, nil
}

// ListApprovals returns matching approvals oldest first, keeping the last Limit (default 100).
func (m *MockStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]*Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Approval
	for _, id := range m.approvalIDs {
		a := m.approvals[id]
		if filter.TenantID != "" && a.TenantID != filter.TenantID {
			continue
		}
		if filter.AgentID != "" && a.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		c := *a
		result = append(result, &c)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	return keepLast(result, limit), nil
}

// SaveUsage stores a usage record.
func (m *MockStore) SaveUsage(ctx context.Context, usage *RouterUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *usage
	m.usage = append(m.usage, &u)
	return nil
}

// GetUsageStats aggregates stored usage records.
func (m *MockStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	var latency int64
	for _, u := range m.usage {
		if filter.TenantID != nil && u.TenantID != *filter.TenantID {
			continue
		}
		if filter.AgentID != nil && u.AgentID != *filter.AgentID {
			continue
		}
		if filter.Since != nil && u.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && !u.CreatedAt.Before(*filter.Until) {
			continue
		}
		stats.TotalCalls++
		stats.TotalTokens += int64(u.Tokens)
		stats.TotalCost += u.Cost
		latency += u.LatencyMS
		if u.Status == "error" {
			stats.ErrorCount++
		}
	}
	if stats.TotalCalls > 0 {
		stats.AvgLatencyMS = float64(latency) / float64(stats.TotalCalls)
	}
	return &stats, nil
}

// GetActivePrompt returns the active template for a tenant/agent pair.
func (m *MockStore) GetActivePrompt(ctx context.Context, tenantID, agentID string) (*PromptVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.prompts[tenantID+":"+agentID]
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Active {
			c := *versions[i]
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// CreatePromptVersion stores the next version for a tenant/agent pair.
func (m *MockStore) CreatePromptVersion(ctx context.Context, pv *PromptVersion, activate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pv.TenantID + ":" + pv.AgentID
	versions := m.prompts[key]
	pv.Version = len(versions) + 1
	pv.Active = activate
	if activate {
		for _, v := range versions {
			v.Active = false
		}
	}
	c := *pv
	m.prompts[key] = append(versions, &c)
	return nil
}

// ActivatePromptVersion makes version the only active one.
func (m *MockStore) ActivatePromptVersion(ctx context.Context, tenantID, agentID string, version int) (*PromptVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.prompts[tenantID+":"+agentID]
	if version < 1 || version > len(versions) {
		return nil, ErrNotFound
	}
	for _, v := range versions {
		v.Active = v.Version == version
	}
	c := *versions[version-1]
	return &c, nil
}

// ListPromptVersions returns every version for a tenant/agent pair.
func (m *MockStore) ListPromptVersions(ctx context.Context, tenantID, agentID string) ([]*PromptVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*PromptVersion
	for _, v := range m.prompts[tenantID+":"+agentID] {
		c := *v
		result = append(result, &c)
	}
	return result, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var _ Store = (*MockStore)(nil)
