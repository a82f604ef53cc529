// ABOUTME: Run ledger that appends commands/events and advances run state through the reducers
// ABOUTME: Serializes read-reduce-write per run with a keyed mutex so concurrent writers never lose updates

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/store"
)

var (
	// ErrMissingFields is returned when an envelope lacks tenant, agent, run or type.
	ErrMissingFields = errors.New("tenant_id, agent_id, run_id and type are required")

	// ErrUnknownType is returned for command or event types outside the closed sets.
	ErrUnknownType = errors.New("unknown type")
)

// CommandInput is the caller-supplied part of a command envelope.
type CommandInput struct {
	TenantID string
	AgentID  string
	RunID    string
	Type     store.CommandType
	Payload  map[string]any
}

// EventInput is the caller-supplied part of an event envelope.
type EventInput struct {
	TenantID string
	AgentID  string
	RunID    string
	Type     store.EventType
	Message  string
	Payload  map[string]any
}

// Ledger records commands and events and maintains the run records they drive.
type Ledger struct {
	store  store.LedgerStore
	locks  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Ledger backed by s.
func New(s store.LedgerStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  s,
		locks:  newKeyedMutex(),
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AppendCommand records a command and applies it to its run.
func (l *Ledger) AppendCommand(ctx context.Context, in CommandInput) (*store.Command, error) {
	if in.TenantID == "" || in.AgentID == "" || in.RunID == "" || in.Type == "" {
		return nil, ErrMissingFields
	}
	if !ValidCommand(in.Type) {
		return nil, fmt.Errorf("command %q: %w", in.Type, ErrUnknownType)
	}

	unlock := l.locks.Lock(in.RunID)
	defer unlock()

	cmd := &store.Command{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		AgentID:   in.AgentID,
		RunID:     in.RunID,
		CreatedAt: l.now(),
		Type:      in.Type,
		Payload:   in.Payload,
	}

	run, err := l.loadOrCreate(ctx, in.TenantID, in.AgentID, in.RunID)
	if err != nil {
		return nil, err
	}

	input := Input{Command: in.Type}
	l.advance(run, input, cmd.CreatedAt)

	if err := l.store.SaveCommand(ctx, cmd, run); err != nil {
		return nil, fmt.Errorf("saving command: %w", err)
	}

	l.logger.Debug("command appended", "run_id", run.RunID, "type", in.Type, "status", run.Status, "subagent_state", run.SubagentState)
	return cmd, nil
}

// AppendEvent records an event and applies it to its run.
func (l *Ledger) AppendEvent(ctx context.Context, in EventInput) (*store.Event, error) {
	if in.TenantID == "" || in.AgentID == "" || in.RunID == "" || in.Type == "" {
		return nil, ErrMissingFields
	}
	if !ValidEvent(in.Type) {
		return nil, fmt.Errorf("event %q: %w", in.Type, ErrUnknownType)
	}

	unlock := l.locks.Lock(in.RunID)
	defer unlock()

	evt := &store.Event{
		ID:        uuid.New().String(),
		TenantID:  in.TenantID,
		AgentID:   in.AgentID,
		RunID:     in.RunID,
		CreatedAt: l.now(),
		Type:      in.Type,
		Message:   in.Message,
		Payload:   in.Payload,
	}

	run, err := l.loadOrCreate(ctx, in.TenantID, in.AgentID, in.RunID)
	if err != nil {
		return nil, err
	}

	l.advance(run, Input{Event: in.Type}, evt.CreatedAt)
	if in.Type == store.EventErrorCompacted {
		run.LastError = in.Message
	}

	if err := l.store.SaveEvent(ctx, evt, run); err != nil {
		return nil, fmt.Errorf("saving event: %w", err)
	}

	l.logger.Debug("event appended", "run_id", run.RunID, "type", in.Type, "status", run.Status, "subagent_state", run.SubagentState)
	return evt, nil
}

func (l *Ledger) loadOrCreate(ctx context.Context, tenantID, agentID, runID string) (*store.RunRecord, error) {
	run, err := l.store.GetRun(ctx, runID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	now := l.now()
	return &store.RunRecord{
		RunID:         runID,
		TenantID:      tenantID,
		AgentID:       agentID,
		Status:        store.RunPending,
		SubagentState: store.SubagentIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
		Steps:         []store.RunStep{},
	}, nil
}

func (l *Ledger) advance(run *store.RunRecord, in Input, at time.Time) {
	run.Status = ReduceRunStatus(run.Status, in)
	run.SubagentState = ReduceSubagentState(run.SubagentState, in)
	run.UpdatedAt = at
}

// GetRun returns a run with its step history.
// Returns store.ErrNotFound if the run doesn't exist.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*store.RunRecord, error) {
	return l.store.GetRun(ctx, runID)
}

// ListRuns returns runs oldest first, keeping the last filter.Limit (default 100).
func (l *Ledger) ListRuns(ctx context.Context, filter store.RunFilter) ([]*store.RunRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return l.store.ListRuns(ctx, filter)
}

// ActiveRunForAgent returns the most recently updated pending, running or paused
// run of an agent, or nil when there is none.
func (l *Ledger) ActiveRunForAgent(ctx context.Context, agentID string) (*store.RunRecord, error) {
	run, err := l.store.LatestRunForAgent(ctx, agentID, store.RunRunning, store.RunPaused, store.RunPending)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding active run: %w", err)
	}
	return run, nil
}

// MirrorInput describes an agent timeline event to copy into the ledger.
type MirrorInput struct {
	TenantID  string
	AgentID   string
	RunID     string // defaults to payload run_id, then session-<agent_id>
	EventType string
	Message   string
	Payload   map[string]any
}

// MirrorAgentEvent records an agent timeline event as a ledger event.
func (l *Ledger) MirrorAgentEvent(ctx context.Context, in MirrorInput) (*store.Event, error) {
	runID := in.RunID
	if runID == "" {
		if v, ok := in.Payload["run_id"].(string); ok && v != "" {
			runID = v
		} else {
			runID = "session-" + in.AgentID
		}
	}

	payload := make(map[string]any, len(in.Payload)+1)
	payload["source_event_type"] = in.EventType
	for k, v := range in.Payload {
		payload[k] = v
	}

	return l.AppendEvent(ctx, EventInput{
		TenantID: in.TenantID,
		AgentID:  in.AgentID,
		RunID:    runID,
		Type:     MapAgentEventType(in.EventType),
		Message:  in.Message,
		Payload:  payload,
	})
}

// MapAgentEventType maps agent timeline event names onto ledger event types.
func MapAgentEventType(agentEvent string) store.EventType {
	switch store.AgentEventType(agentEvent) {
	case store.AgentEventToolRunStarted:
		return store.EventToolStarted
	case store.AgentEventToolRunFinished:
		return store.EventToolFinished
	case store.AgentEventMetricRecorded:
		return store.EventMetricRecorded
	default:
		return store.EventStateChanged
	}
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
