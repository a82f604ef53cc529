// ABOUTME: Runtime owns one agent: its workspace, heartbeat ticker and event emission
// ABOUTME: Every emitted event is stored, mirrored into the run ledger and published live

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/prompt"
	"github.com/Arcetro/talkative/internal/store"
)

// Runtime runs a single agent. The mutex guards the record, the skill list
// and the ticker; message handling and heartbeats are not serialized.
type Runtime struct {
	mu     sync.Mutex
	record store.AgentRecord
	skills []Skill

	deps     Deps
	onUpdate func(ctx context.Context, record *store.AgentRecord) error
	logger   *slog.Logger
	now      func() time.Time

	stopTicker context.CancelFunc
	tickerDone chan struct{}
}

// NewRuntime creates a runtime for record. onUpdate persists the record
// whenever the runtime changes it and may be nil.
func NewRuntime(record store.AgentRecord, deps Deps, onUpdate func(context.Context, *store.AgentRecord) error) *Runtime {
	deps = deps.withDefaults()
	if onUpdate == nil {
		onUpdate = func(context.Context, *store.AgentRecord) error { return nil }
	}
	return &Runtime{
		record:   record,
		skills:   []Skill{},
		deps:     deps,
		onUpdate: onUpdate,
		logger:   deps.Logger.With("component", "agent", "agent_id", record.ID),
		now:      time.Now,
	}
}

// Record returns a copy of the agent record.
func (r *Runtime) Record() store.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record
}

// Skills returns the skills loaded at the last refresh.
func (r *Runtime) Skills() []Skill {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Skill(nil), r.skills...)
}

// HasSkill reports whether a skill with id is attached.
func (r *Runtime) HasSkill(id string) bool {
	for _, s := range r.Skills() {
		if s.ID == id {
			return true
		}
	}
	return false
}

// RefreshSkills rescans the workspace skills directory.
func (r *Runtime) RefreshSkills() ([]Skill, error) {
	skills, err := LoadSkills(r.Record().Workspace)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.skills = skills
	r.mu.Unlock()
	return append([]Skill(nil), skills...), nil
}

// Initialize prepares the workspace, loads skills and makes sure the agent
// has an active prompt.
func (r *Runtime) Initialize(ctx context.Context) error {
	rec := r.Record()
	if err := prepareWorkspace(rec.Workspace, rec.HeartbeatMinutes); err != nil {
		return err
	}
	if _, err := r.RefreshSkills(); err != nil {
		return err
	}
	if r.deps.Prompts != nil {
		if _, err := r.deps.Prompts.Ensure(ctx, rec.TenantID, rec.AgentID, prompt.DefaultTemplate); err != nil {
			return fmt.Errorf("ensuring prompt: %w", err)
		}
	}
	return nil
}

// Start initializes the agent, applies config.json and starts the heartbeat ticker.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.Initialize(ctx); err != nil {
		return err
	}

	rec := r.Record()
	if minutes, ok := readHeartbeatMinutes(rec.Workspace); ok {
		rec.HeartbeatMinutes = minutes
	}
	r.schedule(rec.HeartbeatMinutes)

	rec, err := r.update(ctx, func(a *store.AgentRecord) {
		a.HeartbeatMinutes = rec.HeartbeatMinutes
		a.Status = store.AgentRunning
	})
	if err != nil {
		return err
	}

	r.logger.Info("agent started", "heartbeat_minutes", rec.HeartbeatMinutes)
	_, err = r.emit(ctx, store.AgentEventStarted, fmt.Sprintf("Agent %s started", rec.Name),
		map[string]any{"heartbeatMinutes": rec.HeartbeatMinutes})
	return err
}

// Stop cancels the heartbeat ticker and marks the agent stopped.
func (r *Runtime) Stop(ctx context.Context) error {
	r.cancelTicker()

	rec, err := r.update(ctx, func(a *store.AgentRecord) { a.Status = store.AgentStopped })
	if err != nil {
		return err
	}

	r.logger.Info("agent stopped")
	_, err = r.emit(ctx, store.AgentEventStopped, fmt.Sprintf("Agent %s stopped", rec.Name), nil)
	return err
}

// Close stops the heartbeat ticker without changing the persisted status.
func (r *Runtime) Close() {
	r.cancelTicker()
}

func (r *Runtime) schedule(minutes int) {
	r.cancelTicker()
	if minutes <= 0 {
		minutes = DefaultHeartbeatMinutes
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.mu.Lock()
	r.stopTicker = cancel
	r.tickerDone = done
	r.mu.Unlock()

	interval := time.Duration(minutes) * r.deps.HeartbeatUnit
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunHeartbeat(ctx, ReasonScheduled); err != nil && ctx.Err() == nil {
					r.logger.Error("scheduled heartbeat failed", "error", err)
				}
			}
		}
	}()
}

func (r *Runtime) cancelTicker() {
	r.mu.Lock()
	cancel, done := r.stopTicker, r.tickerDone
	r.stopTicker, r.tickerDone = nil, nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// update applies fn to the record, stamps UpdatedAt and persists it.
func (r *Runtime) update(ctx context.Context, fn func(*store.AgentRecord)) (store.AgentRecord, error) {
	r.mu.Lock()
	fn(&r.record)
	r.record.UpdatedAt = r.now().UTC()
	rec := r.record
	r.mu.Unlock()

	if err := r.onUpdate(ctx, &rec); err != nil {
		return rec, fmt.Errorf("persisting agent: %w", err)
	}
	return rec, nil
}

// emit appends an event to the agent timeline, mirrors it into the ledger
// and publishes it.
func (r *Runtime) emit(ctx context.Context, typ store.AgentEventType, message string, payload map[string]any) (*store.AgentEvent, error) {
	rec := r.Record()
	event := &store.AgentEvent{
		ID:        uuid.NewString(),
		AgentRef:  rec.ID,
		AgentID:   rec.AgentID,
		TenantID:  rec.TenantID,
		Type:      typ,
		Message:   message,
		Payload:   payload,
		Timestamp: r.now().UTC(),
	}

	if err := r.deps.Events.SaveAgentEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("saving agent event: %w", err)
	}
	r.logger.Debug("agent event saved", "type", typ, "event_id", event.ID)
	r.prune(ctx, rec.ID)

	if r.deps.Ledger != nil {
		if _, err := r.deps.Ledger.MirrorAgentEvent(ctx, ledger.MirrorInput{
			TenantID:  rec.TenantID,
			AgentID:   rec.AgentID,
			EventType: string(typ),
			Message:   message,
			Payload:   payload,
		}); err != nil {
			return nil, fmt.Errorf("mirroring agent event: %w", err)
		}
	}

	if r.deps.Publisher != nil {
		r.deps.Publisher.Publish(event)
	}
	return event, nil
}

func (r *Runtime) prune(ctx context.Context, agentRef string) {
	count, err := r.deps.Events.CountAgentEvents(ctx, agentRef)
	if err != nil {
		r.logger.Error("counting agent events", "error", err)
		return
	}
	if count <= pruneThreshold {
		return
	}
	deleted, err := r.deps.Events.PruneAgentEvents(ctx, agentRef, pruneKeep)
	if err != nil {
		r.logger.Error("pruning agent events", "error", err)
		return
	}
	r.logger.Debug("agent events pruned", "deleted", deleted)
}

// newRunID returns run-<8 hex chars>.
func newRunID() string {
	return "run-" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
