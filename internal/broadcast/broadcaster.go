// ABOUTME: In-memory fan-out of persisted agent events to live feed subscribers
// ABOUTME: Subscribers register per agent or for every agent; slow subscribers drop events

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Arcetro/talkative/internal/store"
)

// AllAgents subscribes to events of every agent.
const AllAgents = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster delivers agent events to subscribers after they are persisted.
// It feeds the SSE and websocket event streams.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.AgentEvent // agent ref -> sub id -> ch
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *store.AgentEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events of agentRef, or of all agents with AllAgents.
// The subscription ends, and the channel closes, when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agentRef string) (<-chan *store.AgentEvent, string) {
	subID := uuid.NewString()
	ch := make(chan *store.AgentEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[agentRef]; !ok {
		b.subscribers[agentRef] = make(map[string]chan *store.AgentEvent)
	}
	b.subscribers[agentRef][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent_ref", agentRef, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agentRef, subID)
	}()

	return ch, subID
}

// Publish delivers event to subscribers of its agent and to AllAgents
// subscribers. It never blocks.
func (b *Broadcaster) Publish(event *store.AgentEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	var targets []chan *store.AgentEvent
	for _, key := range []string{event.AgentRef, AllAgents} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"agent_ref", event.AgentRef,
				"event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agentRef, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agentRef]
	if !ok {
		return
	}
	ch, ok := subs[subID]
	if !ok {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, agentRef)
	}

	b.logger.Debug("subscriber removed", "agent_ref", agentRef, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for agentRef.
func (b *Broadcaster) SubscriberCount(agentRef string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[agentRef])
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}

	b.logger.Debug("broadcaster closed")
}
