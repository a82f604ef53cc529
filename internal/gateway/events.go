// ABOUTME: Agent event feeds: JSON history, Server-Sent Events and a websocket stream
// ABOUTME: Live feeds replay the recent timeline first, then forward broadcaster events

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/store"
)

const (
	sseKeepaliveInterval = 15 * time.Second
	wsPingInterval       = 30 * time.Second
	wsWriteTimeout       = 10 * time.Second
	wsReadLimit          = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleListEvents handles GET /api/agents/{id}/events?limit=N.
func (g *Gateway) handleListEvents(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	events, err := g.hub.Events(r.Context(), rec.ID, queryInt(r, "limit", agent.DefaultEventLimit))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*store.AgentEvent{}
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// liveFeed subscribes to an agent and loads its backlog. Events already in
// the backlog are filtered out of the live channel by seen.
type liveFeed struct {
	backlog []*store.AgentEvent
	live    <-chan *store.AgentEvent
	seen    map[string]bool
}

func (g *Gateway) openFeed(r *http.Request, agentID string) (*liveFeed, error) {
	// Subscribe before reading the backlog so nothing falls between them.
	live, _ := g.bus.Subscribe(r.Context(), agentID)
	backlog, err := g.hub.Events(r.Context(), agentID, queryInt(r, "limit", agent.DefaultEventLimit))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(backlog))
	for _, evt := range backlog {
		seen[evt.ID] = true
	}
	return &liveFeed{backlog: backlog, live: live, seen: seen}, nil
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}

// handleEventStream handles GET /api/agents/{id}/events/stream as Server-Sent Events.
// Each agent event is sent with its type as the SSE event name.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	feed, err := g.openFeed(r, rec.ID)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, evt := range feed.backlog {
		g.writeSSEEvent(w, string(evt.Type), evt)
	}
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, ok := <-feed.live:
			if !ok {
				return
			}
			if feed.seen[evt.ID] {
				continue
			}
			g.writeSSEEvent(w, string(evt.Type), evt)
			flusher.Flush()
		}
	}
}

// handleEventSocket handles GET /api/agents/{id}/events/ws. Every agent event
// is written as one JSON text message; client messages are ignored.
func (g *Gateway) handleEventSocket(w http.ResponseWriter, r *http.Request) {
	rec, err := g.agentForRequest(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "agent_id", rec.ID, "error", err)
		return
	}
	defer conn.Close()

	feed, err := g.openFeed(r, rec.ID)
	if err != nil {
		g.logger.Error("failed to open event feed", "agent_id", rec.ID, "error", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event feed unavailable"))
		return
	}

	// The reader only notices closes; its exit ends the writer loop.
	closed := make(chan struct{})
	conn.SetReadLimit(wsReadLimit)
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					g.logger.Debug("websocket read error", "agent_id", rec.ID, "error", err)
				}
				return
			}
		}
	}()

	write := func(evt *store.AgentEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(evt)
	}
	for _, evt := range feed.backlog {
		if err := write(evt); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case evt, ok := <-feed.live:
			if !ok {
				return
			}
			if feed.seen[evt.ID] {
				continue
			}
			if err := write(evt); err != nil {
				g.logger.Debug("websocket write failed", "agent_id", rec.ID, "error", err)
				return
			}
		}
	}
}
