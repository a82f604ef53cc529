// ABOUTME: Tests for the agent event feeds over a real HTTP server
// ABOUTME: Covers SSE framing, websocket JSON frames and backlog replay before live events

package gateway

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/store"
)

func TestFormatSSEEvent(t *testing.T) {
	got := formatSSEEvent("HEARTBEAT_TICK", `{"id":"e1"}`)
	assert.Equal(t, "event: HEARTBEAT_TICK\ndata: {\"id\":\"e1\"}\n\n", got)
}

// readSSEEvents streams "event:" names from an SSE body onto a channel.
func readSSEEvents(body *bufio.Scanner) <-chan string {
	names := make(chan string, 16)
	go func() {
		defer close(names)
		for body.Scan() {
			if name, ok := strings.CutPrefix(body.Text(), "event: "); ok {
				names <- name
			}
		}
	}()
	return names
}

func waitForEvent(t *testing.T, names <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case name, ok := <-names:
			require.True(t, ok, "stream closed before %s", want)
			if name == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestEventStreamSSE(t *testing.T) {
	gw := newTestGateway(t)
	gw.createAgent(t, "a1", "Mail Agent", false)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/agents/a1/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names := readSSEEvents(bufio.NewScanner(resp.Body))
	waitForEvent(t, names, string(store.AgentEventCreated))

	start, err := http.Post(srv.URL+"/api/agents/a1/start", "application/json", nil)
	require.NoError(t, err)
	start.Body.Close()
	require.Equal(t, http.StatusOK, start.StatusCode)

	waitForEvent(t, names, string(store.AgentEventStarted))
}

func TestEventStreamUnknownAgent(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodGet, "/api/agents/ghost/events/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventSocket(t *testing.T) {
	gw := newTestGateway(t)
	gw.createAgent(t, "a1", "Mail Agent", false)

	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/agents/a1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() store.AgentEvent {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var evt store.AgentEvent
		require.NoError(t, conn.ReadJSON(&evt))
		return evt
	}

	first := readEvent()
	assert.Equal(t, store.AgentEventCreated, first.Type)
	assert.Equal(t, "a1", first.AgentID)

	start, err := http.Post(srv.URL+"/api/agents/a1/start", "application/json", nil)
	require.NoError(t, err)
	start.Body.Close()

	for {
		evt := readEvent()
		if evt.Type == store.AgentEventStarted {
			break
		}
	}
}
