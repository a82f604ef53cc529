// ABOUTME: Shared fixtures for agent tests: a fake tool runner and a fully wired hub
// ABOUTME: Everything runs on the in-memory MockStore

package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Arcetro/talkative/internal/broadcast"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/prompt"
	"github.com/Arcetro/talkative/internal/router"
	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
)

// fakeTools records commands and answers from canned results.
type fakeTools struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*sandbox.Result
	errs    map[string]error
}

func newFakeTools() *fakeTools {
	return &fakeTools{results: map[string]*sandbox.Result{}, errs: map[string]error{}}
}

func (f *fakeTools) Run(ctx context.Context, workspace, command string) (*sandbox.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, command)
	if err, ok := f.errs[command]; ok {
		return nil, err
	}
	if r, ok := f.results[command]; ok {
		return r, nil
	}
	return &sandbox.Result{
		OK:        true,
		Command:   command,
		Artifacts: []sandbox.Artifact{{Type: "log", Path: "stdout"}},
		Metrics:   sandbox.Metrics{DurationMS: 5},
	}, nil
}

func (f *fakeTools) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testEnv struct {
	hub    *Hub
	store  *store.MockStore
	ledger *ledger.Ledger
	tools  *fakeTools
	bus    *broadcast.Broadcaster
	root   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, store.NewMockStore(), t.TempDir(), time.Minute)
}

func newTestEnvWith(t *testing.T, s *store.MockStore, root string, unit time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  s,
		ledger: ledger.New(s, nil),
		tools:  newFakeTools(),
		bus:    broadcast.New(nil),
		root:   root,
	}
	env.hub = NewHub(s, Deps{
		Events:        s,
		Ledger:        env.ledger,
		Tools:         env.tools,
		Prompts:       prompt.NewService(s, nil),
		Approvals:     s,
		Usage:         router.NewService(s, "", nil),
		Publisher:     env.bus,
		HeartbeatUnit: unit,
	}, HubConfig{WorkspaceRoot: root})
	require.NoError(t, env.hub.Init(context.Background()))
	t.Cleanup(func() {
		env.hub.Close()
		env.bus.Close()
	})
	return env
}

// runningAgent creates and starts an agent.
func (e *testEnv) runningAgent(t *testing.T, in CreateInput) *store.AgentRecord {
	t.Helper()
	ctx := context.Background()
	_, err := e.hub.CreateAgent(ctx, in)
	require.NoError(t, err)
	rec, err := e.hub.StartAgent(ctx, in.ID)
	require.NoError(t, err)
	return rec
}

func eventTypes(events []*store.AgentEvent) []store.AgentEventType {
	types := make([]store.AgentEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func actionTypes(actions []Action) []string {
	types := make([]string, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}
