// ABOUTME: Tests for gateway wiring: health endpoints, gRPC health status, auth and tenant scoping
// ABOUTME: Shared fixtures build a gateway over the MockStore with stub tools and a canned LLM

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/config"
	"github.com/Arcetro/talkative/internal/llm"
	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubTools struct{}

func (stubTools) Run(ctx context.Context, workspace, command string) (*sandbox.Result, error) {
	return &sandbox.Result{OK: true, Command: command}, nil
}

// cannedLLM answers every completion with content, or fails with err.
type cannedLLM struct {
	content string
	err     error
}

func (c *cannedLLM) ChatCompletion(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Content: c.content}, nil
}

type testGateway struct {
	*Gateway
	store *store.MockStore
	llm   *cannedLLM
}

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()
	cfg := config.Default()
	cfg.Agents.WorkspaceRoot = t.TempDir()
	cfg.Supervisor.SubtaskTimeout = 5 * time.Second
	for _, m := range mutate {
		m(cfg)
	}

	s := store.NewMockStore()
	chat := &cannedLLM{}
	gw, err := NewWithOptions(context.Background(), cfg, Options{Store: s, Tools: stubTools{}, LLM: chat}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.closeComponents() })
	return &testGateway{Gateway: gw, store: s, llm: chat}
}

// do sends a request through the full handler chain. body may be nil.
func (g *testGateway) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

// createAgent creates an agent through the API and optionally starts it.
func (g *testGateway) createAgent(t *testing.T, id, name string, start bool, headers ...string) {
	t.Helper()
	rec := g.do(t, http.MethodPost, "/api/agents", map[string]any{"id": id, "name": name}, headers...)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	if start {
		rec = g.do(t, http.MethodPost, "/api/agents/"+id+"/start", nil, headers...)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[map[string]string](t, rec)["error"]
}

func TestHealthEndpoints(t *testing.T) {
	gw := newTestGateway(t)

	rec := gw.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = gw.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "no agents running", rec.Body.String())

	gw.createAgent(t, "a1", "Mail Agent", true)
	rec = gw.do(t, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready (1 agents running)", rec.Body.String())
}

func TestGRPCHealthTracksAgentStatus(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := gw.healthServer.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	gw.createAgent(t, "a1", "Mail Agent", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("agent/a1"))

	gw.do(t, http.MethodPost, "/api/agents/a1/start", nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("agent/a1"))

	gw.do(t, http.MethodPost, "/api/agents/a1/stop", nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("agent/a1"))
}

func TestTenantHeaderScopesAgents(t *testing.T) {
	gw := newTestGateway(t)
	gw.createAgent(t, "a1", "Acme Agent", false, auth.TenantHeader, "acme")

	rec := gw.do(t, http.MethodGet, "/api/agents/a1", nil, auth.TenantHeader, "acme")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", decodeBody[store.AgentRecord](t, rec).TenantID)

	rec = gw.do(t, http.MethodGet, "/api/agents/a1", nil, auth.TenantHeader, "globex")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Agent not found", errorMessage(t, rec))

	rec = gw.do(t, http.MethodGet, "/api/agents", nil)
	list := decodeBody[map[string][]store.AgentRecord](t, rec)
	assert.Empty(t, list["agents"], "default tenant sees no acme agents")
}

func TestJWTAuth(t *testing.T) {
	gw := newTestGateway(t, func(c *config.Config) { c.Auth.JWTSecret = testSecret })
	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	token := func(claims auth.Claims) string {
		t.Helper()
		tok, err := verifier.Generate(claims, time.Hour)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	user := token(auth.Claims{Subject: "user-1", TenantID: "acme"})

	t.Run("missing token", func(t *testing.T) {
		rec := gw.do(t, http.MethodGet, "/api/agents", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health stays open", func(t *testing.T) {
		rec := gw.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("tenant comes from the claim", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/agents", map[string]any{"id": "a1", "name": "Acme"},
			"Authorization", user, auth.TenantHeader, "globex")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "acme", decodeBody[store.AgentRecord](t, rec).TenantID)
	})

	t.Run("body tenant must match claim", func(t *testing.T) {
		rec := gw.do(t, http.MethodPost, "/api/agents", map[string]any{"id": "a2", "name": "X", "tenant_id": "globex"},
			"Authorization", user)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("decide requires admin", func(t *testing.T) {
		body := map[string]any{"decision": "approved"}
		rec := gw.do(t, http.MethodPost, "/api/approvals/nope/decide", body, "Authorization", user)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		admin := token(auth.Claims{Subject: "ops-1", TenantID: "acme", Roles: []string{"admin"}})
		rec = gw.do(t, http.MethodPost, "/api/approvals/nope/decide", body, "Authorization", admin)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Approval request not found", errorMessage(t, rec))
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"store not found", store.ErrNotFound, http.StatusNotFound},
		{"duplicate", store.ErrDuplicate, http.StatusConflict},
		{"path escape", sandbox.ErrPathEscape, http.StatusBadRequest},
		{"no api key", llm.ErrNoAPIKey, http.StatusServiceUnavailable},
		{"tenant mismatch", errTenantMismatch, http.StatusForbidden},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := statusForError(tt.err)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, msg)
		})
	}

	_, msg := statusForError(assert.AnError)
	assert.Equal(t, "internal server error", msg, "unexpected errors are not leaked")
}
