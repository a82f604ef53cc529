// ABOUTME: Gateway composes the store, ledger, agent hub and supervisor behind HTTP and gRPC servers
// ABOUTME: Owns listener setup (TCP or tailnet), graceful shutdown and the liveness endpoints

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/Arcetro/talkative/internal/agent"
	"github.com/Arcetro/talkative/internal/auth"
	"github.com/Arcetro/talkative/internal/broadcast"
	"github.com/Arcetro/talkative/internal/config"
	"github.com/Arcetro/talkative/internal/dedupe"
	"github.com/Arcetro/talkative/internal/ledger"
	"github.com/Arcetro/talkative/internal/llm"
	"github.com/Arcetro/talkative/internal/prompt"
	"github.com/Arcetro/talkative/internal/router"
	"github.com/Arcetro/talkative/internal/sandbox"
	"github.com/Arcetro/talkative/internal/store"
	"github.com/Arcetro/talkative/internal/supervisor"
)

// Idempotent message replies are kept this long.
const (
	idempotencyTTL     = 5 * time.Minute
	idempotencyMaxKeys = 10_000
)

// Options replaces collaborators New would otherwise build from config.
// Zero fields are built from config.
type Options struct {
	Store store.Store
	Tools agent.ToolRunner
	LLM   supervisor.ChatCompleter
}

// Gateway serves the talkative HTTP API and the gRPC health service.
type Gateway struct {
	config *config.Config
	store  store.Store
	ledger *ledger.Ledger
	hub    *agent.Hub
	bus    *broadcast.Broadcaster

	prompts *prompt.Service
	usage   *router.Service

	supervisor *supervisor.Supervisor
	planner    *supervisor.Planner
	monitor    *supervisor.HealthMonitor

	// replies caches message responses by idempotency key.
	replies *dedupe.Cache[*cachedReply]

	verifier *auth.JWTVerifier

	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
}

// initStore opens the SQLite store, honouring TALKATIVE_DB_PATH.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("TALKATIVE_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initTools builds the sandboxed executor with the configured rego policy.
func initTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) (agent.ToolRunner, error) {
	policy, err := sandbox.LoadRegoPolicy(ctx, cfg.Sandbox.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("loading tool policy: %w", err)
	}
	return sandbox.NewExecutor(sandbox.Config{
		Interpreter: cfg.Sandbox.Interpreter,
		DenyList:    cfg.Sandbox.DenyList,
		Policy:      policy,
		Logger:      logger,
	}), nil
}

// New creates a Gateway from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	return NewWithOptions(ctx, cfg, Options{}, logger)
}

// NewWithOptions creates a Gateway, loads persisted agents and registers routes.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := opts.Store
	if s == nil {
		var err error
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	tools := opts.Tools
	if tools == nil {
		var err error
		if tools, err = initTools(ctx, cfg, logger); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	chat := opts.LLM
	if chat == nil {
		chat = llm.NewClient(llm.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Logger:  logger,
		})
	}

	g := &Gateway{
		config:       cfg,
		store:        s,
		ledger:       ledger.New(s, logger),
		bus:          broadcast.New(logger),
		prompts:      prompt.NewService(s, logger),
		usage:        router.NewService(s, cfg.Router.DefaultModel, logger),
		replies:      dedupe.New[*cachedReply](idempotencyTTL, idempotencyMaxKeys),
		grpcServer:   createGRPCServer(),
		healthServer: newHealthServer(),
		logger:       logger.With("component", "gateway"),
	}
	registerGRPCServices(g.grpcServer, g.healthServer)

	g.hub = agent.NewHub(s, agent.Deps{
		Events:           s,
		Ledger:           g.ledger,
		Tools:            tools,
		Prompts:          g.prompts,
		Approvals:        s,
		Usage:            g.usage,
		Publisher:        g.bus,
		Logger:           logger,
		ContextMaxTokens: cfg.Agents.ContextMaxTokens,
		RecentEvents:     cfg.Agents.RecentEvents,
	}, agent.HubConfig{
		WorkspaceRoot:    cfg.Agents.WorkspaceRoot,
		DefaultHeartbeat: cfg.Agents.DefaultHeartbeat,
		OnStatusChange:   g.setAgentServing,
	})
	if err := g.hub.Init(ctx); err != nil {
		g.closeComponents()
		return nil, fmt.Errorf("initializing agents: %w", err)
	}

	g.supervisor = supervisor.New(g.ledger, g.hub, supervisor.Config{
		SubtaskTimeout:  cfg.Supervisor.SubtaskTimeout,
		MaxSubtasks:     cfg.Supervisor.MaxSubtasks,
		EvaluateResults: cfg.Supervisor.EvaluateResults,
	}, logger)
	g.planner = supervisor.NewPlanner(chat, g.hub, cfg.Supervisor.MaxSubtasks, logger)
	g.monitor = supervisor.NewHealthMonitor(g.ledger, g.hub)

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			g.closeComponents()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		g.verifier = verifier
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Hub returns the agent registry.
func (g *Gateway) Hub() *agent.Hub {
	return g.hub
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// setupListeners creates listeners on the tailnet when enabled, else on TCP.
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
				"grpc_addr", g.config.Server.GRPCAddr,
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		select {
		case additionalErr := <-errCh:
			g.logger.Error("additional server error", "error", additionalErr)
		default:
		}
		return err
	}
}

// Run starts both servers and blocks until ctx is canceled or a server fails.
// A canceled context is a clean shutdown and returns nil.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	// ctx is already done here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "talkative", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens on :50051 (gRPC) and :80 (HTTP).
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	grpcLn, err = g.tsnetServer.Listen("tcp", ":50051")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	httpLn, err = g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = grpcLn.Close()
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents stops agent tickers and in-memory services, then closes the store.
func (g *Gateway) closeComponents() error {
	if g.hub != nil {
		g.hub.Close()
	}
	g.healthServer.Shutdown()
	g.bus.Close()
	g.replies.Close()
	return g.store.Close()
}

// Shutdown stops both servers and releases every component.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.closeComponents())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one agent is running.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	running, err := g.hub.ListAgents(r.Context(), store.AgentFilter{Status: store.AgentRunning})
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if len(running) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents running"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents running)", len(running))
}
