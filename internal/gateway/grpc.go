// ABOUTME: gRPC server construction and the standard health service
// ABOUTME: Each agent is published as service "agent/<id>", SERVING while its heartbeat loop runs

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/Arcetro/talkative/internal/store"
)

// agentServicePrefix prefixes agent ids in health service names.
const agentServicePrefix = "agent/"

// createGRPCServer creates a gRPC server with the gateway keepalive settings.
func createGRPCServer() *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
}

// newHealthServer returns a health server reporting the gateway itself as serving.
func newHealthServer() *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return hs
}

// registerGRPCServices registers all gRPC services on the server.
func registerGRPCServices(server *grpc.Server, hs *health.Server) {
	healthpb.RegisterHealthServer(server, hs)
}

// setAgentServing mirrors an agent's status into the health service.
func (g *Gateway) setAgentServing(agentID string, status store.AgentStatus) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if status == store.AgentRunning {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	g.healthServer.SetServingStatus(agentServicePrefix+agentID, serving)
}
