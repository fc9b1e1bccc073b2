// Package grpcapi is the admin RPC surface: the standard health service,
// reporting the readiness of the service and of the event channel backbone,
// plus server reflection for grpcurl.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"speech-coach-service/internal/observability"
	"speech-coach-service/internal/observability/logging"
	"speech-coach-service/internal/observability/metrics"
)

// Health service names.
const (
	ServiceCoach   = "speech.coach.SessionService"
	ServiceChannel = "speech.coach.EventChannel"
)

// Server is the admin gRPC server.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    zerolog.Logger
}

// New builds the server with logging and metrics interceptors.
func New(m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, h)
	reflection.Register(g)

	for _, svc := range []string{"", ServiceCoach, ServiceChannel} {
		h.SetServingStatus(svc, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	}
	return &Server{grpc: g, health: h, log: logging.WithComponent("admin-grpc")}
}

// SetServing flips the overall and session service status.
func (s *Server) SetServing(serving bool) {
	st := status(serving)
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceCoach, st)
}

// SetChannelMode reports the event channel. It serves in both modes; the
// backbone mode is logged so operators can tell a degraded single-instance
// channel apart.
func (s *Server) SetChannelMode(mode string) {
	s.health.SetServingStatus(ServiceChannel, grpc_health_v1.HealthCheckResponse_SERVING)
	s.log.Info().Str("backboneMode", mode).Msg("Event channel health set")
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info().Str("addr", lis.Addr().String()).Msg("Admin gRPC server started")
	return s.grpc.Serve(lis)
}

// Stop marks everything not serving and stops gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func status(serving bool) grpc_health_v1.HealthCheckResponse_ServingStatus {
	if serving {
		return grpc_health_v1.HealthCheckResponse_SERVING
	}
	return grpc_health_v1.HealthCheckResponse_NOT_SERVING
}
