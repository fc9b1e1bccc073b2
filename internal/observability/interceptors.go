// Package observability provides the metrics HTTP server and gRPC interceptors.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"speech-coach-service/internal/observability/metrics"
)

// healthPrefix matches the health checks kubelets and load balancers send every few
// seconds; they are counted but logged at trace level.
const healthPrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor counts and logs admin unary calls.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observeCall(ctx, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor counts and logs admin streams. Health Watch is the
// only streaming method the admin server exposes.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		observeCall(ss.Context(), m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observeCall(ctx context.Context, m *metrics.Metrics, method, kind string, start time.Time, err error) {
	code := status.Code(err).String()
	m.RecordAdminCall(method, code)

	level := zerolog.DebugLevel
	switch {
	case err != nil:
		level = zerolog.WarnLevel
	case strings.HasPrefix(method, healthPrefix):
		level = zerolog.TraceLevel
	}
	ev := log.WithLevel(level).
		Str("method", method).
		Str("kind", kind).
		Str("code", code).
		Dur("duration", time.Since(start))
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		ev = ev.Str("peer", p.Addr.String())
	}
	ev.Msg("Admin call")
}
