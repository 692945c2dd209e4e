package grpcx

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// NewServer returns a traced gRPC server with the standard health service
// registered and SERVING for the empty service name. Callers flip it to
// NOT_SERVING when shutdown starts.
func NewServer(logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRequestIDInterceptor(),
			UnaryServerLogInterceptor(logger),
		),
	}
	srv := grpc.NewServer(append(base, opts...)...)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// ReadyCheck asks the health service at addr about service ("" for the
// whole server).
func ReadyCheck(addr, service string, extra ...grpc.DialOption) func(context.Context) error {
	return func(ctx context.Context) error {
		conn, err := NewClient(addr, DialOptions{}, extra...)
		if err != nil {
			return err
		}
		defer conn.Close()

		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return fmt.Errorf("grpc health %s: %s", addr, resp.GetStatus())
		}
		return nil
	}
}
