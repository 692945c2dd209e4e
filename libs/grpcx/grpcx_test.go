package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

func startServer(t *testing.T) (string, func(serving bool)) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv, hs := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	set := func(serving bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !serving {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	return lis.Addr().String(), set
}

func TestReadyCheck(t *testing.T) {
	addr, set := startServer(t)
	check := ReadyCheck(addr, "")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := check(ctx); err != nil {
		t.Fatalf("expected serving, got %v", err)
	}

	set(false)
	if err := check(ctx); err == nil {
		t.Fatalf("expected not serving error")
	}
}

func TestServerEchoesRequestID(t *testing.T) {
	addr, _ := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, err := NewClient(addr, DialOptions{})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer conn.Close()

	var header metadata.MD
	callCtx := WithRequestID(ctx, "req-42")
	if _, err := healthpb.NewHealthClient(conn).Check(callCtx, &healthpb.HealthCheckRequest{}, grpc.Header(&header)); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-42" {
		t.Fatalf("expected echoed request id, got %v", got)
	}
}
