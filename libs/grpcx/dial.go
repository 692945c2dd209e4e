package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Nil means plaintext.
	TransportCredentials grpc.DialOption
}

// NewClient returns a lazily connecting client with tracing and request-id
// propagation. Deadlines come from each call's context.
func NewClient(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := append([]grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}, extra...)
	return grpc.NewClient(addr, dialOpts...)
}
