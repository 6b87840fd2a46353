package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPC wraps one gRPC node connection. Chain modules inject handlers
// over the connection instead of transcoding through JSON, so no
// generated stubs are required here beyond the health service.
type GRPC struct {
	endpoint string
	conn     *grpc.ClientConn
}

// DialGRPC connects to a gRPC node endpoint. https:// or :443
// endpoints use TLS, everything else dials insecure.
func DialGRPC(ctx context.Context, endpoint string) (*GRPC, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial grpc endpoint %s: %w", target, err)
	}

	return &GRPC{endpoint: endpoint, conn: conn}, nil
}

// Conn exposes the connection for handler injection.
func (g *GRPC) Conn() grpc.ClientConnInterface { return g.conn }

// Invoke runs a handler against the connection.
func (g *GRPC) Invoke(
	ctx context.Context,
	handler func(ctx context.Context, conn grpc.ClientConnInterface) (any, error),
) (any, error) {
	return handler(ctx, g.conn)
}

// Health checks the standard gRPC health service for the given
// service name (empty for the server as a whole).
func (g *GRPC) Health(ctx context.Context, service string) (bool, error) {
	resp, err := healthpb.NewHealthClient(g.conn).Check(ctx, &healthpb.HealthCheckRequest{
		Service: service,
	})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close tears down the connection.
func (g *GRPC) Close() error { return g.conn.Close() }
