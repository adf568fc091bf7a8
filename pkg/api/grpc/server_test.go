package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aescanero/triage/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func TestServer_HealthFollowsChecks(t *testing.T) {
	var failing atomic.Bool
	srv := NewServer(&Config{
		Checks: map[string]ports.HealthCheck{
			"memory": func(ctx context.Context) error {
				if failing.Load() {
					return errors.New("database is locked")
				}
				return nil
			},
		},
		CheckInterval: time.Hour,
		Logger:        zaptest.NewLogger(t),
	})

	lis := bufconn.Listen(1 << 20)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	failing.Store(true)
	assert.False(t, srv.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))

	failing.Store(false)
	assert.True(t, srv.Refresh(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(ServiceName))

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown.Service"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-served)
}

func TestServer_NoChecksIsServing(t *testing.T) {
	srv := NewServer(&Config{Logger: zaptest.NewLogger(t)})
	assert.True(t, srv.Refresh(context.Background()))
}
