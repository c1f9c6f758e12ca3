package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	repo "github.com/joseph-ayodele/docflow/internal/repository"
)

type flakyStore struct {
	*repo.MemoryStore
	down atomic.Bool
}

func (s *flakyStore) Ping(context.Context) error {
	if s.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestHealthFollowsStorePing(t *testing.T) {
	t.Parallel()
	store := &flakyStore{MemoryStore: repo.NewMemoryStore()}
	m := NewHealthMonitor(store, time.Hour, nil)
	ctx := context.Background()

	resp, err := m.Server().Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, m.Check(ctx))
	resp, err = m.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	store.down.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, m.Check(ctx))
}

func TestHealthOverGRPC(t *testing.T) {
	t.Parallel()
	m := NewHealthMonitor(repo.NewMemoryStore(), time.Hour, nil)
	m.Check(context.Background())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = m.Serve(lis) }()
	defer m.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
