package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	repo "github.com/joseph-ayodele/docflow/internal/repository"
)

// ServiceName is the health service name reported alongside the overall "" status.
const ServiceName = "docflow.Daemon"

// HealthMonitor serves the gRPC health protocol. Status follows periodic store pings.
type HealthMonitor struct {
	store    repo.RecordStore
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	hs   *health.Server
	grpc *grpc.Server
}

func NewHealthMonitor(store repo.RecordStore, interval time.Duration, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	// Reflection for grpcurl
	reflection.Register(grpcServer)

	m := &HealthMonitor{
		store:    store,
		interval: interval,
		timeout:  3 * time.Second,
		logger:   logger,
		hs:       hs,
		grpc:     grpcServer,
	}
	m.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return m
}

// Check pings the store once and updates the serving status.
func (m *HealthMonitor) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := PingDB(ctx, m.store, m.logger, m.timeout); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	m.set(status)
	return status
}

// Watch checks immediately and then every interval until ctx is done.
func (m *HealthMonitor) Watch(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	last := m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s := m.Check(ctx); s != last {
				m.logger.Warn("health.status.changed", "from", last.String(), "to", s.String())
				last = s
			}
		}
	}
}

// Serve blocks serving gRPC on lis.
func (m *HealthMonitor) Serve(lis net.Listener) error {
	m.logger.Info("health.grpc.serving", "addr", lis.Addr().String())
	return m.grpc.Serve(lis)
}

// Stop marks the service as not serving and stops gRPC gracefully.
func (m *HealthMonitor) Stop() {
	m.hs.Shutdown()
	m.grpc.GracefulStop()
}

// Server exposes the health server, mostly for tests.
func (m *HealthMonitor) Server() *health.Server {
	return m.hs
}

func (m *HealthMonitor) set(status healthpb.HealthCheckResponse_ServingStatus) {
	m.hs.SetServingStatus("", status)
	m.hs.SetServingStatus(ServiceName, status)
}
