package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PipelineService is the gRPC health service name orchestrators probe
const PipelineService = "reconciliation.Pipeline"

// GRPCHealth serves the standard grpc.health.v1 service and mirrors the
// HealthChecker result into it
type GRPCHealth struct {
	server  *grpc.Server
	health  *health.Server
	checker *HealthChecker
	logger  *zap.Logger
}

// NewGRPCHealth creates the gRPC health server; statuses start NOT_SERVING
func NewGRPCHealth(checker *HealthChecker, logger *zap.Logger) *GRPCHealth {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{server: srv, health: hs, checker: checker, logger: logger}
}

// Start listens on port and refreshes the serving status every interval
// until ctx is cancelled
func (g *GRPCHealth) Start(ctx context.Context, port int, interval time.Duration) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}

	go func() {
		if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			g.logger.Error("gRPC health server error", zap.Error(err))
		}
	}()

	g.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.Refresh(ctx)
			}
		}
	}()

	g.logger.Info("gRPC health server started", zap.Int("port", port))
	return nil
}

// Refresh runs the checks once and publishes the result
func (g *GRPCHealth) Refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if !g.checker.Check(ctx).Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(PipelineService, status)
}

// Server exposes the health service for in-process probes
func (g *GRPCHealth) Server() healthpb.HealthServer {
	return g.health
}

// Shutdown marks every service NOT_SERVING and stops the listener
func (g *GRPCHealth) Shutdown(ctx context.Context) error {
	g.health.Shutdown()
	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.server.Stop()
		return ctx.Err()
	}
}
