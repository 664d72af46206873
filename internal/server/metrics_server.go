// Package server exposes a tablet's metrics and liveness surface: a
// Prometheus HTTP endpoint plus a standard gRPC health service, the way
// the teacher's metrics server exposes /metrics, /health and /ready, with
// disk-specific readiness swapped for queue-open readiness and a gRPC
// health.Server layered on top for RPC-native callers.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthcheck "leaderqueue/internal/health"
	"leaderqueue/internal/metrics"
)

// Config holds the listen addresses for the two servers this type runs.
type Config struct {
	HTTPPort int
	GRPCPort int
}

// MetricsServer runs the Prometheus HTTP endpoint and the gRPC health
// service side by side, both reflecting the same HealthChecker.
type MetricsServer struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcHealth *health.Server
	checker    *healthcheck.HealthChecker
	logger     *zap.Logger
	grpcPort   int
	stopChan   chan struct{}
}

// NewMetricsServer wires m's registry into /metrics and checker's
// liveness/readiness into /health, /ready and the gRPC health service.
func NewMetricsServer(cfg Config, m *metrics.Metrics, checker *healthcheck.HealthChecker, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", checker.LivenessHandler)
	mux.HandleFunc("/ready", checker.ReadinessHandler)

	grpcHealth := health.NewServer()
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		grpcServer: grpcServer,
		grpcHealth: grpcHealth,
		checker:    checker,
		logger:     logger,
		grpcPort:   cfg.GRPCPort,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the HTTP and gRPC listeners and begins mirroring the
// HealthChecker's readiness into the gRPC health service's serving status.
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.grpcPort))
	if err != nil {
		return fmt.Errorf("listen for grpc health service: %w", err)
	}

	s.logger.Info("starting metrics server", zap.String("http_addr", s.httpServer.Addr))
	s.logger.Info("starting grpc health service", zap.String("addr", lis.Addr().String()))

	go s.syncGRPCHealth()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("grpc health service failed", zap.Error(err))
		}
	}()

	return nil
}

// syncGRPCHealth polls the HealthChecker and republishes its readiness as
// the gRPC health service's overall serving status.
func (s *MetricsServer) syncGRPCHealth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if s.checker.IsReady() {
				status = healthpb.HealthCheckResponse_SERVING
			}
			s.grpcHealth.SetServingStatus("", status)
		case <-s.stopChan:
			return
		}
	}
}

// Stop gracefully shuts down both servers.
func (s *MetricsServer) Stop() error {
	s.logger.Info("stopping metrics server")
	close(s.stopChan)

	s.grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
