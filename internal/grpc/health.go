// Package grpc serves the standard gRPC health service. Readiness follows the
// reachability of the stores the HTTP API depends on.
package grpc

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name for the whole API.
const ServiceName = "nexusmarket.Orders"

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

type HealthChecker struct {
	server   *health.Server
	checks   map[string]Checker
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
}

func NewHealthChecker(checks map[string]Checker, interval time.Duration, log *slog.Logger) *HealthChecker {
	h := &HealthChecker{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		timeout:  2 * time.Second,
		log:      log.With("component", "health"),
	}
	h.setAll(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// NewServer returns a gRPC server with health, reflection and tracing registered.
func NewServer(h *HealthChecker) *grpc.Server {
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(s, h.server)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(s)
	return s
}

// Run checks dependencies every interval until ctx is done, then reports NOT_SERVING.
func (h *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.checkOnce(ctx)
	for {
		select {
		case <-ticker.C:
			h.checkOnce(ctx)
		case <-ctx.Done():
			h.server.Shutdown()
			return
		}
	}
}

func (h *HealthChecker) checkOnce(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, name := range h.names() {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](cctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
			h.log.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", err)
		}
		h.server.SetServingStatus(name, status)
	}
	h.server.SetServingStatus("", overall)
	h.server.SetServingStatus(ServiceName, overall)
}

func (h *HealthChecker) setAll(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	for name := range h.checks {
		h.server.SetServingStatus(name, status)
	}
}

func (h *HealthChecker) names() []string {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
