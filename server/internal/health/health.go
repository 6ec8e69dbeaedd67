package health

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/skyway/adminboard/server/internal/auth"
	"github.com/skyway/adminboard/server/internal/config"
)

// Service names reported by the health server.
const (
	ServiceRealtime = "adminboard.realtime"
	ServiceHTTP     = "adminboard.http"
)

// Checker keeps the gRPC health statuses in step with the realtime transport.
type Checker struct {
	srv       *health.Server
	connected func() bool
	last      healthpb.HealthCheckResponse_ServingStatus
}

// NewChecker creates a Checker and records the initial status.
func NewChecker(connected func() bool) *Checker {
	c := &Checker{srv: health.NewServer(), connected: connected}
	c.srv.SetServingStatus(ServiceHTTP, healthpb.HealthCheckResponse_SERVING)
	c.Update()
	return c
}

// Update samples the transport and publishes the result.
func (c *Checker) Update() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if c.connected != nil && c.connected() {
		st = healthpb.HealthCheckResponse_SERVING
	}
	if st != c.last {
		slog.Info("health: status changed", "service", ServiceRealtime, "status", st.String())
	}
	c.last = st
	c.srv.SetServingStatus("", st)
	c.srv.SetServingStatus(ServiceRealtime, st)
}

// Run calls Update every interval until ctx is cancelled, then marks every
// service NOT_SERVING.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.srv.Shutdown()
			return
		case <-t.C:
			c.Update()
		}
	}
}

// NewServer returns a gRPC server with the health service registered behind
// the API key interceptors configured in cfg.
func NewServer(cfg config.AuthConfig, c *Checker) *grpc.Server {
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.APIKeyInterceptor(cfg.Mode, cfg.EffectiveHeader(), cfg.Key())),
		grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(cfg.Mode, cfg.EffectiveHeader(), cfg.Key())),
	)
	healthpb.RegisterHealthServer(srv, c.srv)
	return srv
}
