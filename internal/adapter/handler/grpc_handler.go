package handler

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/order-fulfillment/internal/config"
)

// HealthHandler exposes grpc.health.v1.Health for the worker. The empty
// service name and the service's own name report the same status.
type HealthHandler struct {
	server *health.Server
}

func NewHealthHandler() *HealthHandler {
	h := &HealthHandler{server: health.NewServer()}
	h.SetServing(false)
	return h
}

func (h *HealthHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
	reflection.Register(s)
}

// SetServing flips the reported status while the worker loop runs.
func (h *HealthHandler) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(config.ServiceName, status)
}

// Shutdown reports NOT_SERVING to every watcher and ignores later updates.
func (h *HealthHandler) Shutdown() {
	h.server.Shutdown()
}
