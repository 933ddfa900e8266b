package grpc

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/pkg/log"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

// ServiceName is reported alongside the overall ("") health status.
const ServiceName = "msgrelay.Relay"

// refreshInterval is how often the serving status follows the delivery mode.
const refreshInterval = time.Second

// StatusFunc returns the current relay status.
type StatusFunc func() model.RelayStatus

// Server exposes the standard gRPC health service.
type Server struct {
	server  *grpc.Server
	health  *health.Server
	status  StatusFunc
	options *options.GrpcOptions
}

func NewServer(opts *options.GrpcOptions, status StatusFunc) *Server {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s) // grpc_cli / grpcurl support

	srv := &Server{
		server:  s,
		health:  hs,
		status:  status,
		options: opts,
	}
	srv.refresh()
	return srv
}

// refresh maps readiness onto the health status of both service names.
func (s *Server) refresh() {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if s.status().Ready {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		return err
	}

	log.Info("Starting gRPC Server", "addr", s.options.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.refresh()
		case <-ctx.Done():
			// Watchers see NOT_SERVING before the listener goes away.
			s.health.Shutdown()
			s.server.GracefulStop()
			return nil
		}
	}
}
