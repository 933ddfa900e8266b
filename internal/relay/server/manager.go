// Package server runs the relay's diagnostic listeners.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/msgrelay/internal/relay/core/model"
	"github.com/autopeer-io/msgrelay/internal/relay/server/grpc"
	"github.com/autopeer-io/msgrelay/internal/relay/server/http"
	"github.com/autopeer-io/msgrelay/pkg/log"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

// Server is a listener that runs until ctx ends.
type Server interface {
	Start(ctx context.Context) error
}

type Config struct {
	HttpOptions *options.HttpOptions
	GrpcOptions *options.GrpcOptions
}

// Manager manages the lifecycle of all listeners.
type Manager struct {
	servers []Server
}

// NewManager creates the HTTP listener and, when enabled, the gRPC health listener.
func NewManager(cfg *Config, status func() model.RelayStatus) *Manager {
	servers := []Server{http.NewServer(cfg.HttpOptions, status)}

	if cfg.GrpcOptions != nil && cfg.GrpcOptions.Enabled {
		servers = append(servers, grpc.NewServer(cfg.GrpcOptions, status))
	}

	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits for termination. The
// first failure stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("Diagnostic servers starting", "count", len(m.servers))
	return g.Wait()
}
