// Package server runs the long-lived components of the serve command.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/homepeer/pkg/log"
)

// Server defines the common interface for all sub-servers (http, state follower).
type Server interface {
	Start(ctx context.Context) error
}

// ServerFunc adapts a function to Server.
type ServerFunc func(ctx context.Context) error

func (f ServerFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of all servers.
type Manager struct {
	servers []Server
}

// NewManager creates a manager for servers.
func NewManager(servers ...Server) *Manager {
	return &Manager{servers: servers}
}

// Start launches all servers in parallel and waits until they have all
// returned. The first failure cancels the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
