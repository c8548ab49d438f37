package homepeer

import (
	"context"

	"github.com/autopeer-io/homepeer/internal/server"
	serverhttp "github.com/autopeer-io/homepeer/internal/server/http"
	"github.com/autopeer-io/homepeer/pkg/log"
)

// Server runs the HTTP API and keeps the device state in step with the
// command topic, so commands published by other processes show up in
// /api/state as well.
type Server struct {
	runtime *Runtime
	manager *server.Manager
}

// NewServer wires the assistant behind the HTTP API.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	rt, err := cfg.NewRuntime(ctx, "server")
	if err != nil {
		return nil, err
	}
	return cfg.newServer(rt), nil
}

func (cfg *Config) newServer(rt *Runtime) *Server {
	api := serverhttp.NewAPI(rt.Assistant, rt.Tracker, rt.Dispatcher,
		serverhttp.WithReadiness(rt.Transport.Ready),
	)
	httpSrv := serverhttp.NewServer(cfg.HttpOptions, api.Router())

	commands := cfg.Topics().Command()
	follower := server.ServerFunc(func(ctx context.Context) error {
		log.Info("Following command topic", "topic", commands, "transport", rt.Transport.Publisher.Transport())
		return rt.Transport.Subscriber.Subscribe(ctx, commands, rt.Tracker.HandleMessage)
	})

	return &Server{
		runtime: rt,
		manager: server.NewManager(httpSrv, follower),
	}
}

// Run serves until ctx is done and releases the transport.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		if err := s.runtime.Close(); err != nil {
			log.Error(err, "Failed to close transport")
		}
	}()
	return s.manager.Start(ctx)
}
