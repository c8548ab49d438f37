package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/autopeer-io/homepeer/pkg/log"
	"github.com/autopeer-io/homepeer/pkg/options"
)

// DefaultShutdownTimeout is used when the options carry no timeout.
const DefaultShutdownTimeout = 5 * time.Second

type Server struct {
	server  *http.Server
	options *options.HttpOptions

	mu   sync.Mutex
	addr net.Addr
}

// NewServer serves h on the configured address.
func NewServer(opts *options.HttpOptions, h http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           h,
			ReadHeaderTimeout: opts.Timeout,
		},
		options: opts,
	}
}

// Addr returns the bound address once Start is listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen(s.options.Network, s.server.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	log.Info("Starting HTTP Server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.options.Timeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		log.Info("Stopping HTTP Server", "addr", ln.Addr().String())
		err := s.server.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}
