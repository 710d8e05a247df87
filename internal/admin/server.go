// Package admin serves the operational HTTP endpoints of 'serve':
// Prometheus metrics, liveness and readiness.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/marmos91/alluxio-auth/internal/logger"
	"github.com/marmos91/alluxio-auth/pkg/auth/login"
	"github.com/marmos91/alluxio-auth/pkg/auth/principal"
)

// Server is the admin HTTP server.
type Server struct {
	server       *http.Server
	shutdownOnce sync.Once
}

// Deps are the components the endpoints report on. Any may be nil.
type Deps struct {
	Session  *login.Session
	Mapper   *principal.Mapper
	Gatherer prometheus.Gatherer
}

// NewServer creates a stopped server listening on addr.
func NewServer(addr string, deps Deps) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Start serves until ctx is canceled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening", logger.KeyAddr, ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// The canceled ctx would abort shutdown immediately.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
			return
		}
		logger.Debug("Admin server stopped")
	})
	return shutdownErr
}
