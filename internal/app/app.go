// Package app assembles an examsync session from configuration and manages
// its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/examsight/examsync/internal/auth"
	"github.com/examsight/examsync/internal/config"
	"github.com/examsight/examsync/internal/engine"
)

// Session is one CLI invocation's engine together with the resources it owns
type Session struct {
	config       *config.Config
	engine       *engine.Engine
	tokens       auth.Store
	statusServer *http.Server

	shutdownTelemetry func(context.Context) error
}

// Engine returns the sync engine
func (s *Session) Engine() *engine.Engine {
	return s.engine
}

// Tokens returns the token store
func (s *Session) Tokens() auth.Store {
	return s.tokens
}

// GetConfig returns the session configuration
func (s *Session) GetConfig() *config.Config {
	return s.config
}

// GetStatusServer returns the status server, or nil when it is disabled
func (s *Session) GetStatusServer() *http.Server {
	return s.statusServer
}

// ServeStatus serves the status endpoint on l, or on the configured address
// when l is nil. It blocks until the server stops and returns nil after Close.
func (s *Session) ServeStatus(l net.Listener) error {
	if s.statusServer == nil {
		return fmt.Errorf("status server is not enabled")
	}

	var err error
	if l == nil {
		l, err = net.Listen("tcp", s.statusServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.statusServer.Addr, err)
		}
	}

	slog.Info("Status endpoint listening", "address", l.Addr().String())
	if err := s.statusServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server failed: %w", err)
	}
	return nil
}

// Close stops the status server and flushes telemetry within timeout
func (s *Session) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if s.statusServer != nil {
		if err := s.statusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("status server forced to shutdown: %w", err))
		}
	}
	if s.shutdownTelemetry != nil {
		if err := s.shutdownTelemetry(ctx); err != nil {
			errs = append(errs, err)
		}
		s.shutdownTelemetry = nil
	}
	return errors.Join(errs...)
}
