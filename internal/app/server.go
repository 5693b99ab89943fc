// Package app assembles and runs the explorer server: one HTTP listener
// serving the proxied registry API, the health endpoints, and metrics.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"agentscan/internal/backend"
	"agentscan/internal/config"
	"agentscan/internal/health"
	"agentscan/internal/storage"
	"agentscan/internal/telemetry"
	tlsutil "agentscan/pkg/tls"
)

// Server runs the assembled explorer.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	handler http.Handler
	backend *backend.Client
	monitor *health.Monitor
	store   storage.LimiterStore
	tel     *telemetry.Telemetry

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer builds the explorer server from configuration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	return NewBuilder(cfg, logger).Build()
}

// Start binds the listener and begins serving. It is non-blocking; the
// server runs until Stop is called. ctx becomes the base context of
// every request, so canceling it ends in-flight streams and lets a
// subsequent Stop drain quickly.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	if t := s.config.Server.TLS; t != nil && t.Enabled {
		tlsConfig, err := tlsutil.Server(t.CertFile, t.KeyFile, t.MinVersion)
		if err != nil {
			listener.Close()
			return fmt.Errorf("configuring tls: %w", err)
		}
		listener = tls.NewListener(listener, tlsConfig)
		s.logger.Info("TLS enabled", "cert", t.CertFile)
	}

	if err := s.monitor.Start(ctx); err != nil {
		listener.Close()
		return fmt.Errorf("starting upstream monitor: %w", err)
	}

	srv := &http.Server{
		Handler:     s.handler,
		ReadTimeout: time.Duration(s.config.Server.ReadTimeout) * time.Second,
		// WriteTimeout stays zero when unset: stream responses are
		// open-ended.
		WriteTimeout: time.Duration(s.config.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.config.Server.IdleTimeout) * time.Second,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
		}
	}()

	s.srv = srv
	s.listener = listener
	s.logger.Info("Explorer started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, empty before Start. With a
// configured port of 0 this is how callers learn the assigned port.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the listener and releases every component. ctx bounds the
// HTTP drain; when it carries no deadline the configured shutdown
// timeout applies instead.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	var errs []error
	if srv != nil {
		shutdownCtx := ctx
		if _, ok := ctx.Deadline(); !ok && s.config.Server.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, time.Duration(s.config.Server.ShutdownTimeout)*time.Second)
			defer cancel()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			srv.Close()
		}
	}

	s.monitor.Stop()
	s.backend.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing limiter store: %w", err))
		}
	}
	if err := s.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("Explorer stopped")
	return nil
}
