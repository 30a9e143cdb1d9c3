package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/voxtrail/audiostream/session"
)

// Server runs the HTTP ingest API.
type Server struct {
	http            *http.Server
	registry        *Registry
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

// Config holds the HTTP settings of a Server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// New creates a server for handler. Sessions still tracked by registry when
// the server stops are aborted.
func New(cfg Config, handler http.Handler, registry *Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		http: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		registry:        registry,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run with an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	err := s.http.Shutdown(shutdownCtx)

	abortCtx, cancelAbort := context.WithTimeout(context.WithoutCancel(ctx), session.AbortTimeout)
	defer cancelAbort()
	if n := s.registry.AbortAll(abortCtx); n > 0 {
		s.logger.Warn("aborted unfinished sessions", "sessions", n)
	}

	if err != nil {
		return err
	}
	if serr := <-errCh; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		return serr
	}
	return nil
}
