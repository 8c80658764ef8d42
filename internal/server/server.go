// ABOUTME: Server orchestrator that wires registry, queues, dispatcher, and HTTP API.
// ABOUTME: Manages component lifecycle and graceful shutdown.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/helmsman-ai/helmsman/internal/broadcast"
	"github.com/helmsman-ai/helmsman/internal/config"
	"github.com/helmsman-ai/helmsman/internal/dispatch"
	"github.com/helmsman-ai/helmsman/internal/history"
	"github.com/helmsman-ai/helmsman/internal/queue"
	"github.com/helmsman-ai/helmsman/internal/registry"
)

// Server wires the coordination components together and serves the HTTP API.
type Server struct {
	config      *config.Config
	registry    *registry.Registry
	monitor     *registry.Monitor
	queues      *queue.Queues
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Coordinator
	history     *history.Store
	httpServer  *http.Server
	logger      *slog.Logger
}

// New builds a Server from configuration. An empty database.path disables
// delivery history.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := registry.NewFileStore(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("creating registry store: %w", err)
	}

	reg, err := registry.New(store, logger)
	if err != nil {
		return nil, fmt.Errorf("creating registry: %w", err)
	}

	monitor := registry.NewMonitor(reg, cfg.Agents.HeartbeatTimeout, cfg.Agents.HeartbeatInterval, logger)
	queues := queue.New(logger)

	var hist *history.Store
	var recorder dispatch.Recorder
	if cfg.Database.Path != "" {
		hist, err = history.NewStore(cfg.Database.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("creating history store: %w", err)
		}
		recorder = hist
	}

	dispatcher := dispatch.New(queues, reg, recorder, dispatch.Options{
		Interval:        cfg.Agents.DispatchInterval,
		ConnectTimeout:  cfg.Agents.ConnectTimeout,
		ResponseTimeout: cfg.Agents.ResponseTimeout,
	}, logger)

	s := &Server{
		config:      cfg,
		registry:    reg,
		monitor:     monitor,
		queues:      queues,
		dispatcher:  dispatcher,
		broadcaster: broadcast.New(queues, logger),
		history:     hist,
		logger:      logger.With("component", "server"),
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: s.routes(),
	}

	return s, nil
}

// Run starts the background loops and the HTTP server, then blocks until the
// context is cancelled or a server error occurs. Returns nil on graceful
// shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()

	go s.monitor.Run(loopCtx)
	go s.dispatcher.Run(loopCtx)
	go s.queues.RunEviction(loopCtx, s.config.Agents.EvictionInterval, s.config.Agents.EntryMaxAge)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already
// canceled by the time shutdown starts.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server and closes the history store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
