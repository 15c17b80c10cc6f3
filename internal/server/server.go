package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/assetflow/assetflow/internal/config"
)

// Server owns the HTTP lifecycle and orchestrates graceful shutdown. Cleanup
// registered through OnShutdown runs after the listener drains so in-flight
// statistics requests never observe a half-torn-down manager.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	once       sync.Once
	hooksOnce  sync.Once

	mu         sync.Mutex
	onShutdown []func()
}

// New binds the handler to the configured listener settings.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}

	addr := net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "server")),
		httpServer: httpSrv,
	}, nil
}

// Run keeps the listener active until the context is cancelled, preferring a
// graceful drain over an abrupt close.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http listener starting", slog.String("address", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.shutdown(shutdownCtx)
		s.runShutdownHooks()
		if err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		s.runShutdownHooks()
		if err != nil {
			return err
		}
		return nil
	}
}

// OnShutdown registers fn to run after the listener has stopped serving.
// Hooks run in registration order, at most once, on whichever path ends Run.
func (s *Server) OnShutdown(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

func (s *Server) runShutdownHooks() {
	s.hooksOnce.Do(func() {
		s.mu.Lock()
		hooks := s.onShutdown
		s.onShutdown = nil
		s.mu.Unlock()
		for _, fn := range hooks {
			fn()
		}
	})
}

// shutdown collapses the listener once to stop duplicate shutdown work during
// cascading cancellations.
func (s *Server) shutdown(ctx context.Context) error {
	var shutdownErr error
	s.once.Do(func() {
		s.logger.Info("http listener shutting down")
		shutdownErr = s.httpServer.Shutdown(ctx)
	})
	return shutdownErr
}
