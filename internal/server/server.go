package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emersion/go-milter"

	"github.com/infodancer/attachment-milter/internal/config"
	"github.com/infodancer/attachment-milter/internal/logging"
	"github.com/infodancer/attachment-milter/internal/metrics"
	"github.com/infodancer/attachment-milter/internal/sessionid"
)

// MilterFactory creates the filter for one MTA connection. ctx carries the
// server logger and is cancelled on shutdown.
type MilterFactory func(ctx context.Context, sessionID string) milter.Milter

// Server coordinates multiple listeners, each served by a milter server.
// It owns the session identifier allocator shared by all of its listeners.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	factory MilterFactory
	metrics metrics.Collector
	ids     sessionid.Allocator

	listeners []*Listener
	mu        sync.Mutex
}

// New creates a new Server with the given configuration. A nil logger
// creates one from the configured level.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.NewLogger(cfg.LogLevel)
	}

	ids, err := sessionid.New(sessionid.Kind(cfg.SessionIDs))
	if err != nil {
		return nil, fmt.Errorf("creating session id allocator: %w", err)
	}

	return &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: &metrics.NoopCollector{},
		ids:     ids,
	}, nil
}

// SetMilter sets the filter factory for all listeners.
// Must be called before Run.
func (s *Server) SetMilter(factory MilterFactory) {
	s.factory = factory
}

// SetMetrics sets the collector for connection metrics.
// Must be called before Run.
func (s *Server) SetMetrics(c metrics.Collector) {
	s.metrics = c
}

// actionMask converts the configured capabilities to a negotiation mask.
func actionMask(a config.ActionsConfig) milter.OptAction {
	var mask milter.OptAction
	if a.AddHeadersEnabled() {
		mask |= milter.OptAddHeader
	}
	if a.ChangeBodyEnabled() {
		mask |= milter.OptChangeBody
	}
	if a.AddRecipientsEnabled() {
		mask |= milter.OptAddRcpt
	}
	return mask
}

// newMilter allocates a session identifier and asks the factory for the
// filter of a new connection.
func (s *Server) newMilter(ctx context.Context) milter.Milter {
	id := s.ids.Next()
	logger := logging.WithSession(s.logger, id)
	return s.factory(logging.NewContext(ctx, logger), id)
}

// Run starts all configured listeners and blocks until the context is
// cancelled. On cancellation it stops accepting, ends idle sessions and
// waits for the remaining ones to finish.
func (s *Server) Run(ctx context.Context) error {
	if s.factory == nil {
		return errors.New("no milter factory installed")
	}

	s.mu.Lock()

	// Create listeners
	for _, lc := range s.cfg.Listeners {
		listener := NewListener(ListenerConfig{
			Address:        lc.Address,
			IdleTimeout:    s.cfg.Timeouts.IdleTimeout(),
			LogTransaction: s.cfg.LogLevel == "debug",
			Logger:         s.logger,
			Metrics:        s.metrics,
		})
		s.listeners = append(s.listeners, listener)
	}
	listeners := append([]*Listener(nil), s.listeners...)

	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("name", s.cfg.Name),
		slog.Int("listener_count", len(listeners)),
	)

	ms := &milter.Server{
		NewMilter: func() milter.Milter { return s.newMilter(ctx) },
		Actions:   actionMask(s.cfg.Actions),
	}

	// Serve every listener in its own goroutine
	var wg sync.WaitGroup
	errChan := make(chan error, len(listeners))

	for _, l := range listeners {
		if err := l.Listen(); err != nil {
			errChan <- fmt.Errorf("listener %s: %w", l.Address(), err)
			continue
		}
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			err := ms.Serve(listener)
			if ctx.Err() == nil {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
			}
		}(l)
	}

	// Wait for context cancellation
	<-ctx.Done()

	s.logger.Info("server shutting down")

	for _, l := range listeners {
		if err := l.Close(); err != nil {
			s.logger.Debug("error closing listener",
				slog.String("listener", l.Address()),
				slog.String("error", err.Error()),
			)
		}
	}
	wg.Wait()

	// End idle sessions, then wait for busy ones to reply
	for _, l := range listeners {
		l.Drain()
	}
	for _, l := range listeners {
		l.Wait()
	}

	// Check for any errors
	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped")

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// Shutdown stops all listeners from accepting and ends idle sessions.
// Run still waits for busy sessions before it returns.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
		l.Drain()
	}
}

// Listeners returns the listeners created by Run.
func (s *Server) Listeners() []*Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Listener(nil), s.listeners...)
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Config returns the server's configuration.
func (s *Server) Config() *config.Config {
	return s.cfg
}
