package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the dependencies of the query server.
type Config struct {
	Port         int
	GuardIndex   int
	Events       EventReader
	Transactions TransactionReader
	Orders       OrderSubmitter
	Turn         TurnSource
	Logger       zerolog.Logger
}

// Server provides HTTP endpoints
type Server struct {
	cfg    Config
	logger zerolog.Logger
	server *http.Server
}

// NewServer creates a new Server instance
func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "query_server").Logger(),
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the router serving all endpoints.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("Query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("Query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("Query server error")
		}
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("Query server started")
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
