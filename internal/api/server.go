package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/zjrosen/sddrun/internal/log"
)

// Server wraps the Handler with an http.Server for lifecycle management.
type Server struct {
	handler  *Handler
	server   *http.Server
	listener net.Listener
	port     int // Actual port after binding (useful when using :0)
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., "localhost:19998").
	Addr string
	HandlerConfig
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration
}

// NewServer creates a new API server and binds its listener.
// If Addr uses port 0, the OS assigns a port; see Port.
func NewServer(cfg ServerConfig) (*Server, error) {
	handler := NewHandler(cfg.HandlerConfig)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	server := &http.Server{
		Handler:           handler.Routes(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: executions may run for minutes and SSE streams are long-lived.
	}
	// Event streams never go idle on their own, so Shutdown would wait out its
	// whole deadline without this.
	server.RegisterOnShutdown(handler.CloseStreams)

	return &Server{
		handler:  handler,
		port:     port,
		listener: listener,
		server:   server,
	}, nil
}

// Start serves until Stop is called. It returns http.ErrServerClosed after a
// graceful shutdown.
func (s *Server) Start() error {
	log.Info(log.CatAPI, "Starting API server", "addr", s.listener.Addr().String(), "port", s.port)
	return s.server.Serve(s.listener)
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatAPI, "Stopping API server")
	return s.server.Shutdown(ctx)
}

// InvalidateInstructions drops the cached instruction documents of a project,
// e.g. after its scaffold changed on disk.
func (s *Server) InvalidateInstructions(ctx context.Context, project string) {
	s.handler.InvalidateInstructions(ctx, project)
}

// Port returns the actual port the server is listening on.
func (s *Server) Port() int {
	return s.port
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}
