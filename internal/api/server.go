package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/shipment-monitor/internal/config"
)

// Server wraps the HTTP server around the configured router.
type Server struct {
	handler http.Handler
	server  *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.ServerConfig, h *Handlers, adminToken string) *Server {
	return &Server{
		handler: SetupRoutes(h, cfg.CORSOrigins, adminToken),
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(host string, port int) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: s.handler,
		// Batch uploads can be large; ingest requests are small and fast.
		ReadTimeout:       2 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.handler
}
