package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ignite/smart-import/internal/config"
)

const (
	minBodyTimeout = 2 * time.Minute
	maxBodyTimeout = 15 * time.Minute
)

// Server wraps the import API in an http.Server sized for batch uploads.
type Server struct {
	addr        string
	handler     http.Handler
	bodyTimeout time.Duration
	srv         *http.Server
}

// NewServer mounts the routes and sizes read and write timeouts from the
// upload limit of one batch.
func NewServer(cfg config.ServerConfig, h *ImportHandlers, health *HealthChecker) *Server {
	return &Server{
		addr:        cfg.Addr(),
		handler:     SetupRoutes(h, health, cfg.AllowedOrigins),
		bodyTimeout: uploadTimeout(h.maxBatchBytes()),
	}
}

// uploadTimeout allows one second per MiB at a floor of two minutes.
func uploadTimeout(batchBytes int64) time.Duration {
	d := time.Duration(batchBytes>>20) * time.Second
	if d < minBodyTimeout {
		return minBodyTimeout
	}
	if d > maxBodyTimeout {
		return maxBodyTimeout
	}
	return d
}

// Addr is the listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe blocks until the server stops. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe() error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadTimeout:       s.bodyTimeout,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      s.bodyTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
