// Package server provides HTTP server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cultivar-crm/cultivar/internal/core/api"
	"github.com/cultivar-crm/cultivar/internal/core/auth"
	"github.com/cultivar-crm/cultivar/internal/core/config"
)

const shutdownTimeout = 30 * time.Second

// HTTPServer manages the API server lifecycle.
type HTTPServer struct {
	server *http.Server
	config *config.Config
}

// NewHTTPServer builds the server with the API routes behind the
// authenticator. A nil authenticator serves unauthenticated; the serve
// command only allows that when no HMAC secrets are configured.
func NewHTTPServer(cfg *config.Config, service *api.Service, authenticator *auth.Authenticator) (*HTTPServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}

	var authn func(http.Handler) http.Handler
	if authenticator != nil {
		authn = authenticator.Middleware
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           service.Router(authn, cfg.RequestTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &HTTPServer{server: srv, config: cfg}, nil
}

// Start serves requests until Shutdown is called. Returns nil on a clean
// shutdown.
func (s *HTTPServer) Start(ctx context.Context) error {
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests, forcing close after the timeout.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
