// Package httpserver wraps http.Server with the timeouts the kiosk wants and
// a graceful shutdown entry point.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// Server is a thin wrapper around http.Server.
type Server struct {
	srv *http.Server
}

// New builds a server for the given address and handler. Write timeouts stay
// unset: the event and frame WebSockets are long-lived.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
