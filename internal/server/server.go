// Package server exposes the hub over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BioHazard786/huddle/internal/hub"
	"github.com/BioHazard786/huddle/internal/room"
)

const shutdownTimeout = 5 * time.Second

// Config is everything needed to start a room server.
type Config struct {
	Addr            string
	MaxParticipants int
	AllowedOrigins  []string
}

// Server owns the hub and its HTTP listener.
type Server struct {
	hub  *hub.Hub
	http *http.Server
	log  *slog.Logger
}

// New builds a server with a fresh room registry.
func New(cfg Config) *Server {
	h := hub.NewHub(room.NewRegistry(room.DefaultSettings(cfg.MaxParticipants)))
	return &Server{
		hub: h,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewMux(h, cfg.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: slog.With("component", "server"),
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves on the configured address until ctx is cancelled, then drains
// connections and stops the hub.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("room server listening", "addr", ln.Addr().String())
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

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	stopHub()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
