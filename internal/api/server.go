// Package api serves the switcher state read-only over HTTP for overlays.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// Version is reported by the health endpoint
var Version = "dev"

// Server represents the HTTP status server
type Server struct {
	router   *mux.Router
	hub      *Hub
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewServer creates a new status server over hub
func NewServer(hub *Hub) *Server {
	s := &Server{
		router: mux.NewRouter(),
		hub:    hub,
		upgrader: websocket.Upgrader{
			// Overlays run locally and may be served from file:// pages.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: *logger.WithComponent("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/session", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/api/session/stream", s.handleSessionStream).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")

	// The API is read-only
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, listener)
}

func (s *Server) serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info().Str("addr", listener.Addr().String()).Msg("Status API listening")

	err := srv.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.hub.Latest())
}

func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.hub.Subscribe()
	defer s.hub.Unsubscribe(updates)

	// Reading is needed to process control frames and notice the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(s.hub.Latest()); err != nil {
		s.log.Debug().Err(err).Msg("WebSocket write error")
		return
	}

	for {
		select {
		case snapshot := <-updates:
			if err := conn.WriteJSON(snapshot); err != nil {
				s.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Allow", http.MethodGet)
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]string{
		"error": r.Method + " not allowed, the status API is read-only",
	})
}
