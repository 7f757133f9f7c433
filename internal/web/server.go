// Package web exposes the dispatcher over a single-endpoint JSON API: POST /
// carries an {op, ...} request, GET /health reports liveness. Responses pass
// through the size-policed envelope before hitting the wire.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/joestump/browserd/internal/actions"
	"github.com/joestump/browserd/internal/config"
	"github.com/joestump/browserd/internal/envelope"
	"github.com/joestump/browserd/internal/profile"
	"github.com/joestump/browserd/internal/session"
)

// Server is the browserd HTTP front end.
type Server struct {
	cfg      config.Config
	manager  *session.Manager
	dispatch *actions.Dispatcher
	profiles *profile.Store
	maxBytes int

	mux    *http.ServeMux
	server *http.Server
}

// New creates a web server wired to the session manager and dispatcher.
func New(cfg config.Config, manager *session.Manager, dispatch *actions.Dispatcher, profiles *profile.Store) *Server {
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = envelope.DefaultMaxBytes
	}
	s := &Server{
		cfg:      cfg,
		manager:  manager,
		dispatch: dispatch,
		profiles: profiles,
		maxBytes: maxBytes,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /{$}", s.withAuth(s.handleOp))
}

// withAuth enforces the bearer token when one is configured. Comparison is
// constant-time.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken != "" {
			want := "Bearer " + s.cfg.AuthToken
			got := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"success": false,
					"error":   "Unauthorized",
				})
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.manager.Count(),
	})
}

func (s *Server) handleOp(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("Invalid JSON: %v", err),
		})
		return
	}
	result := s.route(r.Context(), req)
	writeJSON(w, http.StatusOK, envelope.Truncate(result, s.maxBytes))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
