// Package api implements the HTTP API server for reviewd.
//
// Requests drive the review pipeline one operation per stage (start, confirm
// low-risk, advance high-risk, cancel); pipeline events are pushed to every
// connected websocket client as they happen.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ReviewService is the slice of the orchestrator the API server drives.
type ReviewService interface {
	Start(ctx context.Context, projectPath string, files []string, sessionID string) (string, error)
	StartLowRisk(ctx context.Context, sessionID string, lowRisk, highRisk []string) (int, error)
	AdvanceHighRisk(ctx context.Context, sessionID string) (bool, int, error)
	Cancel(sessionID string) bool
	ComputeFingerprints(projectPath string, files []string) (map[string]string, error)
	InvalidateFiles(projectPath string, files []string)
}

// Server is the reviewd HTTP API server.
type Server struct {
	addr   string
	svc    ReviewService
	hub    *Hub
	mux    *http.ServeMux
	server *http.Server
}

// New creates a new API server. The hub is exposed so the orchestrator can
// be constructed with it as its event publisher.
func New(addr string, svc ReviewService, hub *Hub) *Server {
	s := &Server{addr: addr, svc: svc, hub: hub}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/review/start", s.handleStart)
	s.mux.HandleFunc("POST /api/review/low-risk", s.handleLowRisk)
	s.mux.HandleFunc("POST /api/review/advance", s.handleAdvance)
	s.mux.HandleFunc("POST /api/review/cancel", s.handleCancel)
	s.mux.HandleFunc("POST /api/review/fingerprints", s.handleFingerprints)
	s.mux.HandleFunc("POST /api/review/invalidate", s.handleInvalidate)
	s.mux.HandleFunc("GET /api/ws", s.hub.handleWebSocket)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Printf("reviewd API server listening on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writing response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
