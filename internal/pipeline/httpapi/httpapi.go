// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpapi is a read-only HTTP query surface over
// internal/pipeline.Pipeline's list_rules and get_audit synchronous
// surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"aegis.dev/aegis/internal/logging"
	"aegis.dev/aegis/internal/pipeline"
	"aegis.dev/aegis/internal/record"
)

// Server is the HTTP query surface, owning its own *http.Server so
// cmd/aegisd can start/stop it alongside the rest of the pipeline.
type Server struct {
	p      *pipeline.Pipeline
	logger *logging.Logger
	router *mux.Router
	http   *http.Server
}

// New builds a Server bound to addr, not yet listening.
func New(addr string, p *pipeline.Pipeline, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default().WithComponent("pipeline.httpapi")
	}
	s := &Server{p: p, logger: logger, router: mux.NewRouter()}
	s.setupRoutes()
	s.http = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1/pipeline").Subrouter()
	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/audit/{decision_id}", s.handleGetAudit).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// ruleEntry flattens one (rule, state) pair for JSON responses.
type ruleEntry struct {
	Rule  record.UniversalRule `json:"rule"`
	State *record.RuleState    `json:"state"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	entries := s.p.ListRules()
	out := make([]ruleEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, ruleEntry{Rule: e.Rule, State: e.State})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	decisionID := mux.Vars(r)["decision_id"]
	rec, err := s.p.GetAudit(decisionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// ListenAndServe blocks serving HTTP until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
