// Package server exposes the Pluraal evaluator over a JSON HTTP API. It is
// the document store and evaluation backend a viewer front end talks to:
// scope documents are stored and fetched by ID, input values are posted for
// evaluation, and recorded runs carry the event trace used for
// branch-highlighting. The server contains no evaluation logic of its own.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/petal-labs/pluraal"
)

// Config configures a Server instance.
type Config struct {
	Store      Store
	Events     pluraal.EventHandler // optional extra observer (e.g. otel handlers)
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the Pluraal HTTP API server.
type Server struct {
	store      Store
	events     pluraal.EventHandler
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration. A nil store
// defaults to an in-memory store.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		store:      store,
		events:     cfg.Events,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts the API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/scopes", s.handleListScopes)
	mux.HandleFunc("POST /api/scopes", s.handleCreateScope)
	mux.HandleFunc("GET /api/scopes/{id}", s.handleGetScope)
	mux.HandleFunc("PUT /api/scopes/{id}", s.handleUpdateScope)
	mux.HandleFunc("DELETE /api/scopes/{id}", s.handleDeleteScope)
	mux.HandleFunc("POST /api/scopes/{id}/evaluate", s.handleEvaluateScope)
	mux.HandleFunc("POST /api/evaluate", s.handleEvaluateAdhoc)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{run_id}", s.handleGetRun)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type apiErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
	RunID string         `json:"run_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{Error: apiErrorDetail{Code: code, Message: message}})
}
