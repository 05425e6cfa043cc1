// Package httpapi is the thin HTTP wrapper around the execution core
// (spec.md §6). Request parsing, CORS, routing, and the health endpoint
// are an external collaborator of the core by spec.md §1 — this package
// is that collaborator, kept deliberately framework-free.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ayunis-core/execution-worker/internal/execsvc"
	"github.com/ayunis-core/execution-worker/internal/model"
	"github.com/ayunis-core/execution-worker/internal/provisioner"
)

const serviceVersion = "1.0.0"

// Server wires the facade into net/http handlers.
type Server struct {
	svc  *execsvc.Service
	prov *provisioner.Provisioner
	mux  *http.ServeMux
}

// NewServer builds a Server. The facade is held as an immutable field,
// never a package-level global.
func NewServer(svc *execsvc.Service, prov *provisioner.Provisioner) *Server {
	s := &Server{svc: svc, prov: prov, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /execute", s.handleExecute)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /", s.handleRoot)
}

// ServeHTTP applies the permissive CORS policy spec.md §6 requires before
// dispatching to the route table.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req model.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid request body"})
		return
	}

	resp, err := s.svc.Execute(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("execute request failed")
		status := http.StatusInternalServerError
		if errors.Is(err, model.ErrImageUnavailable) || errors.Is(err, model.ErrEngineUnreachable) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"detail": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.prov.Ready() {
		writeJSON(w, http.StatusOK, healthResponse{Status: "unhealthy", Message: "sandbox image not confirmed usable"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Message: "executor service is running"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Execution Worker",
		"version": serviceVersion,
		"status":  "running",
		"health":  "/health",
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHTTPServer builds an *http.Server bound to addr, with sane timeouts
// for a service that may legitimately hold a request open for the
// configured execution timeout.
func NewHTTPServer(addr string, handler http.Handler, executionTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      executionTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
