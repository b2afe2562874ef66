// Package server exposes the HTTP API and the execute WebSocket. Jobs are
// created over HTTP with a single-use token; the token authenticates the
// later WebSocket session that actually runs the code.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codrhq/codr/internal/bus"
	"github.com/codrhq/codr/internal/config"
	"github.com/codrhq/codr/internal/jobstore"
	"github.com/codrhq/codr/internal/token"
)

// Server wires the HTTP surface to the store, bus, and token manager.
type Server struct {
	cfg     *config.Config
	store   jobstore.Store
	bus     bus.Bus
	tokens  *token.Manager
	metrics *Metrics
	logger  *slog.Logger

	upgrader websocket.Upgrader

	// runner executes an accepted submission; replaceable in tests.
	runner RunnerFunc

	httpServer *http.Server
}

// New creates a server. A nil registry skips metrics registration entirely.
func New(cfg *config.Config, store jobstore.Store, b bus.Bus, tokens *token.Manager, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		bus:    b,
		tokens: tokens,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from the editor origin; the job
			// token is the real gate.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.runner = s.executeJob

	router := mux.NewRouter()
	router.HandleFunc("/api/jobs", s.handleCreateJob).Methods(http.MethodPost)
	router.HandleFunc("/api/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	router.HandleFunc("/ws/execute", s.handleExecuteWS)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	if reg != nil {
		s.metrics = NewMetrics(reg)
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe runs the HTTP server until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.cfg.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type createJobResponse struct {
	JobID     string `json:"jobId"`
	JobToken  string `json:"jobToken"`
	ExpiresAt string `json:"expiresAt"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	job := jobstore.NewJob(time.Duration(s.cfg.JobTTLSec) * time.Second)
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	signed, expiresAt, err := s.tokens.Issue(job.ID)
	if err != nil {
		s.logger.Error("issue token", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if s.metrics != nil {
		s.metrics.JobsCreated.Inc()
	}
	s.logger.Info("job created", "job_id", job.ID)

	writeJSON(w, http.StatusCreated, createJobResponse{
		JobID:     job.ID,
		JobToken:  signed,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

type jobResponse struct {
	JobID       string           `json:"jobId"`
	Status      jobstore.Status  `json:"status"`
	Error       string           `json:"error,omitempty"`
	Result      *jobstore.Result `json:"result,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	CompletedAt string           `json:"completedAt,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return
	}

	id := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := jobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.Error,
		Result:    job.Result,
		CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		resp.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// authorized checks the X-API-Key header. An empty configured key disables
// the gate.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.APIKey == "" {
		return true
	}
	got := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
