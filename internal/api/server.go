// Package api provides the HTTP plumbing shared by the supervisor admin
// surface and the REST gateway, and the admin server itself.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/lfcbot/lfc/internal/core"
	"github.com/lfcbot/lfc/internal/envelope"
	"github.com/lfcbot/lfc/internal/logging"
	"github.com/lfcbot/lfc/internal/supervisor"
)

// Supervisor is the part of the supervisor the admin surface exposes.
type Supervisor interface {
	Workers() []supervisor.WorkerInfo
	HealthRecords() []supervisor.HealthRecord
	CreateWorker(ctx context.Context, name string, count int, config map[string]interface{}) ([]int, error)
	KillWorker(pid int) error
	PendingCounts() map[string]int
	PendingMessages(name string) []envelope.Envelope
	PurgePending(name string) int
}

// Server is the supervisor admin HTTP surface.
type Server struct {
	router  chi.Router
	sup     Supervisor
	metrics http.Handler
	logger  *logging.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewServer creates the admin server.
func NewServer(sup Supervisor, opts ...ServerOption) *Server {
	s := &Server{
		sup:    sup,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := NewRouter(s.logger, nil)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleCreateWorker)
			r.Delete("/{pid}", s.handleKillWorker)
		})
		r.Route("/pending", func(r chi.Router) {
			r.Get("/", s.handlePendingCounts)
			r.Get("/{name}", s.handleListPending)
			r.Delete("/{name}", s.handlePurgePending)
		})
	})

	return r
}

// NewRouter returns a chi router with request ids, panic recovery, request
// logging and CORS. A nil origin list allows any origin.
func NewRouter(logger *logging.Logger, allowedOrigins []string) chi.Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(LoggingMiddleware(logger))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)
	return r
}

// LoggingMiddleware logs every HTTP request at info level.
func LoggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"bytes", ww.BytesWritten(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// RespondJSON sends a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// RespondError sends a JSON error response.
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"workers": len(s.sup.Workers()),
	})
}

// WorkerView is a registry entry joined with its last heartbeat.
type WorkerView struct {
	supervisor.WorkerInfo
	Healthy  *bool      `json:"healthy,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (s *Server) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	health := make(map[int]supervisor.HealthRecord)
	for _, rec := range s.sup.HealthRecords() {
		health[rec.PID] = rec
	}

	workers := s.sup.Workers()
	out := make([]WorkerView, 0, len(workers))
	for _, info := range workers {
		view := WorkerView{WorkerInfo: info}
		if rec, ok := health[info.PID]; ok {
			healthy, seen := rec.IsHealthy, rec.LastSeen
			view.Healthy = &healthy
			view.LastSeen = &seen
		}
		out = append(out, view)
	}
	RespondJSON(w, http.StatusOK, out)
}

// CreateWorkerRequest is the body of POST /api/v1/workers.
type CreateWorkerRequest struct {
	Name   string                 `json:"name"`
	Count  int                    `json:"count"`
	Config map[string]interface{} `json:"config"`
}

func (s *Server) handleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}

	pids, err := s.sup.CreateWorker(r.Context(), req.Name, req.Count, req.Config)
	if err != nil && len(pids) == 0 {
		RespondDomainError(w, err)
		return
	}
	resp := map[string]interface{}{"name": req.Name, "pids": pids}
	if err != nil {
		resp["error"] = err.Error()
	}
	RespondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleKillWorker(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		RespondError(w, http.StatusBadRequest, "invalid pid")
		return
	}
	if err := s.sup.KillWorker(pid); err != nil {
		if core.IsCategory(err, core.ErrCatNotFound) {
			RespondDomainError(w, err)
			return
		}
		s.logger.Warn("kill worker", "pid", pid, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePendingCounts(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, s.sup.PendingCounts())
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	msgs := s.sup.PendingMessages(chi.URLParam(r, "name"))
	if msgs == nil {
		msgs = []envelope.Envelope{}
	}
	RespondJSON(w, http.StatusOK, msgs)
}

func (s *Server) handlePurgePending(w http.ResponseWriter, r *http.Request) {
	n := s.sup.PurgePending(chi.URLParam(r, "name"))
	RespondJSON(w, http.StatusOK, map[string]int{"purged": n})
}

// ListenAndServe starts the admin server and stops it when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.logger.Info("starting admin server", "addr", addr)
	return Serve(ctx, addr, s.router)
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
