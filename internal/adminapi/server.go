// Package adminapi serves the operator endpoints: pending job listing, bulk
// re-initialization, per-subject scheduling and manual runs.
package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"triptimer/internal/action"
	"triptimer/internal/jobs"
	"triptimer/internal/storage"
	"triptimer/internal/trips"
	logx "triptimer/pkg/logx"
)

const DefaultAddr = "127.0.0.1:8089"

// Ops are the scheduler's host-facing operations.
type Ops interface {
	InitializeAll(ctx context.Context) (int, error)
	ScheduleFor(ctx context.Context, subjectID string) ([]jobs.Job, error)
	RunNow(ctx context.Context, subjectID, targetID string) (action.Result, error)
	ListPendingJobs(ctx context.Context) ([]jobs.Job, error)
}

type JobLister interface {
	ListByStatus(ctx context.Context, status jobs.Status, limit int) ([]jobs.Job, error)
}

type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error)
}

type Config struct {
	Addr        string
	CORSOrigins []string
}

type Deps struct {
	Ops     Ops
	Jobs    JobLister
	Audit   Auditor
	Metrics http.Handler
	// Health returns extra fields for /healthz; an error marks the process
	// unhealthy.
	Health func(ctx context.Context) (map[string]any, error)
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *chi.Mux
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		log:    log.With(logx.String("comp", "adminapi")),
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.handleJobs)
		r.Get("/pending", s.handlePending)
		r.Post("/resync", s.handleResync)
	})
	r.Route("/subjects/{id}", func(r chi.Router) {
		r.Post("/schedule", s.handleSchedule)
		r.Post("/run-now", s.handleRunNow)
	})
	r.Get("/audit", s.handleAudit)
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("admin api listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"ok": true}
	if s.deps.Health != nil {
		extra, err := s.deps.Health(r.Context())
		for k, v := range extra {
			out[k] = v
		}
		if err != nil {
			out["ok"] = false
			out["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, out)
			return
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	js, err := s.deps.Ops.ListPendingJobs(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(js), "jobs": nonNil(js)})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	status := jobs.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = jobs.StatusPending
	}
	switch status {
	case jobs.StatusPending, jobs.StatusCompleted, jobs.StatusFailed:
	default:
		s.fail(w, http.StatusBadRequest, errors.New("status must be pending, completed or failed"))
		return
	}
	limit := queryInt(r, "limit", 100)
	js, err := s.deps.Jobs.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(js), "jobs": nonNil(js)})
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	n, err := s.deps.Ops.InitializeAll(r.Context())
	s.audit(r, "jobs.resync", "", start, err)
	out := map[string]any{"jobs": n}
	if err != nil {
		out["error"] = err.Error()
		writeJSON(w, http.StatusMultiStatus, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	start := time.Now()
	js, err := s.deps.Ops.ScheduleFor(r.Context(), id)
	s.audit(r, "subject.schedule", id, start, err)
	if errors.Is(err, trips.ErrSubjectNotFound) {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	out := map[string]any{"subject_id": id, "jobs": nonNil(js)}
	if err != nil {
		out["error"] = err.Error()
		writeJSON(w, http.StatusMultiStatus, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	target := r.URL.Query().Get("target")
	start := time.Now()
	res, err := s.deps.Ops.RunNow(r.Context(), id, target)
	if err == nil && res.Error != "" {
		s.audit(r, "subject.run_now", id, start, errors.New(res.Error))
	} else {
		s.audit(r, "subject.run_now", id, start, err)
	}
	switch {
	case errors.Is(err, trips.ErrSubjectNotFound):
		s.fail(w, http.StatusNotFound, err)
	case err != nil:
		s.fail(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": res.Outcome == action.OutcomeCompleted,
			"result":  res,
		})
	}
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []storage.AuditEntry{}})
		return
	}
	es, err := s.deps.Audit.RecentAudit(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if es == nil {
		es = []storage.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": es})
}

func (s *Server) audit(r *http.Request, op, target string, start time.Time, err error) {
	if s.deps.Audit == nil {
		return
	}
	e := storage.AuditEntry{
		At:     start,
		Actor:  r.RemoteAddr,
		Action: op,
		Target: target,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.deps.Audit.AppendAudit(context.WithoutCancel(r.Context()), e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", op), logx.Err(aerr))
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	if code >= 500 {
		s.log.Error("admin request failed", logx.Err(err))
	}
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func nonNil(js []jobs.Job) []jobs.Job {
	if js == nil {
		return []jobs.Job{}
	}
	return js
}
