// Package api exposes the HTTP interface for the scraping service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bizharvest/bizharvest/internal/config"
	"github.com/bizharvest/bizharvest/internal/dispatcher"
	"github.com/bizharvest/bizharvest/internal/export"
	"github.com/bizharvest/bizharvest/internal/metrics"
	"github.com/bizharvest/bizharvest/internal/middleware"
	"github.com/bizharvest/bizharvest/internal/orchestrator"
	"github.com/bizharvest/bizharvest/internal/scrape"
	"github.com/bizharvest/bizharvest/internal/worker"
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   scrape.JobStore
	dispatcher *dispatcher.Dispatcher
	cancels    *worker.CancelRegistry
	idGen      scrape.IDGenerator
	clock      scrape.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore scrape.JobStore,
	dispatch *dispatcher.Dispatcher,
	cancels *worker.CancelRegistry,
	idGen scrape.IDGenerator,
	clock scrape.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatch,
		cancels:    cancels,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(middleware.Metrics)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Get("/result", s.getJobResult)
				r.Get("/export", s.exportJob)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Seed              string `json:"seed"`
	MaxPages          int    `json:"max_pages"`
	MaxDepth          int    `json:"max_depth"`
	SameHostOnly      *bool  `json:"same_host_only"`
	DetailConcurrency int    `json:"detail_page_concurrency"`
	PreferRendered    bool   `json:"use_rendered_transport"`
	PostFilter        string `json:"post_filter"`
	ExportFormat      string `json:"export_format"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	plan := scrape.CrawlPlan{
		Seed:              req.Seed,
		MaxPages:          req.MaxPages,
		MaxDepth:          req.MaxDepth,
		SameHostOnly:      req.SameHostOnly == nil || *req.SameHostOnly,
		DetailConcurrency: req.DetailConcurrency,
		PreferRendered:    req.PreferRendered,
		PostFilter:        req.PostFilter,
		ExportFormat:      req.ExportFormat,
	}
	if plan.MaxPages == 0 {
		plan.MaxPages = s.cfg.Scraper.MaxPagesDefault
	}
	if plan.MaxDepth == 0 {
		plan.MaxDepth = s.cfg.Scraper.MaxDepthDefault
	}
	resolved, err := orchestrator.ResolvePlan(plan)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if resolved.ExportFormat != "" {
		if _, err := export.For(resolved.ExportFormat); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	jobID, err := s.enqueueJob(r.Context(), resolved)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	entities, err := s.jobStore.ListEntities(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job entities")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job, "entities": entities})
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = job.Plan.ExportFormat
	}
	serializer, err := export.For(format)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entities, err := s.jobStore.ListEntities(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job entities")
		return
	}
	payload, err := serializer.Serialize(entities)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "serialize entities")
		return
	}

	w.Header().Set("Content-Type", serializer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s", jobID, serializer.Format()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		s.logger.Error("write export failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	switch job.Status {
	case scrape.JobStatusSucceeded, scrape.JobStatusFailed, scrape.JobStatusCanceled:
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}

	// A running job is stopped through its cancel func; the worker records
	// the terminal status. A queued job is marked canceled directly and the
	// worker skips it when dequeued.
	if s.cancels == nil || !s.cancels.Cancel(jobID) {
		if err := s.jobStore.UpdateJobStatus(r.Context(), jobID, scrape.JobStatusCanceled, "canceled via API", job.Progress); err != nil {
			s.writeError(w, http.StatusInternalServerError, "cancel job")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": string(scrape.JobStatusCanceled)})
}

func (s *Server) enqueueJob(ctx context.Context, plan scrape.CrawlPlan) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := scrape.Job{
		ID:        jobID,
		Status:    scrape.JobStatusQueued,
		Submitted: now,
		Plan:      plan,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := scrape.QueueItem{
		JobID:     jobID,
		Plan:      plan,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				s.writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
