// Package api exposes the HTTP interface for the rescue service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pocketrescue/internal/index"
	"pocketrescue/internal/metrics"
	"pocketrescue/internal/pipeline"
	"pocketrescue/internal/rescue"
	"pocketrescue/internal/track"
)

const defaultSearchLimit = 20

// Server wires HTTP handlers to the pipeline, the search index and the
// reading tracker.
type Server struct {
	router   chi.Router
	pipeline *pipeline.Pipeline
	tracker  *track.Tracker
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(p *pipeline.Pipeline, tracker *track.Tracker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{pipeline: p, tracker: tracker, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/run/status", s.runStatus)
		r.Get("/search", s.search)
		r.Route("/reading", func(r chi.Router) {
			r.Get("/stats", s.readingStats)
			r.Get("/list", s.readingList)
			r.Get("/export", s.readingExport)
			r.Post("/mark", s.readingMark)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runStatus(w http.ResponseWriter, _ *http.Request) {
	report := s.pipeline.LastReport()
	if report == nil {
		s.writeError(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

type searchResponse struct {
	Query   string         `json:"query"`
	Results []index.Result `json:"results"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	results := s.pipeline.Index().Search(query, limit)
	if results == nil {
		results = []index.Result{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Query: query, Results: results})
}

func (s *Server) readingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tracker.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading stats failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) readingList(w http.ResponseWriter, r *http.Request) {
	filter := track.ListFilter{
		Status: rescue.ReadingStatus(r.URL.Query().Get("status")),
		Tag:    r.URL.Query().Get("tag"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	entries, err := s.tracker.ReadingList(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if entries == nil {
		entries = []track.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) readingExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="reading_list.csv"`)
	if err := s.tracker.ExportCSV(r.Context(), w); err != nil {
		s.logger.Error("reading export failed", zap.Error(err))
	}
}

type markRequest struct {
	URL     string `json:"url"`
	Status  string `json:"status"`
	Percent *int   `json:"percent,omitempty"`
	Rating  *int   `json:"rating,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

func (s *Server) readingMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	progress, err := s.tracker.Mark(r.Context(), track.MarkRequest{
		URL:     req.URL,
		Status:  rescue.ReadingStatus(req.Status),
		Percent: req.Percent,
		Rating:  req.Rating,
		Notes:   req.Notes,
	})
	if err != nil {
		if errors.Is(err, rescue.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "article not found")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
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
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, elapsed)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
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

type requestIDKey struct{}

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
