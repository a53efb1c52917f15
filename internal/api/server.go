package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-crawler/internal/crawler"
	"github.com/JakeFAU/job-crawler/internal/metrics"
)

// ReportSource returns the latest cycle report, false when none exists yet.
type ReportSource interface {
	Get() (crawler.CycleReport, bool)
	Cycles() int
}

// LedgerStats exposes the dedup ledger's size.
type LedgerStats interface {
	Len() int
	Pending() int
}

// Server wires HTTP handlers to the crawl state.
type Server struct {
	router  chi.Router
	reports ReportSource
	ledger  LedgerStats
	logger  *zap.Logger
}

type ledgerResponse struct {
	IDs     int `json:"ids"`
	Pending int `json:"pending"`
}

type reportResponse struct {
	crawler.CycleReport
	Cycles          int     `json:"cycles"`
	DurationSeconds float64 `json:"duration_seconds"`
	Degraded        bool    `json:"degraded"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(reports ReportSource, ledger LedgerStats, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{reports: reports, ledger: ledger, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/reports/latest", s.latestReport)
		r.Get("/ledger", s.ledgerStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) latestReport(w http.ResponseWriter, _ *http.Request) {
	if s.reports == nil {
		writeError(s.logger, w, http.StatusNotFound, "no cycle has finished yet")
		return
	}
	r, ok := s.reports.Get()
	if !ok {
		writeError(s.logger, w, http.StatusNotFound, "no cycle has finished yet")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, reportResponse{
		CycleReport:     r,
		Cycles:          s.reports.Cycles(),
		DurationSeconds: r.Duration().Seconds(),
		Degraded:        r.Degraded(),
	})
}

func (s *Server) ledgerStats(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "ledger not loaded")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, ledgerResponse{IDs: s.ledger.Len(), Pending: s.ledger.Pending()})
}

type requestIDKey struct{}

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
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
