// Package server handles the operational HTTP endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telegram-keyword-notifier/poll"
)

// Poller interface for triggering checks.
type Poller interface {
	CheckAll(ctx context.Context) poll.CycleReport
}

// Server handles HTTP requests.
type Server struct {
	poller Poller
	logger *slog.Logger
	addr   string
}

// Config holds server configuration.
type Config struct {
	Poller Poller
	Logger *slog.Logger
	Addr   string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		poller: cfg.Poller,
		logger: cfg.Logger,
		addr:   cfg.Addr,
	}
}

// Handler returns the router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.poller != nil {
		r.Post("/pollz", s.handlePoll)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // A manual poll runs a whole cycle
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", s.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Debug("Request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimw.GetReqID(r.Context()))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

type channelSummary struct {
	Channel   string `json:"channel"`
	Error     string `json:"error,omitempty"`
	Fetched   int    `json:"fetched"`
	Matches   int    `json:"matches"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped,omitempty"`
}

type pollResponse struct {
	Status     string           `json:"status"`
	CycleID    string           `json:"cycle_id"`
	Channels   []channelSummary `json:"channels"`
	DurationMS int64            `json:"duration_ms"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll endpoint triggered")

	report := s.poller.CheckAll(r.Context())

	resp := pollResponse{
		Status:     "completed",
		CycleID:    report.ID,
		DurationMS: report.Duration.Milliseconds(),
		Channels:   make([]channelSummary, 0, len(report.Channels)),
	}
	if report.Cancelled {
		resp.Status = "cancelled"
	}
	for _, c := range report.Channels {
		sum := channelSummary{
			Channel:   c.Channel,
			Fetched:   c.Fetched,
			Matches:   c.Matches,
			Delivered: c.Delivery.Delivered,
			Failed:    c.Delivery.Failed,
			Skipped:   c.Skipped,
		}
		if c.Err != nil {
			sum.Error = c.Err.Error()
		}
		resp.Channels = append(resp.Channels, sum)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
