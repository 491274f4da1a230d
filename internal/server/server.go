// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

// Package server exposes the operational HTTP surface for daemon mode:
// liveness, last-sweep status, and Prometheus metrics. It binds to
// localhost by default and carries no auth; put a reverse proxy in
// front before exposing it wider.
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/vigilo/internal/config"
	"github.com/tomtom215/vigilo/internal/logging"
	"github.com/tomtom215/vigilo/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Summary is the last-sweep report served on /status.
type Summary struct {
	State        string    `json:"state"` // idle, ok or error
	RunID        string    `json:"run_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Findings     int       `json:"findings"`
	HighFindings int       `json:"high_findings"`
	Error        string    `json:"error,omitempty"`
	Sweeps       int64     `json:"sweeps"`
}

// Status holds the rolling sweep summary shared between the scheduler
// and the HTTP handlers.
type Status struct {
	mu      sync.RWMutex
	summary Summary
}

// NewStatus returns an idle status holder.
func NewStatus() *Status {
	return &Status{summary: Summary{State: "idle"}}
}

// Record replaces the summary and bumps the sweep counter.
func (s *Status) Record(sum Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum.Sweeps = s.summary.Sweeps + 1
	s.summary = sum
}

// Snapshot returns a copy of the current summary.
func (s *Status) Snapshot() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary
}

// Server is the ops HTTP service. It implements suture.Service.
type Server struct {
	addr      string
	status    *Status
	version   string
	startTime time.Time
}

// New builds the ops server from config.
func New(cfg config.OpsConfig, status *Status, version string) *Server {
	if status == nil {
		status = NewStatus()
	}
	return &Server{
		addr:      cfg.Listen,
		status:    status,
		version:   version,
		startTime: time.Now(),
	}
}

// Handler builds the ops router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// Serve runs the HTTP server until the context is canceled, then shuts
// down gracefully. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logging.CtxInfo(ctx).
		Str("addr", ln.Addr().String()).
		Msg("Ops server listening")

	metrics.SetAppInfo(s.version)
	go s.trackUptime(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			logging.CtxWarn(ctx).Err(err).Msg("Ops server shutdown incomplete")
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// trackUptime refreshes the uptime gauge while the server runs.
func (s *Server) trackUptime(ctx context.Context) {
	metrics.UpdateUptime(s.startTime)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.UpdateUptime(s.startTime)
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.status.Snapshot())
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("Ops response encode failed")
	}
}
