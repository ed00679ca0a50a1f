// Package metrics exposes the Prometheus scrape endpoint plus liveness and
// per-task health probes for the trading process.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"perp_trader/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthSource reports per-task last-beat timestamps
type HealthSource interface {
	Health() map[string]time.Time
}

// Server handles Prometheus metrics export and health probes
type Server struct {
	port   int
	health HealthSource
	logger core.ILogger
	srv    *http.Server
}

func NewServer(port int, health HealthSource, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Start begins serving /metrics, /healthz and /readyz in the background
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("metrics server listening", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// handleReady reports each engine task's last beat; a task silent for over
// five minutes marks the process not ready.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	type taskBeat struct {
		LastBeat time.Time `json:"last_beat"`
		Stale    bool      `json:"stale"`
	}
	out := make(map[string]taskBeat)
	ready := true

	if s.health != nil {
		cutoff := time.Now().Add(-5 * time.Minute)
		for task, beat := range s.health.Health() {
			stale := beat.Before(cutoff)
			if stale {
				ready = false
			}
			out[task] = taskBeat{LastBeat: beat, Stale: stale}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ready": ready,
		"tasks": out,
	})
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping metrics server")
	return s.srv.Shutdown(ctx)
}
