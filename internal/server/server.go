// Package server implements the fixd HTTP admin surface: Prometheus
// metrics, liveness, and a JSON view of the live sessions.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fixwire/fixd/internal/fix"
	appversion "github.com/fixwire/fixd/internal/version"
)

// -------------------------------------------------------------------------
// Admin server
// -------------------------------------------------------------------------

// readHeaderTimeout bounds slow-header clients on the admin listener.
const readHeaderTimeout = 5 * time.Second

// AdminServer serves the operational endpoints:
//
//	GET /metrics   Prometheus exposition
//	GET /healthz   liveness probe
//	GET /sessions  JSON session snapshots
type AdminServer struct {
	registry *fix.Registry
	logger   *slog.Logger
}

// SessionInfo is one session's point-in-time snapshot. Sequence
// numbers are monitoring-quality reads; the owning reactor may be
// advancing them concurrently.
type SessionInfo struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	NextSender int    `json:"next_sender_seq"`
	NextTarget int    `json:"next_target_seq"`
}

// New builds the admin HTTP server over the session registry and the
// Prometheus gatherer.
func New(registry *fix.Registry, gatherer prometheus.Gatherer, addr string, logger *slog.Logger) *http.Server {
	s := &AdminServer{
		registry: registry,
		logger:   logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/sessions", s.handleSessions)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// handleHealthz answers liveness probes with the build version.
func (s *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{"status": "ok", "version": appversion.Version}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write healthz response", slog.String("error", err.Error()))
	}
}

// handleSessions lists every registered session.
func (s *AdminServer) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.registry.Sessions()
	out := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, SessionInfo{
			ID:         sess.ID().String(),
			Status:     sess.Status().String(),
			NextSender: sess.NextSenderSeqNum(),
			NextTarget: sess.NextTargetSeqNum(),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warn("write sessions response", slog.String("error", err.Error()))
	}
}
