package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Control Plane — health, metrics and operator endpoints
// ---------------------------------------------------------------------------

// ControlConfig configures the control-plane HTTP server.
type ControlConfig struct {
	Port    int  `yaml:"port"`    // default 8090
	Enabled bool `yaml:"enabled"` // default true
}

// Server exposes the operational surface of the trader:
//
//	GET  /healthz    aggregate component health
//	GET  /metrics    Prometheus text exposition
//	GET  /positions  live position views
//	GET  /stats      session statistics
//	POST /pause      stop admitting new entries
//	POST /resume     resume entry admission
type Server struct {
	config   ControlConfig
	health   *HealthMonitor
	exporter *PrometheusExporter

	positionsFn func() any
	statsFn     func() any
	paused      atomic.Bool

	httpSrv *http.Server
}

// NewServer creates a control-plane server. positionsFn and statsFn
// supply the payloads for their endpoints; either may be nil.
func NewServer(config ControlConfig, registry *Registry, health *HealthMonitor, positionsFn, statsFn func() any) *Server {
	if config.Port == 0 {
		config.Port = 8090
	}
	return &Server{
		config:      config,
		health:      health,
		exporter:    NewPrometheusExporter(registry),
		positionsFn: positionsFn,
		statsFn:     statsFn,
	}
}

// Paused reports whether entry admission is paused. The orchestrator
// polls this before scheduling new entries.
func (s *Server) Paused() bool {
	return s.paused.Load()
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", s.exporter)
	mux.HandleFunc("/positions", s.handlePositions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/pause", s.handlePause)
	mux.HandleFunc("/resume", s.handleResume)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.config.Port).Msg("control: listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var health SystemHealth
	if s.health != nil {
		health = s.health.Check(r.Context())
	} else {
		health = SystemHealth{Status: StatusHealthy, Timestamp: time.Now()}
	}

	code := http.StatusOK
	if health.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if s.positionsFn == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.positionsFn())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"paused": s.paused.Load()}
	if s.statsFn != nil {
		payload["stats"] = s.statsFn()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.paused.Store(true)
	log.Warn().Msg("control: entry admission paused")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	s.paused.Store(false)
	log.Info().Msg("control: entry admission resumed")
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
