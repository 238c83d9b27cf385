package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nimburion/taskcore/pkg/config"
	"github.com/nimburion/taskcore/pkg/health"
	"github.com/nimburion/taskcore/pkg/inspect"
	"github.com/nimburion/taskcore/pkg/observability/logger"
	"github.com/nimburion/taskcore/pkg/observability/metrics"
)

const defaultIdleTimeout = 60 * time.Second

// Snapshotter produces the introspection document served at /inspect.
type Snapshotter interface {
	Snapshot(ctx context.Context) (inspect.Snapshot, error)
}

// ManagementServer serves liveness, readiness, metrics and introspection on
// a port separate from any task traffic.
type ManagementServer struct {
	*Server
	router          *mux.Router
	log             logger.Logger
	healthRegistry  *health.Registry
	metricsRegistry *metrics.Registry
	inspector       Snapshotter
}

// NewManagementServer builds the server and registers:
//   - /health: liveness, always 200
//   - /ready: dependency checks, 503 when any fails
//   - /metrics: Prometheus text format
//   - /inspect: fleet snapshot, when an inspector is given
func NewManagementServer(
	cfg config.ManagementConfig,
	log logger.Logger,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	inspector Snapshotter,
) (*ManagementServer, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if healthRegistry == nil {
		return nil, errors.New("health registry is required")
	}
	if metricsRegistry == nil {
		return nil, errors.New("metrics registry is required")
	}

	r := mux.NewRouter()
	r.Use(RequestID(), Logging(log), Recovery(log), Metrics())

	s := &ManagementServer{
		Server: NewServer(Config{
			Port:         cfg.Port,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		}, r, log),
		router:          r,
		log:             log,
		healthRegistry:  healthRegistry,
		metricsRegistry: metricsRegistry,
		inspector:       inspector,
	}
	s.registerEndpoints()
	return s, nil
}

func (s *ManagementServer) registerEndpoints() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsRegistry.Handler()).Methods(http.MethodGet)
	if s.inspector != nil {
		s.router.HandleFunc("/inspect", s.handleInspect).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *ManagementServer) Handler() http.Handler {
	return s.router
}

func (s *ManagementServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *ManagementServer) handleReady(w http.ResponseWriter, r *http.Request) {
	result := s.healthRegistry.Check(r.Context())
	if !result.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleInspect serves partial snapshots with 200; the failed sections are
// listed in the document.
func (s *ManagementServer) handleInspect(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.inspector.Snapshot(r.Context())
	if err != nil && !errors.Is(err, inspect.ErrPartial) {
		s.log.WithContext(r.Context()).Error("inspect failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "inspect_failed",
			"message": err.Error(),
		})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := snapshot.WriteJSON(w); err != nil {
		s.log.Warn("failed to write inspect response", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
