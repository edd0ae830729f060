// Package server exposes the engine's read surface and the incident
// administration endpoints, and feeds request timings back into the
// window aggregator.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"velocity/internal/incident"
	"velocity/internal/logger"
	"velocity/internal/telemetry"
	"velocity/pkg/models"
)

// AlarmSource exposes the latest evaluation pass.
type AlarmSource interface {
	LastAlarms() []models.Alarm
}

// Server routes HTTP traffic for the engine.
type Server struct {
	agg    *telemetry.Aggregator
	alarms AlarmSource
	store  *incident.Store
	router *mux.Router
}

// New builds the router. store may be nil when persistence is disabled;
// the incident endpoints then answer 503.
func New(agg *telemetry.Aggregator, alarms AlarmSource, store *incident.Store) *Server {
	s := &Server{agg: agg, alarms: alarms, store: store}

	r := mux.NewRouter()
	r.Use(s.instrument)
	r.HandleFunc("/api/v1/telemetry/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/telemetry/trends", s.handleTrends).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/telemetry/alarms", s.handleAlarms).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/incidents", s.handleListIncidents).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/incidents/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/incidents/{id}/resolve", s.handleResolve).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records one sample per completed request, keyed by
// "<METHOD> <route_pattern>". Only 5xx responses count as failures; client
// errors are the caller's problem, not the route's.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		pattern := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				pattern = tmpl
			}
		}
		s.agg.Record(r.Method+" "+pattern, float64(time.Since(start).Milliseconds()), rec.status < 500)
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.agg.Snapshot())
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")
	if route != "" {
		respondJSON(w, http.StatusOK, s.agg.Trend(route))
		return
	}
	out := make(map[string][]models.TrendBucket)
	for _, rt := range s.agg.Routes() {
		out[rt] = s.agg.Trend(rt)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request) {
	alarms := s.alarms.LastAlarms()
	if alarms == nil {
		alarms = []models.Alarm{}
	}
	respondJSON(w, http.StatusOK, alarms)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "incident store disabled")
		return
	}
	incidents, err := s.store.List(r.Context(), r.URL.Query().Get("status"), 100)
	if err != nil {
		logger.Errorf("Failed to list incidents: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	if incidents == nil {
		incidents = []models.Incident{}
	}
	respondJSON(w, http.StatusOK, incidents)
}

type ackRequest struct {
	By string `json:"by"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "incident store disabled")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid incident id")
		return
	}
	var req ackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.By == "" {
		respondError(w, http.StatusBadRequest, "acknowledging user is required")
		return
	}

	if err := s.store.Acknowledge(r.Context(), id, req.By, time.Now()); err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			respondError(w, http.StatusNotFound, "incident not open")
			return
		}
		logger.Errorf("Failed to acknowledge incident %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to acknowledge incident")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": models.StatusAcknowledged})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "incident store disabled")
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid incident id")
		return
	}

	if err := s.store.Resolve(r.Context(), id, time.Now()); err != nil {
		if errors.Is(err, incident.ErrNotFound) {
			respondError(w, http.StatusNotFound, "incident not found")
			return
		}
		logger.Errorf("Failed to resolve incident %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "failed to resolve incident")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": models.StatusResolved})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
