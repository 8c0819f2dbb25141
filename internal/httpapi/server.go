package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/edwardlthompson/linear-trend-spotter/internal/metrics"
	"github.com/edwardlthompson/linear-trend-spotter/internal/model"
	"github.com/edwardlthompson/linear-trend-spotter/internal/scan"
)

// ActiveSource reads the persisted qualifying set.
type ActiveSource interface {
	ActiveList(ctx context.Context) ([]model.ActiveQualifier, error)
}

// Server is the read-only query surface: current qualifiers, last run
// summary, health, and metrics. It never mutates scan state.
type Server struct {
	router *mux.Router
	active ActiveSource
	meter  *metrics.Registry

	mu      sync.RWMutex
	lastRun *scan.Result
}

func NewServer(active ActiveSource, meter *metrics.Registry) *Server {
	s := &Server{
		router: mux.NewRouter(),
		active: active,
		meter:  meter,
	}

	s.router.Use(logMiddleware)
	s.router.HandleFunc("/active", s.handleActive).Methods(http.MethodGet)
	s.router.HandleFunc("/lastrun", s.handleLastRun).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.Handle("/metrics", meter.Handler()).Methods(http.MethodGet)

	return s
}

// Handler returns the root handler for mounting.
func (s *Server) Handler() http.Handler { return s.router }

// SetLastRun publishes the latest run summary. Called after every
// completed scan.
func (s *Server) SetLastRun(res *scan.Result) {
	s.mu.Lock()
	s.lastRun = res
	s.mu.Unlock()
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	rows, err := s.active.ActiveList(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("active list query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(rows),
		"qualifiers": rows,
	})
}

func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	res := s.lastRun
	s.mu.RUnlock()

	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed run yet"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}
