package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rentalscope/internal/model"
	"rentalscope/internal/view"
)

// Refresher triggers a full re-backfill pass.
type Refresher interface {
	Refresh()
}

// Server exposes the read side of the view store plus a refresh trigger.
// Every response is a point-in-time copy; the store keeps mutating behind it.
type Server struct {
	store     *view.Store
	refresher Refresher
	logger    *zap.Logger
	http      *http.Server
}

// NewServer builds the HTTP boundary over a store.
func NewServer(addr string, store *view.Store, refresher Refresher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{store: store, refresher: refresher, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/events/{category}", s.handleEvents)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type eventsResponse struct {
	Category model.Category `json:"category"`
	Events   []model.Event  `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.store.Ready() {
		http.Error(w, "event views not ready", http.StatusServiceUnavailable)
		return
	}

	category := model.Category(r.PathValue("category"))
	if !validCategory(category) {
		http.Error(w, "unknown category", http.StatusNotFound)
		return
	}

	events := s.store.Snapshot(category)
	if events == nil {
		events = []model.Event{}
	}
	s.writeJSON(w, eventsResponse{Category: category, Events: events})
}

type countersResponse struct {
	Listings uint64 `json:"listings"`
	Bookings uint64 `json:"bookings"`
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	if !s.store.Ready() {
		http.Error(w, "event views not ready", http.StatusServiceUnavailable)
		return
	}

	counters := s.store.Counters()
	s.writeJSON(w, countersResponse{Listings: counters.Listings, Bookings: counters.Bookings})
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		http.Error(w, "refresh not available", http.StatusNotImplemented)
		return
	}
	s.refresher.Refresh()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.store.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", zap.Error(err))
	}
}

func validCategory(category model.Category) bool {
	for _, known := range model.Categories() {
		if category == known {
			return true
		}
	}
	return false
}
