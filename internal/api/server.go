// Package api serves the current snapshot over HTTP and websocket.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gtfs-reconciler/internal/gtfs"
	"gtfs-reconciler/internal/schedule"
	"gtfs-reconciler/internal/snapshot"
)

type Options struct {
	// StaleAfter is how long the consumer may go without polling before
	// /api/health reports 503.
	StaleAfter time.Duration
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Now     func() time.Time
}

type Server struct {
	store    *snapshot.Store
	schedule schedule.Stats
	hub      *Hub
	opts     Options
}

func NewServer(store *snapshot.Store, stats schedule.Stats, hub *Hub, opts Options) *Server {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if hub == nil {
		hub = NewHub(nil)
	}
	return &Server{store: store, schedule: stats, hub: hub, opts: opts}
}

// Handler returns the routed, CORS-enabled and traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/vehicles", s.handleVehicles)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/vehicles/ws", s.handleWebSocket)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	return otelhttp.NewHandler(withCORS(mux), "api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	if route := strings.TrimSpace(r.URL.Query().Get("route")); route != "" {
		filtered := *snap
		filtered.Vehicles = filterRoute(snap.Vehicles, route)
		snap = &filtered
	}
	writeJSON(w, http.StatusOK, snap)
}

func filterRoute(in []gtfs.VehicleRecord, route string) []gtfs.VehicleRecord {
	out := make([]gtfs.VehicleRecord, 0)
	for _, v := range in {
		if strings.EqualFold(v.RouteID, route) || strings.EqualFold(v.RouteShortName, route) {
			out = append(out, v)
		}
	}
	return out
}

type health struct {
	Status      string         `json:"status"`
	LastPolled  *time.Time     `json:"last_polled,omitempty"`
	GeneratedAt *time.Time     `json:"generated_at,omitempty"`
	Vehicles    int            `json:"vehicles"`
	Schedule    schedule.Stats `json:"schedule"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	h := health{Status: "ok", Vehicles: len(snap.Vehicles), Schedule: s.schedule}
	if !snap.LastPolled.IsZero() {
		h.LastPolled = &snap.LastPolled
	}
	if !snap.GeneratedAt.IsZero() {
		h.GeneratedAt = &snap.GeneratedAt
	}
	code := http.StatusOK
	if snap.LastPolled.IsZero() || s.opts.Now().Sub(snap.LastPolled) > s.opts.StaleAfter {
		h.Status = "stale"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, s.store.Current)
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api write error: %v", err)
	}
}
