// Package api exposes the client's local diagnostic surface: health,
// queue state, and Prometheus metrics, bound to loopback only.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/novolei/HChat-sub000/internal/api/middleware"
)

const version = "0.1.0"

// Status is what the health endpoint reports about the running client.
type Status struct {
	State   string `json:"state"`   // connection state
	Pending int    `json:"pending"` // messages awaiting delivery
	Nick    string `json:"nick,omitempty"`
	Room    string `json:"room,omitempty"`
}

// StatusFunc supplies a point-in-time snapshot of the client's state.
type StatusFunc func() Status

// HealthResponse is the health endpoint's response body.
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "degraded"
	Version   string `json:"version"`
	Client    Status `json:"client"`
	Timestamp string `json:"timestamp"`
}

// NewRouter builds the diagnostic router.
func NewRouter(logger zerolog.Logger, status StatusFunc) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Standard middleware
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		snap := status()

		// A disconnected session is not an error: the client keeps queueing
		// and will retry. Degraded only signals a backlog with no link.
		health := "healthy"
		code := http.StatusOK
		if snap.State != "connected" && snap.Pending > 0 {
			health = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, HealthResponse{
			Status:    health,
			Version:   version,
			Client:    snap,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
