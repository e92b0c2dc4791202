package main

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/rickgao/rtdbridge/internal/metrics"
	"github.com/rickgao/rtdbridge/internal/registry"
	"github.com/rickgao/rtdbridge/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type registryView interface {
	Stats() registry.Stats
	Sessions() []registry.SessionInfo
}

type healthResponse struct {
	Status     string         `json:"status"`
	Instance   string         `json:"instance"`
	Version    string         `json:"version"`
	Registry   registry.Stats `json:"registry"`
	Components map[string]any `json:"components"`
}

// newOpsHandler serves /health, /debug/sessions and metrics. db may be nil.
func newOpsHandler(instance string, reg registryView, db pinger, m *metrics.Metrics, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := healthResponse{
			Status:     "healthy",
			Instance:   instance,
			Version:    version.Version,
			Registry:   reg.Stats(),
			Components: make(map[string]any),
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["journal"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["journal"] = "connected"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := reg.Sessions()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":    len(sessions),
			"sessions": sessions,
		})
	})

	if m != nil {
		mux.Handle(metricsPath, m.Handler())
	}

	return mux
}
