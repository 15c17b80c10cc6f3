package server

import (
	"encoding/json"
	"net/http"

	"github.com/assetflow/assetflow/internal/assets"
	"github.com/assetflow/assetflow/internal/metrics"
)

// NewHandler exposes the operational surface: liveness, the statistics
// snapshot and Prometheus metrics. Asset loading itself is an in-process API,
// not an HTTP one.
func NewHandler(manager *assets.Manager, recorder *metrics.Recorder) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/statistics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if manager == nil {
			http.Error(w, "manager unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(manager.Statistics())
	})

	mux.Handle("/metrics", recorder.Handler())

	return mux
}
