package crawler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// NewServer builds the ops HTTP surface: health, live crawl parameters, and
// Prometheus metrics. This is operational plumbing only; the read-facing web
// application lives elsewhere.
func (a *App) NewServer() *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	router.Handle("/metrics", a.Metrics.Handler()).Methods(http.MethodGet)

	return &http.Server{
		Addr:              a.Config.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]string{"store": "ok"}
	status := http.StatusOK

	if err := a.Store.Ping(ctx); err != nil {
		health["store"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if a.Redis != nil {
		health["redis"] = "ok"
		if err := a.Redis.Health(ctx); err != nil {
			health["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, health)
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	params := a.Params.Load()
	writeJSON(w, http.StatusOK, map[string]any{
		"min_offset":   params.MinOffset.String(),
		"batch_size":   params.BatchSize,
		"target_sweep": params.TargetSweep.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
