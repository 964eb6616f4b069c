package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"feedkeeper.app/internal/http/middleware"
	"feedkeeper.app/internal/http/mux"
	"feedkeeper.app/internal/metric"
	"feedkeeper.app/internal/version"
)

// Store is what the probes and the metrics endpoint query.
type Store interface {
	metric.Collector
	Ping(ctx context.Context) error
	SchemaUpToDate(ctx context.Context) error
}

// Options configures NewHandler. Metrics are served only when Metrics is
// set.
type Options struct {
	Metrics *metric.HandlerOptions
}

// NewHandler returns the router of the daemon:
//
//	/healthz, /liveness       the process is up
//	/readyz, /readiness       the database is reachable and migrated
//	/healthcheck              same as /readyz
//	/version                  build information as JSON
//	/metrics                  Prometheus metrics, when enabled
func NewHandler(store Store, opts Options) http.Handler {
	m := mux.New().Use(middleware.RequestId,
		middleware.WithAccessLog("/healthz", "/liveness", "/readyz",
			"/readiness", "/healthcheck", "/metrics"),
		middleware.WithPanic)

	readinessProbe := makeReadinessProbe(store)
	m.HandleFunc("GET /healthz", livenessProbe).
		HandleFunc("GET /liveness", livenessProbe).
		HandleFunc("GET /readyz", readinessProbe).
		HandleFunc("GET /readiness", readinessProbe).
		HandleFunc("GET /healthcheck", readinessProbe).
		HandleFunc("GET /version", handleVersion)

	if opts.Metrics != nil {
		m.Handle("GET /metrics", metric.Handler(store, *opts.Metrics))
	}
	return m
}

func makeReadinessProbe(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("Database Connection Error: %q", err),
				http.StatusServiceUnavailable)
			return
		} else if err := store.SchemaUpToDate(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		livenessProbe(w, r)
	}
}

func livenessProbe(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(version.New())
}
