package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livearc/livearc/internal/config"
	"github.com/livearc/livearc/internal/watch"
)

type urlStatus struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// newServer builds the observability endpoint: health, metrics and the
// per-URL status the web admin shows.
func newServer(addr string, table *watch.Table, holder *config.Holder) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		cfg := holder.Get()
		out := make(map[string][]urlStatus, len(cfg.Streamers))
		for name, s := range cfg.Streamers {
			for _, u := range s.URL {
				out[name] = append(out[name], urlStatus{URL: u, Status: table.Status(u)})
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"streamers": out})
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
