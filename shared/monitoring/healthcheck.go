package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Mount registers /health, /status and /metrics on r.
func Mount(r chi.Router, monitor *Monitor) {
	r.Get("/health", healthHandler(monitor))
	r.Get("/status", statusHandler(monitor))
	r.Handle("/metrics", promhttp.Handler())
}

func healthHandler(monitor *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if monitor.IsHealthy() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "OK - %s", monitor.GetStatusSummary())
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Service unhealthy - %s", monitor.GetStatusSummary())
	}
}

func statusHandler(monitor *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s", monitor.GetStatusSummary())
	}
}

// HealthServer serves the monitoring endpoints on their own port.
type HealthServer struct {
	server *http.Server
	logger zerolog.Logger
}

func NewHealthServer(monitor *Monitor, port string, logger zerolog.Logger) *HealthServer {
	r := chi.NewRouter()
	Mount(r, monitor)

	return &HealthServer{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (h *HealthServer) Start() {
	go func() {
		h.logger.Info().Str("addr", h.server.Addr).Msg("health check server listening")
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("health server error")
		}
	}()
}

func (h *HealthServer) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}
