package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/replicore/wscache/internal/logger"
	"github.com/replicore/wscache/pkg/cache"
	"github.com/replicore/wscache/pkg/config"
	"github.com/replicore/wscache/pkg/metrics"
	prommetrics "github.com/replicore/wscache/pkg/metrics/prometheus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cache with its admin and metrics endpoint",
	Long: `Opens the page store and serves the admin API:

  GET  /healthz            liveness probe
  GET  /stats              cache statistics
  GET  /params/{key}       current parameter value
  PUT  /params/{key}       mutate a runtime parameter (body: new value as a JSON string)
  GET  /metrics            Prometheus metrics (when enabled)

The replication engine embeds the cache package directly; this command
exists for operating the cache standalone and for integration testing.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	c, err := cache.New(cfg, prommetrics.NewPageStoreMetrics())
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.Metrics.Listen,
		Handler: adminRouter(c, cfg),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin endpoint listening", "addr", cfg.Metrics.Listen)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// adminRouter builds the chi router for the admin API.
func adminRouter(c *cache.Cache, cfg *config.Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Stats())
	})

	r.Get("/params/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")
		value, err := c.Param(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Write([]byte(value))
	})

	r.Put("/params/{key}", func(w http.ResponseWriter, req *http.Request) {
		key := chi.URLParam(req, "key")

		var value string
		if err := json.NewDecoder(req.Body).Decode(&value); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		switch err := c.SetParam(key, value); {
		case errors.Is(err, config.ErrUnknownParameter):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, config.ErrReadOnlyParameter):
			http.Error(w, err.Error(), http.StatusForbidden)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	if cfg.Metrics.Enabled {
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	return r
}
