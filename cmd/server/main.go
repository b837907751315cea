package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dpup/prefab"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/trackseg/server/internal/cache"
	"github.com/trackseg/server/internal/config"
	"github.com/trackseg/server/internal/observability"
	"github.com/trackseg/server/internal/server"
	"github.com/trackseg/server/internal/services"
	"github.com/trackseg/server/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKSEG_CONFIG"), "path to YAML configuration")
	flag.Parse()

	// Layered over prefab.Config, so prefab.yaml and PF__ variables apply too
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// prefab traps the same signals to drain HTTP; this context stops the janitor and health
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runs, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer runs.Close()

	cacheInstance := cache.NewCache()
	janitor := services.NewCacheJanitor(cacheInstance, cfg.Cache.JanitorInterval, logger)
	janitor.Start(ctx)
	defer janitor.Stop()

	segmentService := services.NewSegmentService(cacheInstance, runs, cfg, logger)
	healthServer := health.NewServer()

	srv := prefab.New(
		prefab.WithHost(cfg.Server.Host),
		prefab.WithPort(cfg.Server.Port),
		prefab.WithGRPCReflection(),
		prefab.WithGRPCService(&healthpb.Health_ServiceDesc, healthServer),
		prefab.WithGRPCGateway(func(_ context.Context, mux *runtime.ServeMux, _ string, _ []grpc.DialOption) error {
			return server.RegisterHandlers(mux, segmentService, logger)
		}),
		prefab.WithHTTPHandler("/metrics", promhttp.Handler()),
		prefab.WithHTTPHandlerFunc("/healthz", server.HealthzHandler(healthServer)),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
	)

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
	}()

	logger.Info("trackseg server starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Store.Path,
		"flush_trailing", cfg.Segmentation.FlushTrailing,
		"workers", cfg.Segmentation.Workers,
	)

	// Blocks until SIGINT or SIGTERM
	return srv.Start()
}

// homepageHandler lists the API endpoints at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	const index = `trackseg

Straight-segment extraction from GPS traces.

API Endpoints:
  POST /api/v1/segments             - Segment one trace (points or polyline)
  POST /api/v1/segments/batch       - Segment several traces in parallel
  GET  /api/v1/runs?limit=n         - Recent segmentation runs
  GET  /api/v1/runs/{id}            - One run with its segments
  GET  /api/v1/runs/{id}/kml        - Run segments as KML
  GET  /api/v1/cache                - Segmentation cache statistics
  GET  /healthz                     - Health check
  GET  /metrics                     - Prometheus metrics
`

	if _, err := fmt.Fprint(w, index); err != nil {
		slog.Error("Failed to write homepage", "error", err)
	}
}
