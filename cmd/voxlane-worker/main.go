// Command voxlane-worker runs one engine's claim-and-synthesize loop. Each
// configured engine gets its own worker process; the only coordination with
// the gateway is through the shared data root.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/engine"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/results"
	"github.com/voxlane/voxlane/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	engineName := flag.String("engine", "", "name of the engine to serve")
	metricsAddr := flag.String("metrics-addr", "", "optional listen address for Prometheus metrics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	if *engineName == "" {
		log.Fatal("-engine is required")
	}

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build engines: %v", err)
	}
	eng, err := reg.Resolve(*engineName)
	if err != nil {
		log.Fatalf("unknown engine %q", *engineName)
	}

	logger.Info("voxlane-worker: starting",
		"engine", *engineName,
		"data_root", cfg.DataRoot,
	)

	layout := queue.Layout{Root: cfg.DataRoot}
	if err := layout.Init(cfg.EngineNames()); err != nil {
		log.Fatalf("failed to prepare data root: %v", err)
	}

	q := queue.New(layout, cfg.EngineNames())
	store := results.New(q)

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	w := worker.New(worker.Config{
		Engine:     *engineName,
		Poll:       cfg.PollInterval(),
		ReapAfter:  cfg.ReapAfter(),
		ReapPolicy: cfg.ReapPolicy,
	}, eng, q, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker error: %v", err)
	}
	logger.Info("worker stopped")
}

// buildRegistry constructs an exec engine for every configured entry.
// Construction is cheap; nothing runs until a job is claimed.
func buildRegistry(cfg config.Config, logger *slog.Logger) (*engine.Registry, error) {
	reg := engine.NewRegistry()
	for _, ec := range cfg.Engines {
		eng, err := engine.NewExecEngine(ec, cfg.SynthesisTimeout(), logger)
		if err != nil {
			return nil, err
		}
		reg.Register(ec.Name, eng)
	}
	return reg, nil
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", worker.MetricsHandler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics listener", "error", err)
	}
}
