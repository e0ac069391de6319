// Command voxlane runs the HTTP gateway: it accepts synthesis requests,
// enqueues them for the engine workers, and serves results back.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/voxlane/voxlane/internal/api"
	"github.com/voxlane/voxlane/internal/config"
	"github.com/voxlane/voxlane/internal/dispatch"
	"github.com/voxlane/voxlane/internal/history"
	"github.com/voxlane/voxlane/internal/queue"
	"github.com/voxlane/voxlane/internal/results"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("voxlane: starting",
		"listen_addr", cfg.ListenAddr,
		"data_root", cfg.DataRoot,
		"engines", cfg.EngineNames(),
	)

	layout := queue.Layout{Root: cfg.DataRoot}
	if err := layout.Init(cfg.EngineNames()); err != nil {
		log.Fatalf("failed to prepare data root: %v", err)
	}

	q := queue.New(layout, cfg.EngineNames())
	store := results.New(q)

	var hist *history.Store
	if cfg.HistoryDBPath != "" {
		hist, err = history.Open(cfg.HistoryDBPath)
		if err != nil {
			log.Fatalf("failed to open history database: %v", err)
		}
		defer hist.Close()
	}

	d := dispatch.New(cfg, q, store, hist, logger)
	dispatch.RegisterQueueDepthMetrics(q, cfg.EngineNames())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runRetentionSweep(ctx, store, cfg, logger)

	srv := api.NewServer(cfg, d, q, hist, logger)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// runRetentionSweep evicts expired results periodically so the data root
// stays bounded.
func runRetentionSweep(ctx context.Context, store *results.Store, cfg config.Config, logger *slog.Logger) {
	retention := cfg.Retention()
	if retention <= 0 {
		return
	}

	interval := retention / 10
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted, purged, err := store.Sweep(time.Now(), retention, cfg.TombstoneGrace(), logger)
			if err != nil {
				logger.Error("retention sweep", "error", err)
				continue
			}
			if evicted > 0 || purged > 0 {
				logger.Info("retention sweep", "evicted", evicted, "tombstones_purged", purged)
			}
		}
	}
}
