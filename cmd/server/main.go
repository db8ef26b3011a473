// The server binary is the HTTP control plane. It owns no background
// scan work; scans, harvests and exports run in the worker binary.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/openlabels/scanner/internal/api"
	"github.com/openlabels/scanner/internal/catalog"
	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/export"
	"github.com/openlabels/scanner/internal/queue"
	"github.com/openlabels/scanner/internal/scheduler"
)

func main() {
	_ = godotenv.Load()
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.PoolSize, cfg.Database.MaxOverflow)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema: %v", err)
	}
	if err := store.EnsureMonthPartitions(ctx, time.Now()); err != nil {
		log.Fatalf("partitions: %v", err)
	}

	var redis *database.RedisStore
	if cfg.Redis.Addr != "" {
		redis, err = database.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("Redis unavailable, running without fast-path flags", "err", err)
		} else {
			defer redis.Close()
		}
	}

	q := queue.New(store.DB(), time.Duration(cfg.Worker.LeaseTTLS)*time.Second)
	sched := scheduler.New(store, q,
		time.Duration(cfg.Scheduler.PollIntervalS)*time.Second,
		time.Duration(cfg.Scheduler.MinTriggerInterval)*time.Second)

	var analytics *catalog.Analytics
	if cfg.Catalog.Enabled {
		analytics, err = catalog.NewAnalytics(cfg.Catalog.LocalPath, cfg.Catalog.DuckDBMemoryLimit, cfg.Catalog.DuckDBThreads)
		if err != nil {
			log.Fatalf("analytics: %v", err)
		}
		defer analytics.Close()
	}

	var exp *export.Engine
	if cfg.SIEMExport.Enabled {
		exp = export.NewEngine(store, cfg.SIEMExport)
	}

	srv, err := api.New(cfg, store, redis, q, sched, analytics, exp)
	if err != nil {
		log.Fatalf("api: %v", err)
	}
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
