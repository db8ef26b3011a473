// The worker binary runs everything asynchronous: the scan worker
// pool, the scheduler, the event harvester, the catalog flusher and
// compactor, and the SIEM export loop. Several replicas can run at
// once; advisory locks keep the singleton loops exclusive.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/openlabels/scanner/internal/catalog"
	"github.com/openlabels/scanner/internal/config"
	"github.com/openlabels/scanner/internal/database"
	"github.com/openlabels/scanner/internal/detect"
	"github.com/openlabels/scanner/internal/export"
	"github.com/openlabels/scanner/internal/harvester"
	"github.com/openlabels/scanner/internal/labels"
	"github.com/openlabels/scanner/internal/orchestrator"
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
			slog.Warn("Redis unavailable, cancellation falls back to Postgres polling", "err", err)
		} else {
			defer redis.Close()
		}
	}

	q := queue.New(store.DB(), time.Duration(cfg.Worker.LeaseTTLS)*time.Second)
	pool := queue.NewWorkerPool(q, cfg.Worker.Concurrency, time.Duration(cfg.Worker.HeartbeatS)*time.Second)
	reclaimer := queue.NewReclaimer(q, store, time.Duration(cfg.Worker.ReclaimEveryS)*time.Second)

	var models []detect.NERModel
	if cfg.Detection.MLEndpoint != "" {
		models = append(models, detect.NewHTTPNERModel("ml", cfg.Detection.MLEndpoint,
			time.Duration(cfg.Detection.MLTimeoutS)*time.Second))
	}
	pipeline := detect.NewPipeline(models)
	settings := config.NewManager(cfg.Tenants)

	var exp *export.Engine
	var postScan orchestrator.PostScanHook
	if cfg.SIEMExport.Enabled {
		exp = export.NewEngine(store, cfg.SIEMExport)
		postScan = exp.PostScan
	}

	orch := orchestrator.New(store, redis, q, pipeline, settings, labels.New(), postScan)
	orch.RegisterHandlers(pool)

	sched := scheduler.New(store, q,
		time.Duration(cfg.Scheduler.PollIntervalS)*time.Second,
		time.Duration(cfg.Scheduler.MinTriggerInterval)*time.Second)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			slog.Info("loop exited", "name", name)
		}()
	}

	run("pool", pool.Run)
	run("reclaimer", reclaimer.Run)
	if cfg.Scheduler.Enabled {
		run("scheduler", sched.Run)
	}

	if cfg.Harvester.Enabled {
		h := harvester.New(store, q, time.Duration(cfg.Harvester.HarvestIntervalS)*time.Second)
		registerProviders(cfg, h)
		run("harvester", h.Run)

		stream := harvester.NewStreamManager(h, "pubsub",
			cfg.Harvester.BatchSize, cfg.Harvester.MaxBufferSize,
			time.Duration(cfg.Harvester.FlushIntervalS)*time.Second)
		run("stream", stream.Run)
		if cfg.Harvester.PubSubProject != "" && cfg.Harvester.PubSubSub != "" {
			ps := harvester.NewPubSubProvider(cfg.Harvester.PubSubProject, cfg.Harvester.PubSubSub, stream)
			run("pubsub", func(ctx context.Context) {
				if err := ps.Run(ctx); err != nil && ctx.Err() == nil {
					slog.Error("pubsub receiver failed", "err", err)
				}
			})
		}
	}

	if cfg.Catalog.Enabled {
		flusher := catalog.NewFlusher(store, cfg.Catalog.LocalPath, cfg.Catalog.FlushInterval())
		run("flusher", flusher.Run)

		analytics, err := catalog.NewAnalytics(cfg.Catalog.LocalPath, cfg.Catalog.DuckDBMemoryLimit, cfg.Catalog.DuckDBThreads)
		if err != nil {
			log.Fatalf("analytics: %v", err)
		}
		defer analytics.Close()
		compactor, err := catalog.NewCompactor(store, analytics, cfg.Catalog.LocalPath,
			cfg.Catalog.CompactionMinFiles, cfg.Catalog.CompactionCron)
		if err != nil {
			log.Fatalf("compactor: %v", err)
		}
		run("compactor", compactor.Run)
	}

	if exp != nil {
		run("export", exp.Run)
	}

	wg.Wait()
	slog.Info("worker stopped")
}

// registerProviders wires the pull-based harvest providers. Pull
// providers are host-scoped, so the serving tenant comes from the
// environment; the push path (Pub/Sub) carries tenant ids per event.
func registerProviders(cfg *config.Config, h *harvester.Harvester) {
	raw := os.Getenv("HARVEST_TENANT_ID")
	if raw == "" {
		return
	}
	tenantID, err := uuid.Parse(raw)
	if err != nil {
		slog.Error("invalid HARVEST_TENANT_ID", "err", err)
		return
	}

	if cfg.Harvester.AuditdLogPath != "" {
		h.AddPull(harvester.NewAuditdProvider(cfg.Harvester.AuditdLogPath), tenantID, database.LockEventHarvest)
	}
	if runtime.GOOS == "windows" {
		h.AddPull(harvester.NewSACLProvider(), tenantID, database.LockMonitoringSync)
	}

	if t, id, secret := os.Getenv("M365_TENANT_ID"), os.Getenv("M365_CLIENT_ID"), os.Getenv("M365_CLIENT_SECRET"); t != "" && id != "" && secret != "" {
		h.AddPull(harvester.NewM365Provider(t, id, secret), tenantID, database.LockM365Harvest)
	}
}
