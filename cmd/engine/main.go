package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/consequence-engine/internal/applier"
	"github.com/jwebster45206/consequence-engine/internal/config"
	"github.com/jwebster45206/consequence-engine/internal/handlers"
	"github.com/jwebster45206/consequence-engine/internal/knowledge"
	"github.com/jwebster45206/consequence-engine/internal/logger"
	"github.com/jwebster45206/consequence-engine/internal/metrics"
	"github.com/jwebster45206/consequence-engine/internal/orchestrator"
	"github.com/jwebster45206/consequence-engine/internal/services"
	"github.com/jwebster45206/consequence-engine/internal/services/events"
	"github.com/jwebster45206/consequence-engine/internal/services/queue"
	"github.com/jwebster45206/consequence-engine/internal/session"
	"github.com/jwebster45206/consequence-engine/internal/storage"
	"github.com/jwebster45206/consequence-engine/internal/store"
	"github.com/jwebster45206/consequence-engine/internal/templates"
	"github.com/jwebster45206/consequence-engine/internal/worker"
	pkgstorage "github.com/jwebster45206/consequence-engine/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Consequence Engine",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"snapshot_backend", cfg.SnapshotBackend,
		"ai_provider", cfg.AIProvider)

	redisClient, err := storage.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	snapshots, err := openSnapshotStore(cfg, redisClient, log)
	if err != nil {
		log.Error("Failed to open snapshot store", "backend", cfg.SnapshotBackend, "error", err)
		os.Exit(1)
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := snapshots.Ping(connectCtx); err != nil {
		connectCancel()
		log.Error("Failed to connect to snapshot store", "error", err)
		os.Exit(1)
	}
	connectCancel()
	log.Info("Snapshot store connection established successfully")

	m := metrics.New()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	stores := store.NewStores(log)
	persister := store.NewPersister(stores, snapshots, cfg.SaveDebounce, cfg.AutosaveInterval, log)
	persister.OnSave(m.SnapshotSaved)

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 30*time.Second)
	persister.Restore(restoreCtx)
	restoreCancel()

	sessions := session.NewRedisStore(redisClient, cfg.SessionTTL, log)

	ap := applier.New(stores, sessions, applier.Config{
		ScenarioLength: cfg.ScenarioLength,
		LevelUp: applier.LevelUp{
			XPPerLevel:   cfg.LevelUp.XPPerLevel,
			HPPerLevel:   cfg.LevelUp.HPPerLevel,
			ManaPerLevel: cfg.LevelUp.ManaPerLevel,
		},
	}, log)
	ap.SetMetrics(m)

	km := knowledge.NewManager(stores.Histories, rand.New(rand.NewSource(rng.Int63())), log)
	km.SetMetrics(m)

	catalog, err := templates.NewDefaultCatalog(rand.New(rand.NewSource(rng.Int63())), log)
	if err != nil {
		log.Error("Failed to load built-in templates", "error", err)
		os.Exit(1)
	}
	if cfg.TemplateDir != "" {
		n, err := catalog.LoadDir(cfg.TemplateDir)
		if err != nil {
			log.Error("Failed to load templates", "dir", cfg.TemplateDir, "error", err)
			os.Exit(1)
		}
		log.Info("Loaded custom templates", "dir", cfg.TemplateDir, "count", n)
	}

	orch := orchestrator.New(stores, catalog, km, ap, orchestrator.Config{
		AITimeout:            cfg.AITimeout,
		AIMaxAttempts:        cfg.AIMaxAttempts,
		AIBackoff:            cfg.AIBackoff,
		CacheSize:            cfg.CacheSize,
		CleanupInterval:      cfg.CleanupInterval,
		CompletedScenarioTTL: cfg.CompletedScenarioTTL,
	}, log)
	orch.SetMetrics(m)
	broadcaster := events.NewBroadcaster(redisClient, log)
	orch.SetPublisher(broadcaster)

	switch cfg.AIProvider {
	case config.ProviderAnthropic:
		orch.SetGenerator(services.NewAnthropicGenerator(cfg.AnthropicAPIKey, cfg.ModelName, log))
		log.Info("Using Anthropic scenario generator")
	case config.ProviderOpenAI:
		orch.SetGenerator(services.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ModelName, log))
		log.Info("Using OpenAI scenario generator")
	default:
		log.Info("AI generation disabled, using templates only")
	}

	expirer := applier.NewExpirer(stores, cfg.ExpirationInterval, log)
	expirer.SetMetrics(m)

	loops := []func(context.Context){persister.Run, expirer.Run, orch.Run}
	jobs := queue.NewGenerationQueue(queue.NewClient(redisClient, log), cfg.GenerationQueueKey)
	for range cfg.GenerationWorkers {
		w := worker.New(jobs, orch, broadcaster, redisClient, log, "")
		w.SetMaxAttempts(cfg.AIMaxAttempts)
		loops = append(loops, w.Run)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(snapshots, sessions, orch, log))
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Engine is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// background loops stop here; the persister writes its final snapshot on the way out
	cancel()
	wg.Wait()

	// the Redis snapshot store owns the shared client
	if err := snapshots.Close(); err != nil {
		log.Error("Error closing snapshot store", "error", err)
	}
	if cfg.SnapshotBackend != config.BackendRedis {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis connection", "error", err)
		}
	}

	log.Info("Engine exited")
}

func openSnapshotStore(cfg *config.Config, redisClient *redis.Client, log *slog.Logger) (pkgstorage.SnapshotStore, error) {
	switch cfg.SnapshotBackend {
	case config.BackendSQLite:
		return storage.OpenSQLite(cfg.SnapshotPath, cfg.SnapshotKey, log)
	default:
		return storage.NewRedisStorage(redisClient, cfg.SnapshotKey, log), nil
	}
}
