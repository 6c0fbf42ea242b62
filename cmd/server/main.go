package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dandantas/scout/internal/auth"
	"github.com/dandantas/scout/internal/config"
	"github.com/dandantas/scout/internal/database"
	"github.com/dandantas/scout/internal/feed"
	"github.com/dandantas/scout/internal/handler"
	"github.com/dandantas/scout/internal/insight"
	"github.com/dandantas/scout/internal/jobstore"
	"github.com/dandantas/scout/internal/orchestrator"
	"github.com/dandantas/scout/internal/pipeline"
	"github.com/dandantas/scout/internal/pipelines"
	"github.com/dandantas/scout/internal/provider"
	"github.com/dandantas/scout/internal/service"
	"github.com/dandantas/scout/internal/snapshot"
	"github.com/dandantas/scout/internal/trigger"
	"github.com/dandantas/scout/pkg/middleware"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	config.InitLogger(cfg)

	slog.Info("Starting Scout pipeline service", "version", version, "replica_id", cfg.ReplicaID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tiers, err := config.LoadTiers(cfg.TiersFile)
	if err != nil {
		slog.Error("Failed to load tiers", "error", err)
		os.Exit(1)
	}

	// Connect to MongoDB
	db, err := database.Connect(ctx, database.MongoOptions{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
		Timeout:  cfg.MongoTimeout,
		AppName:  "scout",
	})
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Disconnect(context.Background()); err != nil {
			slog.Error("Failed to disconnect from MongoDB", "error", err)
		}
	}()

	if err := database.CreateIndexes(ctx, db); err != nil {
		slog.Error("Failed to create indexes", "error", err)
		os.Exit(1)
	}

	// Repositories
	directoryRepo := database.NewDirectoryRepository(db)
	snapshotRepo := database.NewSnapshotRepository(db)
	insightRepo := database.NewInsightRepository(db)
	lockRepo := database.NewLockRepository(db)

	durable, sqliteDB, err := openJobStore(cfg, db)
	if err != nil {
		slog.Error("Failed to open job store", "store", cfg.JobStore, "error", err)
		os.Exit(1)
	}
	if sqliteDB != nil {
		defer sqliteDB.Close()
	}

	tracker := jobstore.NewTracker(durable, jobstore.TrackerOptions{
		RecentWindow: cfg.RecentJobWindow,
		StaleAfter:   cfg.StaleJobAfter,
		Retention:    cfg.MemoryJobRetention,
	})

	// Providers
	gateway := provider.NewGateway(provider.GatewayOptions{
		BaseURL: cfg.ProviderGatewayURL,
		Token:   cfg.ProviderGatewayToken,
		Timeout: cfg.DefaultProviderTimeout,
	})
	providers := provider.FromGateway(gateway)

	// Change detection
	recorder := snapshot.NewRecorder(snapshotRepo, lockRepo, snapshot.NewNormalizer(), snapshot.RecorderOptions{
		LockTTL: cfg.SnapshotLockTTL,
	})
	generator := insight.NewGenerator(insight.NewEvaluator(insight.DefaultRules()), insightRepo)

	// Pipelines
	registry := pipelines.NewRegistry(&pipelines.Deps{
		Directory: directoryRepo,
		Providers: providers,
		Recorder:  recorder,
		Snapshots: snapshotRepo,
		Generator: generator,
		Tiers:     tiers,
	})
	engine := pipeline.NewEngine(tracker)
	watcher := pipeline.NewWatcher(tracker, cfg.ReconnectPollInterval, cfg.ReconnectMaxPolls)

	// Services
	pipelineService := service.NewPipelineService(registry, directoryRepo, tracker, engine, cfg.PipelineTimeout)
	jobService := service.NewJobService(tracker, watcher)
	feedService := feed.NewService(directoryRepo, generator, providers.Generative, feed.Options{
		CardDelay: cfg.FeedCardDelay,
		TipDelay:  cfg.FeedTipDelay,
		MaxCards:  cfg.FeedMaxCards,
		MaxTips:   cfg.FeedMaxTips,
	})

	// Daily orchestrator
	dispatcher := trigger.NewDispatcher(trigger.Options{
		StartURL:    cfg.OrchestratorStartURL,
		ProxySecret: cfg.AuthProxySecret,
	})
	orch, err := orchestrator.New(orchestrator.Options{
		Enabled:      cfg.OrchestratorEnabled,
		Schedule:     cfg.OrchestratorSchedule,
		TickInterval: cfg.OrchestratorTickInterval,
		LockTTL:      cfg.OrchestratorLockTTL,
		Members:      cfg.OrchestratorMembers,
		ReplicaID:    cfg.ReplicaID,
		Workers:      cfg.OrchestratorWorkers,
		QueueSize:    cfg.OrchestratorQueueSize,
	}, directoryRepo, tiers, lockRepo, dispatcher)
	if err != nil {
		slog.Error("Failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	orch.Start(ctx)

	// Handlers
	pingers := map[string]handler.Pinger{"mongodb": db}
	if sqliteDB != nil {
		pingers["sqlite"] = handler.PingFunc(sqliteDB.PingContext)
	}
	healthHandler := handler.NewHealthHandler(pingers, version)

	corsConfig := middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           cfg.CORSMaxAge,
	}

	router := handler.NewRouter(
		handler.NewPipelineHandler(pipelineService),
		handler.NewJobHandler(jobService),
		handler.NewFeedHandler(feedService),
		healthHandler,
		auth.NewHeaderResolver(cfg.AuthProxySecret),
		corsConfig,
	)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Handler(),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
	}

	go func() {
		slog.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	slog.Info("Received shutdown signal, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the orchestrator first so no new runs start
	slog.Info("Stopping orchestrator...")
	orch.Stop(shutdownCtx)

	slog.Info("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Detached pipeline runs outlive their requests
	slog.Info("Waiting for running pipelines...")
	if err := pipelineService.Wait(shutdownCtx); err != nil {
		slog.Warn("Pipelines still running at shutdown", "error", err)
	}

	slog.Info("Scout pipeline service stopped")
}

// openJobStore selects the durable job store. "memory" runs every job in
// ephemeral mode.
func openJobStore(cfg *config.Config, db *database.MongoDB) (jobstore.Store, *sql.DB, error) {
	switch cfg.JobStore {
	case "sqlite":
		conn, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		repo, err := database.NewSQLiteJobRepository(conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return repo, conn, nil
	case "memory":
		slog.Warn("Job store disabled, jobs are not resumable across replicas")
		return nil, nil, nil
	default:
		return database.NewJobRepository(db), nil, nil
	}
}
