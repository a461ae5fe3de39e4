package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/trailhead-sec/scantrail/pkg/blobstore"
	"github.com/trailhead-sec/scantrail/pkg/config"
	"github.com/trailhead-sec/scantrail/pkg/database"
	"github.com/trailhead-sec/scantrail/pkg/handlers"
	"github.com/trailhead-sec/scantrail/pkg/ingest"
	"github.com/trailhead-sec/scantrail/pkg/logging"
	"github.com/trailhead-sec/scantrail/pkg/middleware"
	"github.com/trailhead-sec/scantrail/pkg/repositories"
	"github.com/trailhead-sec/scantrail/pkg/services"
	"github.com/trailhead-sec/scantrail/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("storage_bucket", cfg.Storage.Bucket),
		zap.Int("ingest_workers", cfg.Ingest.Workers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Migrations run through database/sql; the pool below is pgx-native.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(ctx, migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	store, err := blobstore.New(ctx, &cfg.Storage)
	if err != nil {
		logger.Fatal("failed to connect to blob store", zap.Error(err))
	}

	projectRepo := repositories.NewProjectRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	issueRepo := repositories.NewUniqueIssueRepository(db)
	occurrenceRepo := repositories.NewOccurrenceRepository(db)
	reportIssueRepo := repositories.NewReportIssueRepository(db)

	queue := workqueue.New(logger,
		workqueue.WithStrategy(workqueue.NewThrottledStrategy(cfg.Ingest.Workers)))

	extractor := ingest.NewExtractor(store, &cfg.Ingest, logger)
	resolver := services.NewUniqueIssueResolver(issueRepo, &cfg.Ingest, logger)
	recorder := services.NewOccurrenceRecorder(occurrenceRepo, issueRepo, reportRepo, &cfg.Ingest, logger)
	reportSvc := services.NewReportService(reportRepo, store, queue, extractor, resolver, recorder, &cfg.Ingest, logger)
	diffSvc := services.NewReportDiffService(reportRepo, reportIssueRepo, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewProjectHandler(projectRepo, logger).RegisterRoutes(mux)
	handlers.NewReportHandler(reportSvc, diffSvc, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: middleware.RequestLogger(logger)(mux),
	}

	go func() {
		logger.Info("starting scantrail",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", zap.Error(err))
	}

	// Let in-flight ingestion jobs drain before stopping them hard.
	if err := queue.Wait(shutdownCtx); err != nil {
		logger.Warn("work queue drained with errors", zap.Error(err))
	}
	queue.Cancel()
}
