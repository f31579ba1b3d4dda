package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/gestclasse-api/api/swagger"
	"github.com/noah-isme/gestclasse-api/internal/handler"
	internalmiddleware "github.com/noah-isme/gestclasse-api/internal/middleware"
	"github.com/noah-isme/gestclasse-api/internal/repository"
	"github.com/noah-isme/gestclasse-api/internal/service"
	"github.com/noah-isme/gestclasse-api/pkg/cache"
	"github.com/noah-isme/gestclasse-api/pkg/catalog"
	"github.com/noah-isme/gestclasse-api/pkg/config"
	"github.com/noah-isme/gestclasse-api/pkg/database"
	"github.com/noah-isme/gestclasse-api/pkg/jobs"
	"github.com/noah-isme/gestclasse-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/gestclasse-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/gestclasse-api/pkg/middleware/requestid"
	"github.com/noah-isme/gestclasse-api/pkg/storage"
)

// @title GestClasse API
// @version 1.0.0
// @description Grade sheets, rankings and transcript exports for secondary-school classes.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.Roster.CatalogFile)
	if err != nil {
		logr.Fatal("failed to load catalog", zap.Error(err))
	}

	metricsSvc := service.NewMetricsService()

	snapshots, checks, closeBackend, err := openSnapshotStore(ctx, cfg)
	if err != nil {
		logr.Fatal("failed to open persistence backend", zap.String("backend", cfg.Persistence.Backend), zap.Error(err))
	}
	defer closeBackend()

	persistence := service.NewPersistence(snapshots, cfg.Persistence.Timeout, metricsSvc, logr)
	store := service.NewSheetStore(cfg.Roster.Capacity, persistence.Load, persistence.Save, logr)
	restored := store.Bootstrap(ctx, cat)
	logr.Info("grade database ready",
		zap.String("backend", cfg.Persistence.Backend),
		zap.Bool("restored", restored),
		zap.Int("sheets", len(store.Keys())),
	)

	sheetSvc := service.NewSheetService(store, cat, validator.New(), metricsSvc, logr, service.SheetServiceConfig{
		Autosave: cfg.Persistence.Autosave,
	})

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
	exportSvc := service.NewExportService(sheetSvc, repository.NewExportJobRepository(), files, signer, metricsSvc, logr, service.ExportConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Exports.SignedURLTTL,
		CleanupInterval: cfg.Exports.CleanupInterval,
		MaxRetries:      cfg.Exports.WorkerRetries,
	})
	exportQueue := jobs.NewQueue("exports", exportSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Exports.WorkerConcurrency,
		MaxRetries: cfg.Exports.WorkerRetries,
		Logger:     logr,
		OnGiveUp:   exportSvc.GiveUp,
	})
	exportSvc.SetQueue(exportQueue)
	exportQueue.Start(ctx)
	exportSvc.StartCleanup(ctx)

	sheetHandler := handler.NewSheetHandler(sheetSvc)
	exportHandler := handler.NewExportHandler(sheetSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/docs"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.GET("/catalog", sheetHandler.Catalog)
	api.GET("/dashboard", sheetHandler.Dashboard)
	api.POST("/save", sheetHandler.Save)
	api.GET("/metrics/summary", metricsHandler.Summary)

	sheets := api.Group("/sheets")
	sheets.GET("/active", sheetHandler.Active)
	sheets.POST("/select", sheetHandler.Select)
	sheets.GET("/:key", sheetHandler.Get)
	sheets.PATCH("/:key/metadata", sheetHandler.UpdateMetadata)
	sheets.PATCH("/:key/students/:id", sheetHandler.UpdateStudent)
	sheets.POST("/:key/sort", sheetHandler.Sort)
	sheets.POST("/:key/reset", sheetHandler.Reset)
	sheets.GET("/:key/export", exportHandler.ExportSheet)

	exports := api.Group("/exports")
	exports.POST("/workbook", exportHandler.ExportWorkbook)
	exports.GET("/jobs/:id", exportHandler.JobStatus)
	exports.GET("/download/:token", exportHandler.Download)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("http shutdown incomplete", zap.Error(err))
	}
	exportQueue.Stop()
	if err := store.Save(shutdownCtx); err != nil {
		logr.Error("final save failed", zap.Error(err))
	}
}

// openSnapshotStore builds the configured persistence backend along with its
// readiness probes and a release function.
func openSnapshotStore(ctx context.Context, cfg *config.Config) (repository.SnapshotStore, map[string]handler.ReadinessCheck, func(), error) {
	checks := map[string]handler.ReadinessCheck{}
	noop := func() {}

	switch cfg.Persistence.Backend {
	case "", config.BackendMemory:
		return repository.NewMemorySnapshotRepository(), checks, noop, nil
	case config.BackendFile:
		repo, err := repository.NewFileSnapshotRepository(cfg.Persistence.FilePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return repo, checks, noop, nil
	case config.BackendPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, nil, noop, err
		}
		repo := repository.NewPostgresSnapshotRepository(db, cfg.Persistence.SnapshotName)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, noop, err
		}
		checks["postgres"] = db.PingContext
		return repo, checks, func() { _ = db.Close() }, nil
	case config.BackendRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, noop, err
		}
		checks["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
		repo := repository.NewRedisSnapshotRepository(client, cfg.Persistence.RedisKey)
		return repo, checks, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, noop, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}
