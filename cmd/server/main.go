package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openarquivo/fichas-api/internal/config"
	"github.com/openarquivo/fichas-api/internal/db"
	"github.com/openarquivo/fichas-api/internal/extractor"
	"github.com/openarquivo/fichas-api/internal/metrics"
	"github.com/openarquivo/fichas-api/internal/ocr"
	"github.com/openarquivo/fichas-api/internal/registry"
	"github.com/openarquivo/fichas-api/internal/repository"
	"github.com/openarquivo/fichas-api/internal/router"
	"github.com/openarquivo/fichas-api/internal/services"
	"github.com/openarquivo/fichas-api/internal/storage"
	"github.com/openarquivo/fichas-api/internal/utils"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.NewSQLiteDB(cfg.DatabaseFile)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DatabaseFile); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize blob storage
	var blobs storage.Storage
	switch cfg.StorageBackend {
	case config.StorageS3:
		blobs, err = storage.NewS3Storage(cfg)
	default:
		blobs, err = storage.NewLocalStorage(cfg.LocalStoragePath)
	}
	if err != nil {
		logger.Fatal("Failed to initialize storage", "error", err)
	}

	// Repositories and template registry
	templateRepo := repository.NewTemplateRepository(database)
	fichaRepo := repository.NewFichaRepository(database)
	attachmentRepo := repository.NewAttachmentRepository(database)
	auditRepo := repository.NewAuditLogRepository(database)
	templateRegistry := registry.New(templateRepo)

	// Services
	extractorCfg := extractor.DefaultConfig()
	extractorCfg.MaxPages = cfg.OCRMaxPages
	templateService := services.NewTemplateService(templateRegistry, extractorCfg, auditRepo, logger)
	fichaService := services.NewFichaService(
		fichaRepo, attachmentRepo, templateRegistry, blobs, auditRepo, cfg.MaxFileSize, logger)

	// OCR provider
	var provider ocr.Provider
	switch cfg.OCRProvider {
	case config.OCRProviderRemote:
		provider = ocr.NewRemoteProvider(cfg.OCREndpoint, cfg.OCRAPIKey, logger)
	default:
		provider = ocr.NewTesseractProvider()
	}

	// Metrics and OCR worker pool
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	dispatcher := ocr.NewDispatcher(ocr.DispatcherConfig{
		Workers:             cfg.OCRWorkers,
		MaxPages:            cfg.OCRMaxPages,
		Timeout:             cfg.OCRTimeout,
		Retry:               cfg.OCRRetry,
		LanguageHints:       cfg.OCRLanguageHints,
		ConfidenceThreshold: cfg.OCRConfidenceThreshold,
	}, provider, fichaService, blobs, m, logger)
	fichaService.SetOCRQueue(dispatcher)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go func() {
		if err := dispatcher.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("OCR dispatcher stopped", "error", err)
		}
	}()

	// Setup HTTP router
	handler := router.NewRouter(templateService, fichaService, promRegistry, cfg.MaxFileSize, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port, "ocr_provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
