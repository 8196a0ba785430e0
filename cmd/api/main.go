package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caiosb/votedata/internal/api"
	"github.com/caiosb/votedata/internal/api/middleware"
	"github.com/caiosb/votedata/internal/config"
	"github.com/caiosb/votedata/internal/events"
	"github.com/caiosb/votedata/internal/importer"
	"github.com/caiosb/votedata/internal/logger"
	"github.com/caiosb/votedata/internal/repository"
	"github.com/caiosb/votedata/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.NewDefault()
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	errorRepo := repository.NewErrorRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	ctx := context.Background()

	// Optional push channel. The HTTP API is the contract; events are an
	// add-on for listeners that do not want to poll.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		amqpPub, err := events.NewAMQPPublisher(cfg.Events.URL, cfg.Events.Queue)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to event broker")
		}
		defer amqpPub.Close()
		publisher = amqpPub
		appLogger.WithField("queue", cfg.Events.Queue).Info("Event push channel enabled")
	}

	// Optional object storage for archiving raw artifacts before deletion
	var objectStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		s3, err := storage.New(&storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize object storage")
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		objectStorage = s3
	}

	// Initialize the import pipeline
	svc := importer.NewService(jobRepo, batchRepo, errorRepo, recordRepo, publisher, appLogger, &cfg.Importer)
	if err := svc.Recover(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to recover interrupted jobs")
	}
	svc.Start()
	defer svc.Stop()

	custodian := importer.NewCustodian(&cfg.Importer, objectStorage, appLogger)

	// Setup router
	router := api.SetupRouter(svc, custodian, db, appLogger, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
