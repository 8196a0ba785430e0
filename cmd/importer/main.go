package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caiosb/votedata/internal/config"
	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/events"
	"github.com/caiosb/votedata/internal/importer"
	"github.com/caiosb/votedata/internal/logger"
	"github.com/caiosb/votedata/internal/repository"
)

// The importer CLI runs one import synchronously: submit, wait for the
// pipeline to finish, print the counters. Multi-file archives are fanned out
// with -all; without it the candidate files are listed and the run stops.
func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "votedata-importer",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	sourceURL := flag.String("url", "", "URL of the result archive to download")
	sourceFile := flag.String("file", "", "Path to a local result file or archive")
	year := flag.Int("year", 0, "Election year")
	region := flag.String("region", "", "Two-letter region code")
	cargo := flag.String("cargo", "", "Cargo code filter")
	all := flag.Bool("all", false, "Import every file of a multi-file archive")
	batchSize := flag.Int64("batch-size", 0, "Override the configured batch unit size")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if (*sourceURL == "") == (*sourceFile == "") {
		appLogger.Fatal("Exactly one of -url or -file is required")
	}
	if *year == 0 || *region == "" || *cargo == "" {
		appLogger.Fatal("-year, -region and -cargo are required")
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *batchSize > 0 {
		cfg.Importer.BatchSize = *batchSize
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	errorRepo := repository.NewErrorRepository(db)
	recordRepo := repository.NewRecordRepository(db)

	svc := importer.NewService(jobRepo, batchRepo, errorRepo, recordRepo,
		events.NopPublisher{}, appLogger, &cfg.Importer)
	svc.Start()
	defer svc.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	// Submit
	var job *domain.ImportJob
	if *sourceURL != "" {
		job, err = svc.SubmitURL(ctx, *sourceURL, *year, *region, *cargo)
	} else {
		var f *os.File
		f, err = os.Open(*sourceFile)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to open source file")
		}
		job, err = svc.SubmitUpload(ctx, f, *sourceFile, *year, *region, *cargo)
		f.Close()
	}
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to submit import")
	}
	appLogger.WithField(logger.FieldJobID, job.ID).Info("Import submitted")

	// Wait for this job and any siblings a multi-file fan-out creates.
	pending := []uint{job.ID}
	var finished []*domain.ImportJob

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			appLogger.Fatal("Interrupted")
		case <-time.After(500 * time.Millisecond):
		}

		id := pending[0]
		j, err := svc.GetJob(context.Background(), id)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to poll job")
		}

		if j.Status == domain.JobStatusAwaitingSelection {
			if !*all {
				appLogger.WithField(logger.FieldJobID, j.ID).
					Warn("Archive holds multiple files; re-run with -all to import them all")
				for _, name := range j.ExtractedFiles {
					appLogger.WithField("file", name).Info("Candidate file")
				}
				os.Exit(1)
			}
			jobs, err := svc.SelectFile(context.Background(), j.ID, "", true)
			if err != nil {
				appLogger.WithError(err).Fatal("Failed to select archive files")
			}
			pending = pending[1:]
			for i := range jobs {
				pending = append(pending, jobs[i].ID)
			}
			continue
		}

		if domain.IsTerminal(j.Status) {
			finished = append(finished, j)
			pending = pending[1:]
		}
	}

	failed := false
	for _, j := range finished {
		entry := appLogger.WithFields(logger.Fields{
			logger.FieldJobID: j.ID,
			"file":            j.Filename,
			"status":          j.Status,
			"processed":       j.ProcessedRows,
			"skipped":         j.SkippedRows,
			"errors":          j.ErrorCount,
		})
		if j.Status == domain.JobStatusCompleted {
			entry.Info("Import finished")
		} else {
			failed = true
			entry.WithField("message", j.ValidationMessage).Error("Import did not complete")
		}
	}
	if failed {
		os.Exit(1)
	}
}
