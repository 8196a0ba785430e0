// Package importer implements the bulk data-import pipeline: a FIFO job
// scheduler with a single active slot, streaming acquisition of remote
// archives, batch-unit row processing with per-row error capture, integrity
// verification, and temp-file custody.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caiosb/votedata/internal/config"
	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/events"
	"github.com/caiosb/votedata/internal/logger"
	"github.com/caiosb/votedata/internal/repository"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Service drives the import pipeline. All job mutations flow through it;
// HTTP handlers and the CLI only call its methods and read snapshots.
type Service struct {
	jobs    *repository.JobRepository
	batches *repository.BatchRepository
	errs    *repository.ErrorRepository
	records *repository.RecordRepository

	sched  *Scheduler
	pub    events.Publisher
	logger *logger.Logger
	cfg    *config.ImporterConfig
	client *resty.Client
}

// NewService creates the pipeline service and its scheduler. Call Start to
// begin admitting queued jobs.
func NewService(
	jobs *repository.JobRepository,
	batches *repository.BatchRepository,
	errs *repository.ErrorRepository,
	records *repository.RecordRepository,
	pub events.Publisher,
	log *logger.Logger,
	cfg *config.ImporterConfig,
) *Service {
	s := &Service{
		jobs:    jobs,
		batches: batches,
		errs:    errs,
		records: records,
		pub:     pub,
		logger:  log,
		cfg:     cfg,
		client:  resty.New().SetTimeout(cfg.DownloadTimeout),
	}
	s.sched = NewScheduler(cfg.MaxActiveJobs, s.runJob, log)
	return s
}

// Start launches the scheduler loop.
func (s *Service) Start() {
	s.sched.Start()
}

// Stop cancels in-flight work and stops the scheduler.
func (s *Service) Stop() {
	s.sched.Stop()
}

// Recover reconciles jobs left non-terminal by a previous run. Jobs caught
// mid-flight are failed (the operator can restart URL-sourced ones); pending
// jobs re-enter the queue in submission order. Call before Start.
func (s *Service) Recover(ctx context.Context) error {
	stuck, err := s.jobs.ListByStatuses(ctx,
		domain.JobStatusDownloading, domain.JobStatusExtracting, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list interrupted jobs: %w", err)
	}
	for i := range stuck {
		s.failJob(ctx, &stuck[i], fmt.Errorf("interrupted by service restart"))
	}

	pending, err := s.jobs.ListByStatuses(ctx, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for i := range pending {
		s.sched.Enqueue(pending[i].ID)
	}

	if len(stuck) > 0 || len(pending) > 0 {
		s.logger.WithFields(logger.Fields{
			"failed":   len(stuck),
			"requeued": len(pending),
		}).Info("Recovered jobs from previous run")
	}
	return nil
}

// log returns a logger from context if available, otherwise the service logger.
func (s *Service) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// jobDir is the per-job temp directory for downloads and extractions.
func (s *Service) jobDir(jobID uint) string {
	return filepath.Join(s.cfg.DownloadDir, fmt.Sprintf("job_%d", jobID))
}

// checkDuplicate enforces the duplicate-submission rule on the filter tuple.
func (s *Service) checkDuplicate(ctx context.Context, year int, region, cargo string) error {
	done, err := s.jobs.FindByFilters(ctx, year, region, cargo, domain.JobStatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to check for completed imports: %w", err)
	}
	if done != nil {
		return ErrAlreadyImported
	}
	active, err := s.jobs.FindByFilters(ctx, year, region, cargo,
		domain.JobStatusPending, domain.JobStatusDownloading, domain.JobStatusExtracting,
		domain.JobStatusAwaitingSelection, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to check for active imports: %w", err)
	}
	if active != nil {
		return ErrImportInProgress
	}
	return nil
}

// SubmitURL creates and enqueues a job that downloads its source.
func (s *Service) SubmitURL(ctx context.Context, url string, year int, region, cargo string) (*domain.ImportJob, error) {
	if err := s.checkDuplicate(ctx, year, region, cargo); err != nil {
		return nil, err
	}

	job := &domain.ImportJob{
		SourceType:   domain.SourceTypeURL,
		SourceURL:    url,
		Filename:     filenameFromURL(url),
		ElectionYear: year,
		Region:       strings.ToUpper(region),
		CargoFilter:  cargo,
		Status:       domain.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:  job.ID,
		logger.FieldSource: url,
	}).Info("URL import submitted")

	s.sched.Enqueue(job.ID)
	return job, nil
}

// SubmitUpload stores an uploaded file in the shared upload bucket and
// enqueues a job for it. The saved copy is a processing artifact, not a
// retained source: upload jobs cannot be restarted.
func (s *Service) SubmitUpload(ctx context.Context, src io.Reader, filename string, year int, region, cargo string) (*domain.ImportJob, error) {
	if err := s.checkDuplicate(ctx, year, region, cargo); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	safeName := uuid.New().String()[:8] + "_" + filepath.Base(filename)
	dst := filepath.Join(s.cfg.UploadDir, safeName)

	out, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}
	size, err := io.Copy(out, src)
	out.Close()
	if err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	job := &domain.ImportJob{
		SourceType:   domain.SourceTypeUpload,
		Filename:     filepath.Base(filename),
		FileSize:     size,
		ElectionYear: year,
		Region:       strings.ToUpper(region),
		CargoFilter:  cargo,
		Status:       domain.JobStatusPending,
		LocalPath:    dst,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"filename":        job.Filename,
		logger.FieldSize:  size,
	}).Info("Upload import submitted")

	s.sched.Enqueue(job.ID)
	return job, nil
}

// GetJob retrieves one job.
func (s *Service) GetJob(ctx context.Context, id uint) (*domain.ImportJob, error) {
	return s.jobs.GetByID(ctx, id)
}

// ListJobs retrieves jobs newest first.
func (s *Service) ListJobs(ctx context.Context, limit, offset int) ([]domain.ImportJob, error) {
	return s.jobs.List(ctx, limit, offset)
}

// ListBatches retrieves a job's batch units in index order.
func (s *Service) ListBatches(ctx context.Context, jobID uint) ([]domain.ImportBatch, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.batches.ListByJob(ctx, jobID)
}

// ListErrors retrieves a job's row-level error records.
func (s *Service) ListErrors(ctx context.Context, jobID uint, limit, offset int) ([]domain.ImportError, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.errs.ListByJob(ctx, jobID, limit, offset)
}

// QueueStatus returns the scheduler snapshot.
func (s *Service) QueueStatus() QueueSnapshot {
	return s.sched.Snapshot()
}

// CancelJob requests cancellation. Queued jobs are cancelled immediately; an
// active job observes the request cooperatively within one row or I/O chunk
// and transitions itself, so its status may briefly still read as active.
func (s *Service) CancelJob(ctx context.Context, id uint) (*domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminal(job.Status) {
		return nil, fmt.Errorf("%w: job is already %s", ErrInvalidState, job.Status)
	}

	wasActive, _ := s.sched.Cancel(id)
	if wasActive {
		s.log(ctx).WithField(logger.FieldJobID, id).Info("Cancellation requested for active job")
		return job, nil
	}
	// Queued, awaiting selection, or otherwise idle: finalize directly.
	if err := s.jobs.UpdateStatus(ctx, job, domain.JobStatusCancelled); err != nil {
		return nil, err
	}
	s.publishStatus(ctx, job, "cancelled by operator")
	return job, nil
}

// RestartJob re-runs a failed or cancelled URL-sourced job from acquisition
// onward. Counters reset, batches and error records are dropped, and the job
// re-enters the queue at the back; the download starts again from byte zero.
func (s *Service) RestartJob(ctx context.Context, id uint) (*domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed && job.Status != domain.JobStatusCancelled {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}
	if !job.CanRestart() {
		return nil, ErrNotRestartable
	}

	if err := s.batches.DeleteByJob(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to clear batches: %w", err)
	}
	if err := s.errs.DeleteByJobAndRange(ctx, id, 0, int64(1)<<62); err != nil {
		return nil, fmt.Errorf("failed to clear error records: %w", err)
	}

	job.DownloadedBytes = 0
	job.TotalRows = nil
	job.TotalFileRows = 0
	job.ProcessedRows = 0
	job.SkippedRows = 0
	job.ErrorCount = 0
	job.LocalPath = ""
	job.ExtractedFiles = nil
	job.ValidationStatus = domain.ValidationNotRun
	job.ValidationMessage = ""
	if err := s.jobs.UpdateStatus(ctx, job, domain.JobStatusPending); err != nil {
		return nil, err
	}

	s.log(ctx).WithField(logger.FieldJobID, id).Info("Job restarted")
	s.publishStatus(ctx, job, "restarted by operator")
	s.sched.Enqueue(id)
	return job, nil
}

// SelectFile resolves a multi-file archive. One file name resumes this job
// with that file; all=true fans out: this job takes the first file and one
// new pending job is created per remaining file, sharing the extraction
// directory.
func (s *Service) SelectFile(ctx context.Context, id uint, file string, all bool) ([]domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusAwaitingSelection {
		return nil, fmt.Errorf("%w: job is %s, not awaiting selection", ErrInvalidState, job.Status)
	}
	if len(job.ExtractedFiles) == 0 {
		return nil, fmt.Errorf("%w: no extracted files recorded", ErrInvalidState)
	}

	resolve := func(name string) (string, bool) {
		for _, f := range job.ExtractedFiles {
			if f == name {
				return filepath.Join(s.jobDir(job.ID), name), true
			}
		}
		return "", false
	}

	var out []domain.ImportJob

	if all {
		files := job.ExtractedFiles
		path, _ := resolve(files[0])
		job.LocalPath = path
		job.Filename = files[0]
		if err := s.jobs.Save(ctx, job); err != nil {
			return nil, err
		}
		out = append(out, *job)
		s.sched.Enqueue(job.ID)

		for _, name := range files[1:] {
			path, _ := resolve(name)
			sibling := &domain.ImportJob{
				SourceType:   job.SourceType,
				SourceURL:    job.SourceURL,
				Filename:     name,
				ElectionYear: job.ElectionYear,
				Region:       job.Region,
				CargoFilter:  job.CargoFilter,
				Status:       domain.JobStatusPending,
				LocalPath:    path,
			}
			if err := s.jobs.Create(ctx, sibling); err != nil {
				return nil, fmt.Errorf("failed to create sibling job for %s: %w", name, err)
			}
			out = append(out, *sibling)
			s.sched.Enqueue(sibling.ID)
		}
		return out, nil
	}

	path, ok := resolve(file)
	if !ok {
		return nil, ErrUnknownFile
	}
	job.LocalPath = path
	job.Filename = file
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}
	s.sched.Enqueue(job.ID)
	return []domain.ImportJob{*job}, nil
}

// DeleteJob removes a job with all of its batches, error records, and
// imported rows. Active or queued jobs must be cancelled first. Temp files
// stay on disk until the file custodian reclaims them.
func (s *Service) DeleteJob(ctx context.Context, id uint) error {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if s.sched.Contains(id) || job.IsActive() {
		return fmt.Errorf("%w: cancel the job before deleting it", ErrInvalidState)
	}
	if err := s.jobs.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	s.log(ctx).WithField(logger.FieldJobID, id).Info("Job deleted")
	return nil
}

// publishStatus emits a job status event on the optional push channel.
// Publish failures are logged, never propagated: the poll API is the
// contract and must not suffer for a broken broker.
func (s *Service) publishStatus(ctx context.Context, job *domain.ImportJob, msg string) {
	ev := events.Event{
		Type:      events.EventJobStatus,
		JobID:     job.ID,
		Status:    string(job.Status),
		Message:   msg,
		Timestamp: time.Now(),
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to publish job event")
	}
}

// setStatus transitions a job and emits the event.
func (s *Service) setStatus(ctx context.Context, job *domain.ImportJob, to domain.JobStatus) error {
	if err := s.jobs.UpdateStatus(ctx, job, to); err != nil {
		return err
	}
	s.publishStatus(ctx, job, "")
	return nil
}

// failJob finalizes a job with the underlying cause in its validation message.
func (s *Service) failJob(ctx context.Context, job *domain.ImportJob, cause error) {
	job.ValidationMessage = cause.Error()
	if err := s.jobs.UpdateStatus(ctx, job, domain.JobStatusFailed); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldJobID, job.ID).Error("Failed to mark job failed")
		return
	}
	s.publishStatus(ctx, job, cause.Error())
	s.log(ctx).WithError(cause).WithField(logger.FieldJobID, job.ID).Error("Job failed")
}

// cancelJobFinal finalizes a job whose run observed cancellation.
func (s *Service) cancelJobFinal(job *domain.ImportJob) {
	// The run context is already cancelled; finalize with a fresh one.
	ctx := context.Background()
	if err := s.jobs.UpdateStatus(ctx, job, domain.JobStatusCancelled); err != nil {
		s.logger.WithError(err).WithField(logger.FieldJobID, job.ID).Error("Failed to mark job cancelled")
		return
	}
	s.publishStatus(ctx, job, "cancelled by operator")
	s.logger.WithField(logger.FieldJobID, job.ID).Info("Job cancelled")
}

// runJob executes one admitted job: acquisition, then batch processing.
// It is the RunFunc the scheduler calls with the job's cancellable context.
func (s *Service) runJob(ctx context.Context, jobID uint) {
	ctx = logger.SetJobID(logger.SetComponent(ctx, "importer"), fmt.Sprintf("%d", jobID))

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		s.log(ctx).WithError(err).Error("Admitted job could not be loaded")
		return
	}

	// Only fresh pending jobs and resolved file selections get the slot.
	switch {
	case job.Status == domain.JobStatusPending:
	case job.Status == domain.JobStatusAwaitingSelection && job.LocalPath != "":
	default:
		s.log(ctx).WithField(logger.FieldStatus, job.Status).Warn("Admitted job is not runnable, skipping")
		return
	}

	if job.Status == domain.JobStatusPending {
		if err := s.acquire(ctx, job); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.cancelJobFinal(job)
				return
			}
			s.failJob(ctx, job, err)
			return
		}
		// Multi-file archive: the job parked for operator selection and
		// releases the processing slot.
		if job.Status == domain.JobStatusAwaitingSelection {
			return
		}
	}

	if err := s.process(ctx, job); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.cancelJobFinal(job)
			return
		}
		s.failJob(ctx, job, err)
		return
	}

	if err := s.setStatus(ctx, job, domain.JobStatusCompleted); err != nil {
		s.log(ctx).WithError(err).Error("Failed to mark job completed")
		return
	}

	entry := s.log(ctx).WithFields(logger.Fields{
		"processed": job.ProcessedRows,
		"skipped":   job.SkippedRows,
		"errors":    job.ErrorCount,
	})
	if job.IsPureReimport() {
		entry.Info("Job completed: entire file was already imported")
	} else {
		entry.Info("Job completed")
	}
}

func filenameFromURL(url string) string {
	trimmed := strings.TrimSuffix(url, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx != -1 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return "download.zip"
}
