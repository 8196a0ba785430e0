package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/events"
	"github.com/caiosb/votedata/internal/logger"
	"github.com/caiosb/votedata/internal/parser"
)

// process partitions the job's source into fixed-size batch units and runs
// them strictly in index order. Job-level counters are recomputed from unit
// counters after each unit finishes, so progress readers always see sums
// applied in index order. A unit failure never fails the job by itself; the
// job fails only when every unit did.
func (s *Service) process(ctx context.Context, job *domain.ImportJob) error {
	if err := s.setStatus(ctx, job, domain.JobStatusRunning); err != nil {
		return err
	}

	if job.TotalRows == nil {
		if err := s.partition(ctx, job); err != nil {
			return err
		}
	}

	batches, err := s.batches.ListByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to load batch units: %w", err)
	}

	for i := range batches {
		b := &batches[i]
		if b.Status == domain.BatchStatusCompleted {
			continue
		}
		// Cancellation takes effect at the unit boundary at the latest; no
		// unit starts once the request has been observed.
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.runBatch(ctx, job, b); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.markBatchFailed(ctx, b, err)
		}

		if err := s.refreshCounters(ctx, job); err != nil {
			return err
		}
		s.publishBatch(ctx, job, b)
	}

	agg, err := s.batches.AggregateByJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if len(batches) > 0 && agg.FailedUnits == int64(len(batches)) {
		return fmt.Errorf("all %d batch units failed", len(batches))
	}
	return nil
}

// partition counts the source's data rows and creates the ordered batch
// units. Ranges are half-open, contiguous, and cover [0, totalRows).
func (s *Service) partition(ctx context.Context, job *domain.ImportJob) error {
	total, err := parser.CountDataRows(job.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to count source rows: %w", err)
	}

	size := s.cfg.BatchSize
	if size <= 0 {
		size = 2500
	}

	var batches []domain.ImportBatch
	index := 0
	for start := int64(0); start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		batches = append(batches, domain.ImportBatch{
			JobID:      job.ID,
			BatchIndex: index,
			RowStart:   start,
			RowEnd:     end,
			TotalRows:  end - start,
			Status:     domain.BatchStatusPending,
		})
		index++
	}

	if err := s.batches.CreateAll(ctx, batches); err != nil {
		return fmt.Errorf("failed to create batch units: %w", err)
	}

	job.TotalRows = &total
	job.TotalFileRows = total
	if err := s.jobs.Save(ctx, job); err != nil {
		return err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: job.ID,
		"total_rows":      total,
		"batch_units":     len(batches),
	}).Info("Source partitioned")
	return nil
}

// runBatch executes one unit: every row of its range goes through the
// parser, valid rows are persisted (dedup key conflicts count as skipped),
// invalid rows become error records and processing continues. Only a storage
// failure aborts the unit.
func (s *Service) runBatch(ctx context.Context, job *domain.ImportJob, b *domain.ImportBatch) error {
	now := time.Now()
	b.Status = domain.BatchStatusProcessing
	b.StartedAt = &now
	if err := s.batches.Save(ctx, b); err != nil {
		return err
	}

	r, err := parser.Open(job.LocalPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrSourceFileGone
		}
		return err
	}
	defer r.Close()

	if err := r.Skip(b.RowStart); err != nil && err != io.EOF {
		return fmt.Errorf("failed to seek to row %d: %w", b.RowStart, err)
	}

	var errRecs []domain.ImportError
	recordRowError := func(row int64, typ domain.ErrorType, msg, raw string) {
		num := row + 1 // 1-based in reports
		errRecs = append(errRecs, domain.ImportError{
			JobID:        job.ID,
			RowNumber:    &num,
			ErrorType:    typ,
			ErrorMessage: msg,
			RawData:      raw,
		})
		b.ErrorCount++
	}

	for row := b.RowStart; row < b.RowEnd; row++ {
		// Cooperative cancellation at row granularity. Already-persisted
		// rows of this unit stay; cancellation is not transactional.
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, _, readErr := r.Read()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			var pe *csv.ParseError
			if errors.As(readErr, &pe) {
				b.ProcessedRows++
				recordRowError(row, domain.ErrorTypeParse, readErr.Error(), "")
				continue
			}
			s.keepRowErrors(ctx, b, errRecs)
			return fmt.Errorf("read failed at row %d: %w", row+1, readErr)
		}
		b.ProcessedRows++

		rec, rowErr := parser.ParseRow(record)
		if rowErr != nil {
			recordRowError(row, rowErr.Type, rowErr.Message, rowErr.Raw)
			continue
		}

		rec.JobID = job.ID
		inserted, err := s.records.Insert(ctx, rec)
		if err != nil {
			s.keepRowErrors(ctx, b, errRecs)
			return fmt.Errorf("store insert failed at row %d: %w", row+1, err)
		}
		if inserted {
			b.InsertedRows++
		} else {
			b.SkippedRows++
		}
	}

	if err := s.errs.CreateAll(ctx, errRecs); err != nil {
		return fmt.Errorf("failed to persist error records: %w", err)
	}

	done := time.Now()
	b.Status = domain.BatchStatusCompleted
	b.CompletedAt = &done
	return s.batches.Save(ctx, b)
}

// keepRowErrors persists the error records a unit had recorded before its
// run aborted. The unit's ErrorCount already counts them; if the write fails
// the count is rolled back so counters and the error list stay in agreement.
func (s *Service) keepRowErrors(ctx context.Context, b *domain.ImportBatch, recs []domain.ImportError) {
	if len(recs) == 0 {
		return
	}
	if err := s.errs.CreateAll(ctx, recs); err != nil {
		b.ErrorCount -= int64(len(recs))
		s.log(ctx).WithError(err).WithFields(logger.Fields{
			logger.FieldJobID:      b.JobID,
			logger.FieldBatchIndex: b.BatchIndex,
		}).Error("Failed to persist error records for aborted batch unit")
	}
}

// markBatchFailed finalizes a unit whose execution itself failed.
func (s *Service) markBatchFailed(ctx context.Context, b *domain.ImportBatch, cause error) {
	now := time.Now()
	b.Status = domain.BatchStatusFailed
	b.ErrorSummary = cause.Error()
	b.CompletedAt = &now
	if err := s.batches.Save(ctx, b); err != nil {
		s.log(ctx).WithError(err).WithFields(logger.Fields{
			logger.FieldBatchIndex: b.BatchIndex,
		}).Error("Failed to persist failed batch unit")
	}
	s.log(ctx).WithError(cause).WithFields(logger.Fields{
		logger.FieldJobID:      b.JobID,
		logger.FieldBatchIndex: b.BatchIndex,
	}).Error("Batch unit failed")
}

// refreshCounters recomputes the job's aggregate counters as the sum of its
// units and persists them.
func (s *Service) refreshCounters(ctx context.Context, job *domain.ImportJob) error {
	agg, err := s.batches.AggregateByJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed to aggregate batch counters: %w", err)
	}
	job.ProcessedRows = agg.InsertedRows
	job.SkippedRows = agg.SkippedRows
	job.ErrorCount = agg.ErrorCount
	return s.jobs.Save(ctx, job)
}

func (s *Service) publishBatch(ctx context.Context, job *domain.ImportJob, b *domain.ImportBatch) {
	idx := b.BatchIndex
	ev := events.Event{
		Type:       events.EventBatchCompleted,
		JobID:      job.ID,
		Status:     string(b.Status),
		BatchIndex: &idx,
		Timestamp:  time.Now(),
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log(ctx).WithError(err).WithField(logger.FieldJobID, job.ID).Warn("Failed to publish batch event")
	}
}

// ReprocessBatch re-runs one failed unit in isolation: counters reset, its
// error records are rewritten, siblings stay untouched, and the job's
// aggregates are recomputed afterward. Idempotent: the dedup key turns rows
// persisted by an earlier attempt into skips.
func (s *Service) ReprocessBatch(ctx context.Context, jobID, batchID uint) (*domain.ImportBatch, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.sched.Contains(jobID) || job.IsActive() {
		return nil, fmt.Errorf("%w: job is still processing", ErrInvalidState)
	}

	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.JobID != jobID {
		return nil, fmt.Errorf("%w: batch does not belong to this job", ErrInvalidState)
	}
	if b.Status != domain.BatchStatusFailed {
		return nil, fmt.Errorf("%w: batch is %s, only failed units can be reprocessed", ErrInvalidState, b.Status)
	}

	if err := s.reprocessOne(ctx, job, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReprocessFailed re-runs every failed unit of a job in index order.
func (s *Service) ReprocessFailed(ctx context.Context, jobID uint) (*domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.sched.Contains(jobID) || job.IsActive() {
		return nil, fmt.Errorf("%w: job is still processing", ErrInvalidState)
	}

	failed, err := s.batches.ListFailedByJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	for i := range failed {
		if err := s.reprocessOne(ctx, job, &failed[i]); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (s *Service) reprocessOne(ctx context.Context, job *domain.ImportJob, b *domain.ImportBatch) error {
	if job.LocalPath == "" || !fileExists(job.LocalPath) {
		return ErrSourceFileGone
	}

	// Drop the range's previous error records; the re-run rewrites them.
	if err := s.errs.DeleteByJobAndRange(ctx, job.ID, b.RowStart, b.RowEnd); err != nil {
		return fmt.Errorf("failed to clear error records: %w", err)
	}

	b.ResetForReprocess()
	if err := s.batches.Save(ctx, b); err != nil {
		return err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID:      job.ID,
		logger.FieldBatchIndex: b.BatchIndex,
	}).Info("Reprocessing batch unit")

	if err := s.runBatch(ctx, job, b); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.markBatchFailed(ctx, b, err)
	}
	if err := s.refreshCounters(ctx, job); err != nil {
		return err
	}
	s.publishBatch(ctx, job, b)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ErrorsCSV renders a job's error records as a CSV export for operator review.
func ErrorsCSV(recs []domain.ImportError) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"row_number", "error_type", "error_message", "raw_data"})
	for _, rec := range recs {
		num := ""
		if rec.RowNumber != nil {
			num = fmt.Sprintf("%d", *rec.RowNumber)
		}
		_ = w.Write([]string{num, string(rec.ErrorType), rec.ErrorMessage, rec.RawData})
	}
	w.Flush()
	return sb.String()
}
