package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/caiosb/votedata/internal/domain"
	"github.com/caiosb/votedata/internal/logger"
)

// Verify runs the manual integrity check on a finished job and records the
// outcome on the job itself. It is read-only with respect to imported rows.
//
// Three independent checks, all of which must hold:
//
//  1. the store holds exactly as many rows attributed to this job as its
//     units report inserted;
//  2. processed + skipped + errors does not exceed the counted source rows;
//  3. the store's row count for the job's filter tuple is at least the
//     job's inserted count (other jobs may legitimately contribute more).
func (s *Service) Verify(ctx context.Context, jobID uint) (*domain.ImportJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !domain.IsTerminal(job.Status) {
		return nil, fmt.Errorf("%w: job is %s, verification requires a finished job", ErrInvalidState, job.Status)
	}

	var problems []string

	agg, err := s.batches.AggregateByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate batch counters: %w", err)
	}

	stored, err := s.records.CountByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to count stored rows: %w", err)
	}
	if stored != agg.InsertedRows {
		problems = append(problems, fmt.Sprintf(
			"store holds %d rows for this job but units report %d inserted", stored, agg.InsertedRows))
	}

	if job.TotalRows != nil {
		accounted := job.ProcessedRows + job.SkippedRows + job.ErrorCount
		if accounted > *job.TotalRows {
			problems = append(problems, fmt.Sprintf(
				"counters account for %d rows but source has %d", accounted, *job.TotalRows))
		}
	}

	inScope, err := s.records.CountByFilters(ctx, job.ElectionYear, job.Region, job.CargoFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows for filter tuple: %w", err)
	}
	if inScope < agg.InsertedRows {
		problems = append(problems, fmt.Sprintf(
			"filter tuple matches only %d stored rows, fewer than the %d this job inserted", inScope, agg.InsertedRows))
	}

	if len(problems) == 0 {
		job.ValidationStatus = domain.ValidationPassed
		job.ValidationMessage = fmt.Sprintf("verified: %d rows in store, counters consistent", stored)
	} else {
		job.ValidationStatus = domain.ValidationFailed
		job.ValidationMessage = strings.Join(problems, "; ")
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldJobID: jobID,
		"result":          job.ValidationStatus,
	}).Info("Integrity verification finished")
	return job, nil
}
