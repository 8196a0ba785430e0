package repository

import (
	"context"
	"errors"
	"time"

	"github.com/caiosb/votedata/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles import job persistence.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new import job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Save persists all fields of an existing job.
func (r *JobRepository) Save(ctx context.Context, job *domain.ImportJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id uint) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs newest first with pagination.
func (r *JobRepository) List(ctx context.Context, limit, offset int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByStatuses retrieves all jobs in the given statuses, oldest first, so
// startup recovery re-enqueues them in their original submission order.
func (r *JobRepository) ListByStatuses(ctx context.Context, statuses ...domain.JobStatus) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindByFilters retrieves the most recent job matching the source filters and
// one of the given statuses. Returns nil without error when none exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - year, region, cargo: the ingestion filter tuple (the natural key for
//     duplicate-submission detection).
//   - statuses: job statuses to match.
// Returns:
//   - *domain.ImportJob: matching job or nil.
//   - error: non-nil if the query fails.
func (r *JobRepository) FindByFilters(ctx context.Context, year int, region, cargo string, statuses ...domain.JobStatus) (*domain.ImportJob, error) {
	var job domain.ImportJob
	err := r.db.WithContext(ctx).
		Where("election_year = ? AND region = ? AND cargo_filter = ?", year, region, cargo).
		Where("status IN ?", statuses).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// UpdateStatus transitions the job's status, enforcing the state machine.
// Terminal statuses also set CompletedAt.
func (r *JobRepository) UpdateStatus(ctx context.Context, job *domain.ImportJob, to domain.JobStatus) error {
	if !domain.CanTransition(job.Status, to) {
		return domain.ErrInvalidTransition
	}
	job.Status = to
	now := time.Now()
	switch to {
	case domain.JobStatusRunning:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusCancelled:
		job.CompletedAt = &now
	case domain.JobStatusPending:
		// Restart: clear the previous run's lifecycle timestamps.
		job.StartedAt = nil
		job.CompletedAt = nil
	}
	return r.db.WithContext(ctx).Save(job).Error
}

// UpdateDownloadedBytes records download progress without touching other fields.
func (r *JobRepository) UpdateDownloadedBytes(ctx context.Context, id uint, downloaded int64) error {
	return r.db.WithContext(ctx).Model(&domain.ImportJob{}).
		Where("id = ?", id).
		Update("downloaded_bytes", downloaded).Error
}

// Delete removes a job and cascades to its batches, error records, and
// imported rows. Temporary files on disk are not touched; the file custodian
// reclaims those separately.
func (r *JobRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&domain.VoteRecord{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.ImportError{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&domain.ImportBatch{}, "job_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.ImportJob{}, "id = ?", id).Error
	})
}
