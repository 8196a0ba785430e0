package repository

import (
	"context"

	"github.com/caiosb/votedata/internal/domain"
	"gorm.io/gorm"
)

// BatchRepository handles batch unit persistence.
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateAll inserts the full ordered set of batch units for a job.
func (r *BatchRepository) CreateAll(ctx context.Context, batches []domain.ImportBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&batches).Error
}

// Save persists all fields of an existing batch unit.
func (r *BatchRepository) Save(ctx context.Context, batch *domain.ImportBatch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

// GetByID retrieves a batch unit by its ID.
func (r *BatchRepository) GetByID(ctx context.Context, id uint) (*domain.ImportBatch, error) {
	var batch domain.ImportBatch
	if err := r.db.WithContext(ctx).First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// ListByJob retrieves all batch units of a job ordered by index.
func (r *BatchRepository) ListByJob(ctx context.Context, jobID uint) ([]domain.ImportBatch, error) {
	var batches []domain.ImportBatch
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("batch_index ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// ListFailedByJob retrieves the failed batch units of a job ordered by index.
func (r *BatchRepository) ListFailedByJob(ctx context.Context, jobID uint) ([]domain.ImportBatch, error) {
	var batches []domain.ImportBatch
	if err := r.db.WithContext(ctx).
		Where("job_id = ? AND status = ?", jobID, domain.BatchStatusFailed).
		Order("batch_index ASC").
		Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

// DeleteByJob removes all batch units of a job. Used on restart, where the
// source is re-acquired and re-partitioned from scratch.
func (r *BatchRepository) DeleteByJob(ctx context.Context, jobID uint) error {
	return r.db.WithContext(ctx).Delete(&domain.ImportBatch{}, "job_id = ?", jobID).Error
}

// Aggregate sums the counters of a job's batch units. The processor calls
// this after each unit so the job-level counters are always the sum of its
// units, applied in index order.
type Aggregate struct {
	ProcessedRows int64
	InsertedRows  int64
	SkippedRows   int64
	ErrorCount    int64
	FailedUnits   int64
}

// AggregateByJob computes the counter sums across all units of a job.
func (r *BatchRepository) AggregateByJob(ctx context.Context, jobID uint) (*Aggregate, error) {
	var agg Aggregate
	err := r.db.WithContext(ctx).Model(&domain.ImportBatch{}).
		Select("COALESCE(SUM(processed_rows),0) AS processed_rows, "+
			"COALESCE(SUM(inserted_rows),0) AS inserted_rows, "+
			"COALESCE(SUM(skipped_rows),0) AS skipped_rows, "+
			"COALESCE(SUM(error_count),0) AS error_count").
		Where("job_id = ?", jobID).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Model(&domain.ImportBatch{}).
		Where("job_id = ? AND status = ?", jobID, domain.BatchStatusFailed).
		Count(&agg.FailedUnits).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
