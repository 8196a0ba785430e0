package repository

import (
	"context"

	"github.com/caiosb/votedata/internal/domain"
	"gorm.io/gorm"
)

// ErrorRepository handles row-level import error records.
type ErrorRepository struct {
	db *gorm.DB
}

// NewErrorRepository creates a new ErrorRepository.
func NewErrorRepository(db *gorm.DB) *ErrorRepository {
	return &ErrorRepository{db: db}
}

// Create inserts one import error record.
func (r *ErrorRepository) Create(ctx context.Context, rec *domain.ImportError) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// CreateAll inserts a set of import error records.
func (r *ErrorRepository) CreateAll(ctx context.Context, recs []domain.ImportError) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&recs).Error
}

// ListByJob retrieves a job's error records ordered by source row number.
func (r *ErrorRepository) ListByJob(ctx context.Context, jobID uint, limit, offset int) ([]domain.ImportError, error) {
	var recs []domain.ImportError
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("row_number ASC").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// CountByJob counts a job's error records.
func (r *ErrorRepository) CountByJob(ctx context.Context, jobID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ImportError{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByJobAndRange removes error records whose row numbers fall in the
// half-open range [start, end). A reprocessed unit rewrites its own error
// records without touching sibling ranges.
func (r *ErrorRepository) DeleteByJobAndRange(ctx context.Context, jobID uint, start, end int64) error {
	// Row numbers are 1-based in records, ranges are 0-based.
	return r.db.WithContext(ctx).
		Where("job_id = ? AND row_number > ? AND row_number <= ?", jobID, start, end).
		Delete(&domain.ImportError{}).Error
}
