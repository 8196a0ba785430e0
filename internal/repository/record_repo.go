package repository

import (
	"context"

	"github.com/caiosb/votedata/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepository handles imported vote row persistence.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Insert persists one vote record, skipping rows already present under the
// natural key. Returns true when the row was inserted, false when it was
// deduplicated. The conflict-and-skip behavior is what makes re-imports and
// batch reprocessing idempotent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - rec: vote record to persist.
// Returns:
//   - bool: true if inserted, false if skipped as duplicate.
//   - error: non-nil if the insert fails.
func (r *RecordRepository) Insert(ctx context.Context, rec *domain.VoteRecord) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "election_year"}, {Name: "region"}, {Name: "cargo_code"},
			{Name: "municipality_code"}, {Name: "zone_code"}, {Name: "candidate_number"},
		},
		DoNothing: true,
	}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountByJob counts the rows a job inserted.
func (r *RecordRepository) CountByJob(ctx context.Context, jobID uint) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.VoteRecord{}).
		Where("job_id = ?", jobID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteByJob removes every row a job inserted.
func (r *RecordRepository) DeleteByJob(ctx context.Context, jobID uint) error {
	return r.db.WithContext(ctx).
		Delete(&domain.VoteRecord{}, "job_id = ?", jobID).Error
}

// CountByFilters counts persisted rows for a source filter tuple regardless
// of which job inserted them. The integrity verifier uses this as the
// independent reference count.
func (r *RecordRepository) CountByFilters(ctx context.Context, year int, region, cargo string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&domain.VoteRecord{}).
		Where("election_year = ?", year)
	if region != "" {
		query = query.Where("region = ?", region)
	}
	if cargo != "" {
		query = query.Where("cargo_code = ?", cargo)
	}
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
