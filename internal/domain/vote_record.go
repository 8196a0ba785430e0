package domain

import "time"

// VoteRecord is one imported candidate-vote row from a TSE results file.
//
// The unique index over (election_year, region, cargo_code,
// municipality_code, zone_code, candidate_number) is the deduplication key:
// inserts conflict-and-skip on it, which makes re-imports and batch
// reprocessing idempotent.
type VoteRecord struct {
	ID    uint `gorm:"primaryKey" json:"id"`
	JobID uint `gorm:"not null;index" json:"job_id"`

	ElectionYear     int    `gorm:"not null;uniqueIndex:idx_vote_natural" json:"election_year"`
	Region           string `gorm:"type:varchar(2);not null;uniqueIndex:idx_vote_natural" json:"region"`
	CargoCode        string `gorm:"type:varchar(8);not null;uniqueIndex:idx_vote_natural" json:"cargo_code"`
	MunicipalityCode string `gorm:"type:varchar(8);not null;uniqueIndex:idx_vote_natural" json:"municipality_code"`
	ZoneCode         string `gorm:"type:varchar(8);not null;uniqueIndex:idx_vote_natural" json:"zone_code"`
	CandidateNumber  string `gorm:"type:varchar(16);not null;uniqueIndex:idx_vote_natural" json:"candidate_number"`

	CandidateName string `gorm:"type:varchar(256)" json:"candidate_name"`
	PartyCode     string `gorm:"type:varchar(8)" json:"party_code"`
	Votes         int64  `gorm:"default:0" json:"votes"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for VoteRecord.
func (VoteRecord) TableName() string {
	return "vote_records"
}
