// Package parser converts raw TSE result-file records into typed vote rows.
// Parsing and validation are pure: no I/O, no lookups, one record in, one
// typed row or one structured error out.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/caiosb/votedata/internal/domain"
)

// Column layout of the candidate-vote export (votacao_candidato_munzona),
// reduced to the fields the pipeline persists.
const (
	colYear = iota
	colRegion
	colCargo
	colMunicipality
	colZone
	colCandidateNumber
	colCandidateName
	colParty
	colVotes

	// MinColumns is the number of columns a data row must carry.
	MinColumns = 9
)

// RowError describes why one source row was rejected.
type RowError struct {
	Type    domain.ErrorType
	Message string
	Raw     string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func rowError(t domain.ErrorType, raw string, format string, args ...interface{}) *RowError {
	return &RowError{Type: t, Message: fmt.Sprintf(format, args...), Raw: raw}
}

// ParseRow validates one CSV record and converts it into a VoteRecord.
// Parameters:
//   - record: the semicolon-split fields of one data line.
// Returns:
//   - *domain.VoteRecord: typed row on success, nil on rejection.
//   - *RowError: nil on success, classification and message on rejection.
func ParseRow(record []string) (*domain.VoteRecord, *RowError) {
	raw := strings.Join(record, ";")

	if len(record) < MinColumns {
		return nil, rowError(domain.ErrorTypeInvalidFormat, raw,
			"expected at least %d columns, got %d", MinColumns, len(record))
	}

	fields := make([]string, len(record))
	for i, f := range record {
		f = strings.TrimSpace(f)
		if !utf8.ValidString(f) {
			return nil, rowError(domain.ErrorTypeEncoding, raw,
				"column %d is not valid UTF-8 after decoding", i)
		}
		fields[i] = f
	}

	required := map[int]string{
		colYear:            "election year",
		colRegion:          "region",
		colCargo:           "cargo code",
		colMunicipality:    "municipality code",
		colZone:            "zone code",
		colCandidateNumber: "candidate number",
	}
	for idx, name := range required {
		if fields[idx] == "" || fields[idx] == "#NULO#" || fields[idx] == "#NE#" {
			return nil, rowError(domain.ErrorTypeMissingField, raw, "missing %s", name)
		}
	}

	year, err := strconv.Atoi(fields[colYear])
	if err != nil {
		return nil, rowError(domain.ErrorTypeInvalidNumber, raw,
			"election year %q is not numeric", fields[colYear])
	}
	if year < 1900 || year > 2200 {
		return nil, rowError(domain.ErrorTypeInvalidNumber, raw,
			"election year %d out of range", year)
	}

	votes, err := strconv.ParseInt(fields[colVotes], 10, 64)
	if err != nil {
		return nil, rowError(domain.ErrorTypeInvalidNumber, raw,
			"vote count %q is not numeric", fields[colVotes])
	}
	if votes < 0 {
		return nil, rowError(domain.ErrorTypeInvalidNumber, raw,
			"vote count %d is negative", votes)
	}

	region := strings.ToUpper(fields[colRegion])
	if len(region) != 2 {
		return nil, rowError(domain.ErrorTypeInvalidFormat, raw,
			"region %q is not a two-letter UF code", fields[colRegion])
	}

	return &domain.VoteRecord{
		ElectionYear:     year,
		Region:           region,
		CargoCode:        fields[colCargo],
		MunicipalityCode: fields[colMunicipality],
		ZoneCode:         fields[colZone],
		CandidateNumber:  fields[colCandidateNumber],
		CandidateName:    fields[colCandidateName],
		PartyCode:        fields[colParty],
		Votes:            votes,
	}, nil
}
