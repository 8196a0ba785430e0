package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// RowReader iterates the data rows of a TSE CSV export. The files are
// semicolon-delimited and ISO-8859-1 encoded; the reader decodes to UTF-8
// and skips the header line.
type RowReader struct {
	file   *os.File
	csv    *csv.Reader
	rowNum int64 // 0-based data row index of the next Read
}

// Open opens a result CSV for sequential row reading.
func Open(path string) (*RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}

	r := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(f))
	r.Comma = ';'
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	// Column-count validation is the row validator's job; a short row must
	// become a row-level error record, not abort the file.
	r.FieldsPerRecord = -1

	rr := &RowReader{file: f, csv: r}

	// Header line
	if _, err := r.Read(); err != nil {
		if err == io.EOF {
			return rr, nil
		}
		f.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return rr, nil
}

// Read returns the next data row and its 0-based index. A malformed row
// still consumes its index: the caller gets the *csv.ParseError alongside
// the row number and the reader stays aligned for the next row.
func (r *RowReader) Read() ([]string, int64, error) {
	record, err := r.csv.Read()
	idx := r.rowNum
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			r.rowNum++
		}
		return nil, idx, err
	}
	r.rowNum++
	return record, idx, nil
}

// Skip advances past n data rows. Malformed rows in the skipped range still
// count; they were someone else's error records.
func (r *RowReader) Skip(n int64) error {
	for r.rowNum < n {
		_, _, err := r.Read()
		if err == nil {
			continue
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			continue
		}
		return err
	}
	return nil
}

// Close releases the underlying file.
func (r *RowReader) Close() error {
	return r.file.Close()
}

// CountDataRows counts the data rows of a result CSV (header excluded).
func CountDataRows(path string) (int64, error) {
	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var count int64
	for {
		_, _, err := r.Read()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				count++
				continue
			}
			return 0, fmt.Errorf("failed to count rows: %w", err)
		}
		count++
	}
}
