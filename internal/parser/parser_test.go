package parser

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"github.com/caiosb/votedata/internal/domain"
)

func validRecord() []string {
	return []string{"2022", "SP", "11", "71072", "0001", "13", "CANDIDATO TESTE", "PT", "1234"}
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r []string) []string
		wantType  domain.ErrorType
		wantVotes int64
	}{
		{
			name:      "valid row",
			mutate:    func(r []string) []string { return r },
			wantVotes: 1234,
		},
		{
			name:      "extra trailing columns are tolerated",
			mutate:    func(r []string) []string { return append(r, "extra", "columns") },
			wantVotes: 1234,
		},
		{
			name:      "fields are trimmed",
			mutate:    func(r []string) []string { r[0] = " 2022 "; r[8] = " 1234"; return r },
			wantVotes: 1234,
		},
		{
			name:      "lowercase region is normalized",
			mutate:    func(r []string) []string { r[1] = "sp"; return r },
			wantVotes: 1234,
		},
		{
			name:     "too few columns",
			mutate:   func(r []string) []string { return r[:5] },
			wantType: domain.ErrorTypeInvalidFormat,
		},
		{
			name:     "missing year",
			mutate:   func(r []string) []string { r[0] = ""; return r },
			wantType: domain.ErrorTypeMissingField,
		},
		{
			name:     "null marker counts as missing",
			mutate:   func(r []string) []string { r[5] = "#NULO#"; return r },
			wantType: domain.ErrorTypeMissingField,
		},
		{
			name:     "ne marker counts as missing",
			mutate:   func(r []string) []string { r[3] = "#NE#"; return r },
			wantType: domain.ErrorTypeMissingField,
		},
		{
			name:     "non-numeric year",
			mutate:   func(r []string) []string { r[0] = "abcd"; return r },
			wantType: domain.ErrorTypeInvalidNumber,
		},
		{
			name:     "year out of range",
			mutate:   func(r []string) []string { r[0] = "1500"; return r },
			wantType: domain.ErrorTypeInvalidNumber,
		},
		{
			name:     "non-numeric votes",
			mutate:   func(r []string) []string { r[8] = "many"; return r },
			wantType: domain.ErrorTypeInvalidNumber,
		},
		{
			name:     "negative votes",
			mutate:   func(r []string) []string { r[8] = "-5"; return r },
			wantType: domain.ErrorTypeInvalidNumber,
		},
		{
			name:     "region is not a UF code",
			mutate:   func(r []string) []string { r[1] = "SAO"; return r },
			wantType: domain.ErrorTypeInvalidFormat,
		},
		{
			name:     "invalid utf8 after decoding",
			mutate:   func(r []string) []string { r[6] = string([]byte{0xff, 0xfe}); return r },
			wantType: domain.ErrorTypeEncoding,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, rowErr := ParseRow(tc.mutate(validRecord()))

			if tc.wantType != "" {
				if rowErr == nil {
					t.Fatalf("expected a %s error, got record %+v", tc.wantType, rec)
				}
				if rowErr.Type != tc.wantType {
					t.Errorf("error type = %s, want %s", rowErr.Type, tc.wantType)
				}
				if rowErr.Raw == "" {
					t.Error("expected the raw line to be captured")
				}
				return
			}

			if rowErr != nil {
				t.Fatalf("unexpected error: %v", rowErr)
			}
			if rec.ElectionYear != 2022 {
				t.Errorf("year = %d, want 2022", rec.ElectionYear)
			}
			if rec.Region != "SP" {
				t.Errorf("region = %q, want SP", rec.Region)
			}
			if rec.Votes != tc.wantVotes {
				t.Errorf("votes = %d, want %d", rec.Votes, tc.wantVotes)
			}
		})
	}
}

// writeLatin1CSV writes a semicolon-delimited file encoded as ISO-8859-1, the
// way the TSE publishes its exports.
func writeLatin1CSV(t *testing.T, dir, name string, lines []string) string {
	t.Helper()
	var raw []byte
	enc := charmap.ISO8859_1.NewEncoder()
	for _, line := range lines {
		encoded, err := enc.String(line)
		if err != nil {
			t.Fatalf("failed to encode test line: %v", err)
		}
		raw = append(raw, encoded...)
		raw = append(raw, '\n')
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestRowReaderDecodesLatin1(t *testing.T) {
	path := writeLatin1CSV(t, t.TempDir(), "results.csv", []string{
		"ANO;UF;CARGO;MUNICIPIO;ZONA;NUMERO;NOME;PARTIDO;VOTOS",
		"2022;SP;11;71072;0001;13;JOSÉ ANTÔNIO;PT;100",
		"2022;SP;11;71072;0001;22;JOÃO;PL;200",
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer r.Close()

	record, idx, err := r.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if idx != 0 {
		t.Errorf("first data row index = %d, want 0", idx)
	}
	if record[6] != "JOSÉ ANTÔNIO" {
		t.Errorf("accented name decoded as %q", record[6])
	}

	record, idx, err = r.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if idx != 1 {
		t.Errorf("second data row index = %d, want 1", idx)
	}
	if record[6] != "JOÃO" {
		t.Errorf("accented name decoded as %q", record[6])
	}

	if _, _, err := r.Read(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestRowReaderSkip(t *testing.T) {
	lines := []string{"ANO;UF;VOTOS"}
	for i := 0; i < 10; i++ {
		lines = append(lines, "2022;SP;1")
	}
	path := writeLatin1CSV(t, t.TempDir(), "results.csv", lines)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer r.Close()

	if err := r.Skip(7); err != nil {
		t.Fatalf("skip failed: %v", err)
	}
	_, idx, err := r.Read()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if idx != 7 {
		t.Errorf("index after skip = %d, want 7", idx)
	}
}

func TestCountDataRows(t *testing.T) {
	t.Run("counts data rows without the header", func(t *testing.T) {
		lines := []string{"ANO;UF;VOTOS"}
		for i := 0; i < 25; i++ {
			lines = append(lines, "2022;SP;1")
		}
		path := writeLatin1CSV(t, t.TempDir(), "results.csv", lines)

		n, err := CountDataRows(path)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 25 {
			t.Errorf("count = %d, want 25", n)
		}
	})

	t.Run("header-only file has zero rows", func(t *testing.T) {
		path := writeLatin1CSV(t, t.TempDir(), "empty.csv", []string{"ANO;UF;VOTOS"})
		n, err := CountDataRows(path)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 0 {
			t.Errorf("count = %d, want 0", n)
		}
	})

	t.Run("short rows still count", func(t *testing.T) {
		path := writeLatin1CSV(t, t.TempDir(), "short.csv", []string{
			"ANO;UF;VOTOS",
			"2022;SP;1",
			"2022",
			"2022;SP;2",
		})
		n, err := CountDataRows(path)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if n != 3 {
			t.Errorf("count = %d, want 3", n)
		}
	})
}
