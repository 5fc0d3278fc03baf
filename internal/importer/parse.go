package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/patrimonium/ressarcimentos/internal/domain"
)

var (
	bom         = []byte("\xef\xbb\xbf")
	firstNumber = regexp.MustCompile(`\d+`)
	hundred     = decimal.NewFromInt(100)
)

// table is a parsed spreadsheet export: upper-cased headers and one map
// per data row keyed by header.
type table struct {
	headers []string
	rows    []map[string]string
}

// readTable parses a CSV export. The separator is ';' when the header line
// contains one, ',' otherwise. A UTF-8 BOM and blank lines are ignored.
func readTable(r io.Reader) (*table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, bom)

	header, _, _ := bytes.Cut(bytes.TrimLeft(raw, "\r\n"), []byte("\n"))
	if len(bytes.TrimSpace(header)) == 0 {
		return &table{}, nil
	}

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = ','
	if bytes.IndexByte(header, ';') >= 0 {
		reader.Comma = ';'
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	t := &table{}
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		if t.headers == nil {
			t.headers = make([]string, len(rec))
			for i, h := range rec {
				t.headers[i] = strings.ToUpper(cleanCell(h))
			}
			continue
		}
		row := make(map[string]string, len(t.headers))
		for i, h := range t.headers {
			if i < len(rec) {
				row[h] = cleanCell(rec[i])
			} else {
				row[h] = ""
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func cleanCell(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// first returns the value of the first listed column that is non-empty.
func first(row map[string]string, columns ...string) string {
	for _, c := range columns {
		if v := row[c]; v != "" {
			return v
		}
	}
	return ""
}

// ParseAmount reads a monetary cell as exported by Brazilian spreadsheets.
//
//	"1.234,56"   -> 1234.56 (comma decimal, dot thousands)
//	"1234.56"    -> 1234.56 (dot decimal with two places)
//	"19974938"   -> 199749.38 (bare digits carry the cents)
//
// An empty cell is zero.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, nil
	}

	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Contains(s, "."):
		i := strings.LastIndexByte(s, '.')
		if len(s)-i-1 == 2 {
			s = strings.ReplaceAll(s[:i], ".", "") + s[i:]
			break
		}
		fallthrough
	default:
		digits := digitsOnly(s)
		if digits == "" {
			return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
		}
		d, err := decimal.NewFromString(digits)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
		}
		return d.Div(hundred), nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d, nil
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ExtractFee reads the first integer of a fee cell ("20%", "004").
// Zero or no number at all yields the default percentage.
func ExtractFee(raw string) float64 {
	m := firstNumber.FindString(raw)
	if m == "" {
		return domain.DefaultFeePercentage
	}
	n, err := strconv.Atoi(m)
	if err != nil || n <= 0 {
		return domain.DefaultFeePercentage
	}
	return float64(n)
}

// FormatBRL renders a value as Brazilian reais, e.g. "R$ 1.234,56".
func FormatBRL(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	fixed := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%s", sign, b.String(), frac)
}

// periodColumn is a "<n>º TRIM-<year>" header of the pedidos and
// ressarcimentos sheets.
type periodColumn struct {
	header  string
	quarter domain.Quarter
	year    int
}

// periodColumns picks the period headers out of a sheet. Headers that look
// like periods but do not parse are returned as errors.
func periodColumns(headers []string) ([]periodColumn, []error) {
	var cols []periodColumn
	var errs []error
	for _, h := range headers {
		if !strings.Contains(h, "TRIM-") {
			continue
		}
		q, y, _ := strings.Cut(h, "-")
		quarter, err := domain.ParseQuarter(q)
		if err != nil {
			errs = append(errs, fmt.Errorf("column %q: %w", h, err))
			continue
		}
		year, err := strconv.Atoi(strings.TrimSpace(y))
		if err != nil {
			errs = append(errs, fmt.Errorf("column %q: invalid year", h))
			continue
		}
		cols = append(cols, periodColumn{header: h, quarter: quarter, year: year})
	}
	return cols, errs
}
