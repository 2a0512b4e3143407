// Package billing reads RAGLE and SELECT equipment billing workbooks and
// consolidates the monthly rates they carry.
package billing

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

type Source string

const (
	SourceRagle   Source = "RAGLE"
	SourceSelect  Source = "SELECT"
	SourceUnknown Source = "UNKNOWN"
)

// headerScanRows is how far down a sheet we look for the header row; billing
// exports usually carry a title block above it.
const headerScanRows = 10

var ErrNoRates = errors.New("workbook contains no billing sheet")

var (
	idHeaders     = []string{"equipment #", "equipment id", "equipment", "asset id", "asset", "unit #", "unit"}
	rateHeaders   = []string{"monthly rate", "rate", "amount", "total"}
	periodHeaders = []string{"period", "billing period", "month"}
)

var periodLayouts = []string{
	"2006-01",
	"2006-01-02",
	"January 2006",
	"Jan 2006",
	"01/2006",
	"1/2006",
	"01/02/2006",
	"01-02-06",
}

type Rate struct {
	AssetID     string  `json:"asset_id"`
	Source      Source  `json:"source"`
	Period      string  `json:"period"` // YYYY-MM, empty when the sheet has none
	MonthlyRate float64 `json:"monthly_rate"`
	Sheet       string  `json:"sheet"`
	Row         int     `json:"row"`
}

type RowError struct {
	File   string `json:"file"`
	Sheet  string `json:"sheet"`
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// DetectSource infers the billing source from a file or sheet name.
func DetectSource(names ...string) Source {
	for _, n := range names {
		l := strings.ToLower(n)
		switch {
		case strings.Contains(l, "ragle"):
			return SourceRagle
		case strings.Contains(l, "select"):
			return SourceSelect
		}
	}
	return SourceUnknown
}

// ReadWorkbook extracts rates from every sheet that has an asset id and rate
// column. Bad rows are reported and skipped.
func ReadWorkbook(r io.Reader, fileName string) ([]Rate, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook %s: %w", fileName, err)
	}
	defer f.Close()

	var rates []Rate
	var rowErrs []RowError
	found := false
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		headerIdx, cols, ok := findHeader(rows)
		if !ok {
			continue
		}
		found = true
		source := DetectSource(fileName, sheet)

		for i := headerIdx + 1; i < len(rows); i++ {
			row := rows[i]
			rowNum := i + 1
			id := strings.TrimSpace(cell(row, cols.id))
			rawRate := strings.TrimSpace(cell(row, cols.rate))
			if id == "" && rawRate == "" {
				continue
			}
			if id == "" {
				rowErrs = append(rowErrs, RowError{File: fileName, Sheet: sheet, Row: rowNum, Reason: "missing asset id"})
				continue
			}
			if isTotalRow(id) {
				continue
			}
			rate, err := parseAmount(rawRate)
			if err != nil {
				rowErrs = append(rowErrs, RowError{File: fileName, Sheet: sheet, Row: rowNum, Reason: fmt.Sprintf("rate %q: %v", rawRate, err)})
				continue
			}
			period := ""
			if cols.period >= 0 {
				if raw := strings.TrimSpace(cell(row, cols.period)); raw != "" {
					p, ok := NormalizePeriod(raw)
					if !ok {
						rowErrs = append(rowErrs, RowError{File: fileName, Sheet: sheet, Row: rowNum, Reason: fmt.Sprintf("period %q not recognised", raw)})
						continue
					}
					period = p
				}
			}
			rates = append(rates, Rate{
				AssetID:     id,
				Source:      source,
				Period:      period,
				MonthlyRate: rate,
				Sheet:       sheet,
				Row:         rowNum,
			})
		}
	}
	if !found {
		return nil, nil, ErrNoRates
	}
	return rates, rowErrs, nil
}

type columns struct {
	id, rate, period int
}

func findHeader(rows [][]string) (int, columns, bool) {
	limit := headerScanRows
	if len(rows) < limit {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		cols := columns{id: -1, rate: -1, period: -1}
		for j, h := range rows[i] {
			h = strings.ToLower(strings.TrimSpace(h))
			switch {
			case cols.id < 0 && contains(idHeaders, h):
				cols.id = j
			case cols.rate < 0 && contains(rateHeaders, h):
				cols.rate = j
			case cols.period < 0 && contains(periodHeaders, h):
				cols.period = j
			}
		}
		if cols.id >= 0 && cols.rate >= 0 {
			return i, cols, true
		}
	}
	return 0, columns{}, false
}

// NormalizePeriod converts the period spellings seen in billing sheets to
// YYYY-MM.
func NormalizePeriod(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range periodLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01"), true
		}
	}
	return "", false
}

func parseAmount(s string) (float64, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return 0, errors.New("empty")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if v < 0 {
		return 0, errors.New("negative")
	}
	return v, nil
}

func isTotalRow(id string) bool {
	l := strings.ToLower(id)
	return l == "total" || l == "grand total" || l == "subtotal"
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
