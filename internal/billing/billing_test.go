package billing

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, sheets map[string][][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			first = false
		} else {
			_, err := f.NewSheet(name)
			require.NoError(t, err)
		}
		for r, row := range rows {
			for c, v := range row {
				if v == nil {
					continue
				}
				addr, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(name, addr, v))
			}
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadWorkbook(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"June": {
			{"Equipment Billing Statement"},
			{},
			{"Equipment #", "Description", "Period", "Monthly Rate"},
			{"EX-1", "Excavator", "2024-05", "$8,500.00"},
			{"EX-1", "Excavator", "June 2024", 9000},
			{nil, "orphan line", "2024-06", 100},
			{"TR-1", nil, "2024-06", "n/a"},
			{"TR-2", nil, "13/2024", 500},
			{"Total", nil, nil, 17500},
			{"TR-3", nil, nil, 4800},
		},
	})

	rates, rowErrs, err := ReadWorkbook(buf, "ragle_june.xlsx")
	require.NoError(t, err)

	require.Len(t, rates, 3)
	assert.Equal(t, Rate{AssetID: "EX-1", Source: SourceRagle, Period: "2024-05", MonthlyRate: 8500, Sheet: "June", Row: 4}, rates[0])
	assert.Equal(t, "2024-06", rates[1].Period)
	assert.Equal(t, 9000.0, rates[1].MonthlyRate)
	assert.Equal(t, "TR-3", rates[2].AssetID)
	assert.Empty(t, rates[2].Period)

	require.Len(t, rowErrs, 3)
	assert.Equal(t, RowError{File: "ragle_june.xlsx", Sheet: "June", Row: 6, Reason: "missing asset id"}, rowErrs[0])
	assert.Equal(t, 7, rowErrs[1].Row)
	assert.Contains(t, rowErrs[1].Reason, "not a number")
	assert.Equal(t, 8, rowErrs[2].Row)
	assert.Contains(t, rowErrs[2].Reason, "period")
}

func TestReadWorkbookSkipsSheetsWithoutHeader(t *testing.T) {
	buf := buildWorkbook(t, map[string][][]any{
		"Select Rentals": {
			{"Unit #", "Rate"},
			{"DZ-4", 7200},
		},
	})
	rates, rowErrs, err := ReadWorkbook(buf, "export.xlsx")
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, rates, 1)
	assert.Equal(t, SourceSelect, rates[0].Source)
	assert.Equal(t, "DZ-4", rates[0].AssetID)

	notes := buildWorkbook(t, map[string][][]any{
		"Notes": {{"Nothing", "to", "see"}},
	})
	_, _, err = ReadWorkbook(notes, "notes.xlsx")
	assert.ErrorIs(t, err, ErrNoRates)

	_, _, err = ReadWorkbook(strings.NewReader("not a zip"), "bad.xlsx")
	assert.Error(t, err)
}

func TestDetectSource(t *testing.T) {
	assert.Equal(t, SourceRagle, DetectSource("Ragle-2024.xlsx"))
	assert.Equal(t, SourceSelect, DetectSource("rates.xlsx", "SELECT May"))
	assert.Equal(t, SourceUnknown, DetectSource("rates.xlsx", "Sheet1"))
}

func TestNormalizePeriod(t *testing.T) {
	tests := map[string]string{
		"2024-03":    "2024-03",
		"2024-03-15": "2024-03",
		"March 2024": "2024-03",
		"Mar 2024":   "2024-03",
		"03/2024":    "2024-03",
		"3/2024":     "2024-03",
		"03/15/2024": "2024-03",
	}
	for in, want := range tests {
		got, ok := NormalizePeriod(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NormalizePeriod("sometime")
	assert.False(t, ok)
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("$12,500.50")
	require.NoError(t, err)
	assert.Equal(t, 12500.5, v)

	_, err = parseAmount("")
	assert.Error(t, err)
	_, err = parseAmount("-5")
	assert.Error(t, err)
}

func TestConsolidator(t *testing.T) {
	c := NewConsolidator()

	conflicts := c.Add([]Rate{
		{AssetID: "EX-1", Source: SourceRagle, Period: "2024-05", MonthlyRate: 8500},
		{AssetID: "EX-1", Source: SourceRagle, Period: "2024-06", MonthlyRate: 9000},
		{AssetID: "TR-1", Source: SourceSelect, Period: "", MonthlyRate: 4800},
	})
	assert.Empty(t, conflicts)

	conflicts = c.Add([]Rate{
		{AssetID: "EX-1", Source: SourceSelect, Period: "2024-06", MonthlyRate: 9100},
		{AssetID: "EX-1", Source: SourceRagle, Period: "2024-05", MonthlyRate: 8500},
		{AssetID: "TR-1", Source: SourceSelect, Period: "2024-04", MonthlyRate: 5000},
	})
	require.Len(t, conflicts, 1)
	assert.Equal(t, "EX-1", conflicts[0].AssetID)
	assert.Equal(t, 9000.0, conflicts[0].Previous.MonthlyRate)
	assert.Equal(t, 9100.0, conflicts[0].Current.MonthlyRate)

	rates := c.Rates()
	require.Len(t, rates, 4)
	assert.Equal(t, "2024-05", rates[0].Period)
	assert.Equal(t, "TR-1", rates[2].AssetID)
	assert.Empty(t, rates[2].Period)

	assert.Equal(t, map[string]float64{"EX-1": 9100, "TR-1": 5000}, c.Current())

	totals := c.Totals()
	assert.Equal(t, 8500.0, totals[SourceRagle]["2024-05"])
	assert.Equal(t, 9100.0, totals[SourceSelect]["2024-06"])
	assert.Equal(t, 4800.0, totals[SourceSelect][""])
}
