package datanorm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return opts
}

func validateCSV(t *testing.T, name string, platform Platform, body string) *FileValidationResult {
	t.Helper()
	f := RawFile{Name: name, Platform: platform, Data: []byte(body)}
	return ValidateFile("client-1", f, 0, NewClassifier(0), testOptions())
}

func rows(headers []string, lines ...[]string) []RawRow {
	out := make([]RawRow, 0, len(lines))
	for i, cells := range lines {
		row := RawRow{Index: i + 1, Values: map[string]string{}}
		for j, h := range headers {
			if j < len(cells) {
				row.Values[h] = cells[j]
			}
		}
		out = append(out, row)
	}
	return out
}

func TestNormalizeMissingValueImputed(t *testing.T) {
	r := validateCSV(t, "reach.csv", PlatformInstagram, "data,alcance\n01/03/2024,1200\n02/03/2024,\n")

	assert.Equal(t, KindReach, r.DetectedType)
	require.Len(t, r.NormalizedData, 2)

	first, second := r.NormalizedData[0], r.NormalizedData[1]
	assert.Equal(t, "2024-03-01", first.Date)
	assert.Equal(t, int64(1200), first.Fields["reach"].Int)
	assert.Equal(t, "2024-03-02", second.Date)
	assert.Equal(t, int64(0), second.Fields["reach"].Int)
	assert.True(t, second.Fields["reach"].Imputed)
	assert.Equal(t, DailyTable, second.Table)
	assert.NotContains(t, second.Fields, FieldNameDate)

	require.Len(t, r.Issues, 1)
	is := r.Issues[0]
	assert.Equal(t, SeverityInfo, is.Severity)
	assert.Equal(t, CodeMissingValue, is.Code)
	assert.Contains(t, is.Message, "missing value treated as zero")
	assert.Contains(t, is.Message, "2024-03-02")
	assert.Equal(t, "reach.csv", is.File)
	assert.False(t, r.HasBlockingErrors())
}

func TestNormalizeInvalidDateBlocks(t *testing.T) {
	r := validateCSV(t, "reach.csv", PlatformInstagram, "data,alcance\n31/02/2024,100\n01/03/2024,200\n")

	require.Len(t, r.NormalizedData, 1)
	assert.Equal(t, "2024-03-01", r.NormalizedData[0].Date)
	assert.True(t, r.HasBlockingErrors())

	is, ok := r.FindIssue("invalid_date:1:date")
	require.True(t, ok)
	assert.Equal(t, SeverityError, is.Severity)
	assert.Equal(t, StageNormalize, is.Stage)
	assert.Contains(t, is.Message, "31/02/2024")
	assert.True(t, is.ManualCorrection)
	require.NotNil(t, is.Fix)
	assert.Equal(t, FixDropRow, is.Fix.Action)

	// raw data is untouched until a fix is applied
	assert.Equal(t, "31/02/2024", r.RawData[0].Values["data"])
	assert.False(t, r.RawData[0].Dropped)
}

func TestNormalizeEntityKeys(t *testing.T) {
	headers := []string{"video title", "video publish time", "duration", "views", "notes"}
	raw := rows(headers,
		[]string{"Launch", "01/03/2024", "3:25", "1.500", "pinned"},
		[]string{"LAUNCH", "2024-03-01", "1:00", "10"},
		[]string{"", "2024-03-02", "1:00", "10"},
	)
	records, issues, err := Normalize(headers, raw, KindYouTubeVideos, Source{ClientID: "c", Platform: PlatformYouTube, File: "videos.csv"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	a, b := records[0], records[1]
	assert.True(t, strings.HasPrefix(a.ExternalID, "fp_"))
	assert.Equal(t, a.ExternalID, b.ExternalID, "fallback key ignores case")
	assert.Equal(t, "youtube_videos", a.Table)
	assert.Equal(t, int64(205), a.Fields["duration"].Int)
	assert.Equal(t, TypeDuration, a.Fields["duration"].Type)
	assert.Equal(t, int64(1500), a.Fields["views"].Int)
	assert.Equal(t, map[string]string{"notes": "pinned"}, a.Extra)
	assert.Equal(t, "videos.csv", a.SourceFile)

	require.Len(t, issues, 1)
	assert.Equal(t, CodeMissingKey, issues[0].Code)
	assert.Equal(t, 3, issues[0].Row)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestNormalizeExplicitExternalID(t *testing.T) {
	headers := []string{"post id", "publish time", "likes"}
	records, issues, err := Normalize(headers, rows(headers, []string{"  178  ", "2024-03-01T09:00:00Z", "4"}), KindPosts, Source{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, issues)
	assert.Equal(t, "178", records[0].ExternalID)
	assert.NotContains(t, records[0].Fields, FieldNameExternalID)
	assert.Equal(t, "2024-03-01", records[0].Fields["published_at"].Text)
}

func TestNormalizeDerivedRates(t *testing.T) {
	headers := []string{"post id", "publish time", "likes", "comments", "reach", "engagement rate"}
	raw := rows(headers,
		[]string{"1", "2024-03-01", "10", "5", "100", ""},
		[]string{"2", "2024-03-01", "10", "5", "100", "9,5%"},
		[]string{"3", "2024-03-01", "10", "5", "0", ""},
	)
	records, issues, err := Normalize(headers, raw, KindPosts, Source{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	derived := records[0].Fields["engagement_rate"]
	assert.True(t, derived.Derived)
	assert.Equal(t, TypePercent, derived.Type)
	assert.InDelta(t, 15.0, derived.Float, 1e-9)

	provided := records[1].Fields["engagement_rate"]
	assert.False(t, provided.Derived)
	assert.InDelta(t, 9.5, provided.Float, 1e-9, "rates are kept on the 0-100 scale")

	assert.True(t, records[2].Fields["engagement_rate"].Imputed, "zero denominator leaves the imputed value")

	// only the row without a derivable rate reports an imputed value
	require.Len(t, issues, 1)
	assert.Equal(t, 3, issues[0].Row)
	assert.Equal(t, "engagement_rate", issues[0].Field)
}

func TestNormalizeNonNumeric(t *testing.T) {
	headers := []string{"date", "reach"}
	records, issues, err := Normalize(headers, rows(headers, []string{"2024-03-01", "n/a"}), KindReach, Source{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Fields["reach"].Imputed)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Message, `non-numeric value "n/a"`)
}

func TestNormalizeEmptyDate(t *testing.T) {
	headers := []string{"date", "reach"}
	records, issues, err := Normalize(headers, rows(headers, []string{"", "10"}), KindReach, Source{})
	require.NoError(t, err)
	assert.Empty(t, records)
	require.Len(t, issues, 1)
	assert.Equal(t, CodeMissingRequired, issues[0].Code)
	require.NotNil(t, issues[0].Fix)
	assert.Equal(t, FixDropRow, issues[0].Fix.Action)
}

func TestNormalizeUnknownKind(t *testing.T) {
	_, _, err := Normalize([]string{"a"}, nil, KindUnknown, Source{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestNormalizeSpreadsheetSerialDates(t *testing.T) {
	data := xlsxFixture(t,
		[]any{"Date", "Views", "Watch time (hours)"},
		[]any{45352, 100, "12.5"},
	)
	r := ValidateFile("c", RawFile{Name: "daily.xlsx", Platform: PlatformYouTube, Data: data}, 0, NewClassifier(0), testOptions())

	assert.Equal(t, KindYouTubeDailyViews, r.DetectedType)
	require.Len(t, r.NormalizedData, 1)
	assert.Equal(t, "2024-03-01", r.NormalizedData[0].Date)
	assert.InDelta(t, 12.5, r.NormalizedData[0].Fields["watch_time_hours"].Float, 1e-9)
}

// styledXLSX writes a header and one data row, applying a built-in number
// format to the data cells of the given 1-based columns.
func styledXLSX(t *testing.T, header, row []any, numFmts map[int]int) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &header))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &row))
	for col, id := range numFmts {
		style, err := f.NewStyle(&excelize.Style{NumFmt: id})
		require.NoError(t, err)
		cell, err := excelize.CoordinatesToCellName(col, 2)
		require.NoError(t, err)
		require.NoError(t, f.SetCellStyle("Sheet1", cell, cell, style))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestNormalizeSpreadsheetTimeCells(t *testing.T) {
	data := styledXLSX(t,
		[]any{"Content", "Video title", "Video publish time", "Duration", "Average view duration", "Views"},
		[]any{"abc123", "Launch", 45352, 205.0 / 86400, 0.5 / 24, 1500},
		map[int]int{4: 21, 5: 46},
	)
	r := ValidateFile("c", RawFile{Name: "videos.xlsx", Platform: PlatformYouTube, Data: data}, 0, NewClassifier(0), testOptions())

	assert.Equal(t, KindYouTubeVideos, r.DetectedType)
	require.Len(t, r.NormalizedData, 1)
	rec := r.NormalizedData[0]
	assert.Equal(t, "0:03:25", r.RawData[0].Values["duration"])
	assert.Equal(t, DurationValue(205), rec.Fields["duration"])
	assert.Equal(t, DurationValue(1800), rec.Fields["average_view_duration"])
	assert.Equal(t, "2024-03-01", rec.Fields["published_at"].Text, "date serials are left for the date parser")
}

func TestNormalizeSpreadsheetPercentMatchesCSV(t *testing.T) {
	data := styledXLSX(t,
		[]any{"Date", "Delivered", "Opens", "Open rate"},
		[]any{"2024-03-01", 1000, 450, 0.45},
		map[int]int{4: 9},
	)
	fromSheet := ValidateFile("c", RawFile{Name: "daily.xlsx", Platform: PlatformNewsletter, Data: data}, 0, NewClassifier(0), testOptions())
	fromCSV := validateCSV(t, "daily.csv", PlatformNewsletter, "Date,Delivered,Opens,Open rate\n2024-03-01,1000,450,45%\n")

	require.Equal(t, KindNewsletterDaily, fromSheet.DetectedType)
	require.Len(t, fromSheet.NormalizedData, 1)
	require.Len(t, fromCSV.NormalizedData, 1)
	assert.Equal(t, "45%", fromSheet.RawData[0].Values["open rate"])
	assert.InDelta(t, 45, fromSheet.NormalizedData[0].Fields["open_rate"].Float, 1e-9)
	assert.Equal(t, fromCSV.NormalizedData[0].Fields["open_rate"], fromSheet.NormalizedData[0].Fields["open_rate"])
}

func TestClassifyFormatCode(t *testing.T) {
	tests := []struct {
		code string
		want cellFormat
	}{
		{"General", formatPlain},
		{"#,##0.00", formatPlain},
		{"0.0%", formatPercent},
		{"[h]:mm:ss", formatTime},
		{"mm:ss", formatTime},
		{"h:mm AM/PM", formatTime},
		{"dd/mm/yyyy", formatPlain},
		{"yyyy-mm-dd hh:mm", formatPlain},
		{`0" hrs"`, formatPlain},
		{"[Red]0.00;[Blue]-0.00", formatPlain},
		{"[$-409]h:mm:ss", formatTime},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyFormatCode(tt.code))
		})
	}
}

func TestDisplayValue(t *testing.T) {
	assert.Equal(t, "45%", displayValue("0.45", formatPercent))
	assert.Equal(t, "-5.5%", displayValue("-0.055", formatPercent))
	assert.Equal(t, "0:03:25", displayValue("0.002372685185185185", formatTime))
	assert.Equal(t, "26:00:00", displayValue("1.0833333333333333", formatTime))
	assert.Equal(t, "n/a", displayValue("n/a", formatPercent))
	assert.Equal(t, "0.45", displayValue("0.45", formatPlain))
}

func TestNormalizeRejectsValuesBeyondInt64(t *testing.T) {
	headers := []string{"date", "reach"}
	raw := rows(headers,
		[]string{"2024-03-01", "99999999999999999999999"},
		[]string{"2024-03-02", "9.223.372.036.854.775.807"},
	)
	records, issues, err := Normalize(headers, raw, KindReach, Source{})
	require.NoError(t, err)

	require.Len(t, records, 1, "the overflowing row is excluded")
	assert.Equal(t, "2024-03-02", records[0].Date)
	assert.Equal(t, int64(9223372036854775807), records[0].Fields["reach"].Int)

	require.Len(t, issues, 1)
	is := issues[0]
	assert.Equal(t, CodeValueOutOfRange, is.Code)
	assert.Equal(t, SeverityError, is.Severity)
	assert.Equal(t, 1, is.Row)
	assert.Equal(t, "reach", is.Field)
	assert.True(t, is.ManualCorrection)
	assert.NotNil(t, is.Fix)
}
