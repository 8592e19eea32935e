package datanorm

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// cellFormat is how a spreadsheet number format changes the meaning of a
// raw cell value.
type cellFormat int

const (
	formatPlain cellFormat = iota
	formatPercent
	formatTime
)

// Built-in number format ids from ECMA-376 18.8.30.
var builtinCellFormats = map[int]cellFormat{
	9:  formatPercent, // 0%
	10: formatPercent, // 0.00%
	18: formatTime,    // h:mm AM/PM
	19: formatTime,    // h:mm:ss AM/PM
	20: formatTime,    // h:mm
	21: formatTime,    // h:mm:ss
	45: formatTime,    // mm:ss
	46: formatTime,    // [h]:mm:ss
	47: formatTime,    // mmss.0
}

// sheetFormats resolves cell formats through the workbook styles, caching
// per style index.
type sheetFormats struct {
	f     *excelize.File
	sheet string
	cache map[int]cellFormat
}

func newSheetFormats(f *excelize.File, sheet string) *sheetFormats {
	return &sheetFormats{f: f, sheet: sheet, cache: map[int]cellFormat{}}
}

// of returns the format of the cell at 1-based col and row.
func (s *sheetFormats) of(col, row int) cellFormat {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return formatPlain
	}
	idx, err := s.f.GetCellStyle(s.sheet, cell)
	if err != nil || idx == 0 {
		return formatPlain
	}
	if k, ok := s.cache[idx]; ok {
		return k
	}
	k := formatPlain
	if st, err := s.f.GetStyle(idx); err == nil && st != nil {
		k = classifyNumFmt(st.NumFmt, st.CustomNumFmt)
	}
	s.cache[idx] = k
	return k
}

func classifyNumFmt(id int, custom *string) cellFormat {
	if custom != nil && *custom != "" {
		return classifyFormatCode(*custom)
	}
	return builtinCellFormats[id]
}

// classifyFormatCode inspects the positive section of a custom format
// code. Literals and bracketed locale or colour tokens are ignored; [h],
// [m] and [s] are elapsed-time tokens. Codes with a year or day part are
// dates and stay as serials for the date parser.
func classifyFormatCode(code string) cellFormat {
	code = strings.ToLower(code)
	if i := strings.IndexByte(code, ';'); i >= 0 {
		code = code[:i]
	}
	var b strings.Builder
	elapsed := false
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			j := strings.IndexByte(code[i+1:], '"')
			if j < 0 {
				i = len(code)
			} else {
				i += j + 1
			}
		case '\\', '_', '*':
			i++
		case '[':
			j := strings.IndexByte(code[i+1:], ']')
			if j < 0 {
				i = len(code)
				continue
			}
			if tok := strings.Trim(code[i+1:i+1+j], "hms"); tok == "" && j > 0 {
				elapsed = true
			}
			i += j + 1
		default:
			b.WriteByte(c)
		}
	}
	rest := b.String()
	switch {
	case strings.Contains(rest, "%"):
		return formatPercent
	case strings.ContainsAny(rest, "yd"):
		return formatPlain
	case elapsed || strings.ContainsAny(rest, "hs"):
		return formatTime
	}
	return formatPlain
}

// displayValue rewrites a raw numeric cell the way the sheet shows it, so
// spreadsheet and CSV exports of the same data normalize alike: percent
// cells become "45%" and time cells become H:MM:SS. Non-numeric raw
// values are returned unchanged.
func displayValue(raw string, k cellFormat) string {
	if k == formatPlain || raw == "" {
		return raw
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	switch k {
	case formatPercent:
		return d.Mul(decimal.NewFromInt(100)).Round(10).String() + "%"
	case formatTime:
		secs := d.Mul(decimal.NewFromInt(86400)).Round(0)
		if secs.IsNegative() || !secs.LessThan(decimal.NewFromInt(maxSpreadsheetSeconds)) {
			return raw
		}
		n := secs.IntPart()
		return fmt.Sprintf("%d:%02d:%02d", n/3600, n/60%60, n%60)
	}
	return raw
}

// maxSpreadsheetSeconds is the Excel date ceiling (9999-12-31) in seconds.
const maxSpreadsheetSeconds = 2958466 * 86400
