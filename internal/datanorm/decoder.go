package datanorm

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Table is the decoded form of one file.
type Table struct {
	Format    Format
	Delimiter rune
	Sheet     string
	Headers   []string
	Rows      []RawRow
	Issues    []ValidationIssue
}

var (
	zipMagic   = []byte("PK\x03\x04")
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

var delimiterCandidates = []byte{',', '\t', ';'}

// DetectFormat resolves the container format. An explicit hint wins.
func DetectFormat(data []byte, hint Format) Format {
	if hint != FormatAuto {
		return hint
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	return FormatCSV
}

// Decode parses raw CSV or XLSX bytes into headers and rows. A file with
// zero columns or zero data rows fails with *DecodeError; malformed rows
// are reported as row issues instead.
func Decode(data []byte, hint Format) (*Table, error) {
	switch DetectFormat(data, hint) {
	case FormatXLSX:
		return decodeSpreadsheet(data)
	default:
		return decodeDelimited(data)
	}
}

// =============================================================================
// DELIMITED TEXT
// =============================================================================

func decodeDelimited(data []byte) (*Table, error) {
	text := decodeText(data)

	delim := byte(0)
	if first, rest, ok := strings.Cut(text, "\n"); ok || first != "" {
		hint := strings.ToLower(strings.TrimSpace(first))
		if strings.HasPrefix(hint, "sep=") && len(hint) == 5 {
			delim = hint[4]
			text = rest
		}
	}
	if delim == 0 {
		delim = detectDelimiter(firstLine(text))
	}

	p := &delimitedParser{text: text, delim: delim}
	header, _, ok := p.next()
	if !ok || allBlank(header) {
		return nil, &DecodeError{Reason: "no columns"}
	}

	t := &Table{Format: FormatCSV, Delimiter: rune(delim), Headers: normalizeHeaders(header)}
	for !p.done() {
		line := p.line
		cells, malformed, ok := p.next()
		if !ok {
			break
		}
		if allBlank(cells) {
			continue
		}
		row := t.addRow(cells)
		if malformed {
			row.Malformed = true
			t.Issues = append(t.Issues, newIssue(SeverityWarning, StageDecode, CodeMalformedRow, row.Index, "",
				fmt.Sprintf("row %d (line %d) has an unterminated quote and was parsed best-effort", row.Index, line)))
		}
	}
	if len(t.Rows) == 0 {
		return nil, &DecodeError{Reason: "no data rows"}
	}
	return t, nil
}

// decodeText converts raw bytes to UTF-8 text with BOMs and NULs removed.
func decodeText(data []byte) string {
	switch {
	case bytes.HasPrefix(data, utf16LEBOM) || bytes.HasPrefix(data, utf16BEBOM):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			data = out
		}
	case bytes.HasPrefix(data, utf8BOM):
		data = data[len(utf8BOM):]
	}
	data = bytes.ReplaceAll(data, []byte{0}, nil)
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		if out, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
			data = out
		}
	}
	return string(data)
}

func firstLine(text string) string {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		return text[:i]
	}
	return text
}

// detectDelimiter counts candidate separators outside quotes on the header
// line. Ties and lines with no separator fall back to comma.
func detectDelimiter(line string) byte {
	counts := map[byte]int{}
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[c]++
		}
	}
	best := byte(',')
	for _, c := range delimiterCandidates {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

// delimitedParser is a quote-aware record scanner. A record spans lines
// while a quote is open; a quote left open at EOF causes the record's first
// physical line to be re-split loosely so the following rows still decode.
type delimitedParser struct {
	text  string
	pos   int
	line  int
	delim byte
}

func (p *delimitedParser) done() bool { return p.pos >= len(p.text) }

func (p *delimitedParser) next() (cells []string, malformed bool, ok bool) {
	if p.done() {
		return nil, false, false
	}
	if p.line == 0 {
		p.line = 1
	}
	start, startLine := p.pos, p.line

	var field strings.Builder
	inQuotes, quoted := false, false
	endField := func() {
		cells = append(cells, field.String())
		field.Reset()
		quoted = false
	}

	i := p.pos
	for i < len(p.text) {
		c := p.text[i]
		if inQuotes {
			switch {
			case c == '"' && i+1 < len(p.text) && p.text[i+1] == '"':
				field.WriteByte('"')
				i += 2
				continue
			case c == '"':
				inQuotes = false
			default:
				if c == '\n' {
					p.line++
				}
				field.WriteByte(c)
			}
			i++
			continue
		}
		switch c {
		case '"':
			if field.Len() == 0 && !quoted {
				inQuotes, quoted = true, true
			} else {
				field.WriteByte(c)
			}
		case p.delim:
			endField()
		case '\r', '\n':
			if c == '\r' && i+1 < len(p.text) && p.text[i+1] == '\n' {
				i++
			}
			endField()
			p.pos = i + 1
			p.line++
			return cells, false, true
		default:
			field.WriteByte(c)
		}
		i++
	}

	if inQuotes {
		end := strings.IndexAny(p.text[start:], "\r\n")
		raw := p.text[start:]
		if end >= 0 {
			raw = p.text[start : start+end]
			p.pos = start + end + 1
			if p.text[start+end] == '\r' && p.pos < len(p.text) && p.text[p.pos] == '\n' {
				p.pos++
			}
		} else {
			p.pos = len(p.text)
		}
		p.line = startLine + 1
		return splitLoose(raw, p.delim), true, true
	}

	endField()
	p.pos = len(p.text)
	return cells, false, true
}

func splitLoose(line string, delim byte) []string {
	parts := strings.Split(line, string(delim))
	for i, s := range parts {
		parts[i] = strings.ReplaceAll(s, `"`, "")
	}
	return parts
}

// =============================================================================
// SPREADSHEETS
// =============================================================================

func decodeSpreadsheet(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("open spreadsheet: %v", err)}
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if sheet == "" {
		list := f.GetSheetList()
		if len(list) == 0 {
			return nil, &DecodeError{Reason: "no sheets"}
		}
		sheet = list[0]
	}
	grid, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("read sheet %s: %v", sheet, err)}
	}

	headerRow := 0
	for headerRow < len(grid) && allBlank(grid[headerRow]) {
		headerRow++
	}
	if headerRow == len(grid) {
		return nil, &DecodeError{Reason: "no columns"}
	}

	t := &Table{Format: FormatXLSX, Sheet: sheet, Headers: normalizeHeaders(grid[headerRow])}
	formats := newSheetFormats(f, sheet)
	for i := headerRow + 1; i < len(grid); i++ {
		cells := grid[i]
		if allBlank(cells) {
			continue
		}
		for col, v := range cells {
			if v != "" {
				cells[col] = displayValue(v, formats.of(col+1, i+1))
			}
		}
		t.addRow(cells)
	}
	if len(t.Rows) == 0 {
		return nil, &DecodeError{Reason: "no data rows"}
	}
	return t, nil
}

// =============================================================================
// SHARED
// =============================================================================

// addRow keys cells by header. Missing cells become empty strings; extra
// cells are kept under column_N keys and reported.
func (t *Table) addRow(cells []string) *RawRow {
	row := RawRow{Index: len(t.Rows) + 1, Values: make(map[string]string, len(t.Headers))}
	for i, h := range t.Headers {
		v := ""
		if i < len(cells) {
			v = strings.TrimSpace(cells[i])
		}
		row.Values[h] = v
	}
	extra := 0
	for i := len(t.Headers); i < len(cells); i++ {
		v := strings.TrimSpace(cells[i])
		if v == "" {
			continue
		}
		row.Values[fmt.Sprintf("column_%d", i+1)] = v
		extra++
	}
	if extra > 0 {
		t.Issues = append(t.Issues, newIssue(SeverityInfo, StageDecode, CodeExtraCells, row.Index, "",
			fmt.Sprintf("row %d has %d cells beyond the header", row.Index, extra)))
	}
	t.Rows = append(t.Rows, row)
	return &t.Rows[len(t.Rows)-1]
}

// normalizeHeaders lower-cases, trims and quote-strips header cells.
// Empty names become column_N; duplicates get a numeric suffix.
func normalizeHeaders(cells []string) []string {
	out := make([]string, 0, len(cells))
	seen := map[string]int{}
	for i, c := range cells {
		h := strings.ToLower(strings.Trim(strings.TrimSpace(c), `"'`))
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		out = append(out, h)
	}
	for len(out) > 0 && strings.HasPrefix(out[len(out)-1], "column_") && trailingBlank(cells, len(out)-1) {
		out = out[:len(out)-1]
	}
	return out
}

func trailingBlank(cells []string, i int) bool {
	return i < len(cells) && strings.TrimSpace(cells[i]) == ""
}

func allBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
