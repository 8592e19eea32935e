package datanorm

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// FixAction names a deterministic correction.
type FixAction string

const (
	FixDropRow    FixAction = "drop_row"
	FixClampZero  FixAction = "clamp_zero"
	FixClampRange FixAction = "clamp_range"
	FixKeepRow    FixAction = "keep_row"
	FixSkipFile   FixAction = "skip_file"
	FixSetValue   FixAction = "set_value"
)

var (
	ErrIssueNotFound = errors.New("issue not found")
	ErrNoFix         = errors.New("issue has no fix")
	ErrRowNotFound   = errors.New("row not found")
)

// Fix describes a transform from an offending raw row to a corrected one.
// Rows lists the data rows the fix rewrites; for keep_row those are the
// duplicates being dropped and KeepRow is the survivor.
type Fix struct {
	Action      FixAction `json:"action"`
	Description string    `json:"description"`
	Rows        []int     `json:"rows,omitempty"`
	Column      string    `json:"column,omitempty"`
	Min         float64   `json:"min,omitempty"`
	Max         float64   `json:"max,omitempty"`
	Value       string    `json:"value,omitempty"`
	KeepRow     int       `json:"keep_row,omitempty"`
}

func dropRowFix(row int) *Fix {
	return &Fix{Action: FixDropRow, Description: "exclude this row from the import", Rows: []int{row}}
}

func skipFileFix() *Fix {
	return &Fix{Action: FixSkipFile, Description: "skip this file"}
}

// Apply returns the corrected copy of row. The input is never mutated.
func (f Fix) Apply(row RawRow) RawRow {
	out := row.Clone()
	switch f.Action {
	case FixDropRow:
		out.Dropped = true
	case FixKeepRow:
		for _, idx := range f.Rows {
			if idx == row.Index && idx != f.KeepRow {
				out.Dropped = true
			}
		}
	case FixClampZero:
		if n, ok := ParseNumber(out.Values[f.Column], false); ok && n.IsNegative() {
			out.Values[f.Column] = "0"
		}
	case FixClampRange:
		if n, ok := ParseNumber(out.Values[f.Column], false); ok {
			lo, hi := decimal.NewFromFloat(f.Min), decimal.NewFromFloat(f.Max)
			switch {
			case n.LessThan(lo):
				out.Values[f.Column] = lo.String()
			case n.GreaterThan(hi):
				out.Values[f.Column] = hi.String()
			}
		}
	case FixSetValue:
		out.Values[f.Column] = f.Value
	}
	return out
}

// ApplyFix applies the fix attached to issue id, re-normalizes only the
// rows it touched and re-validates the file.
func ApplyFix(r *FileValidationResult, id string, opts Options) error {
	is, ok := r.FindIssue(id)
	if !ok {
		return ErrIssueNotFound
	}
	if is.Fix == nil {
		return ErrNoFix
	}
	if is.Fix.Action == FixSkipFile {
		r.Skip()
		return nil
	}

	rows := is.Fix.Rows
	if len(rows) == 0 && is.Row > 0 {
		rows = []int{is.Row}
	}
	for _, idx := range rows {
		i, ok := r.rowByIndex(idx)
		if !ok {
			return ErrRowNotFound
		}
		r.RawData[i] = is.Fix.Apply(r.RawData[i])
	}
	renormalizeRows(r, rows)
	Validate(r, opts)
	return nil
}

// ApplyCorrection sets one raw cell to a user-supplied value, then
// re-normalizes that row and re-validates the file.
func ApplyCorrection(r *FileValidationResult, row int, column, value string, opts Options) error {
	i, ok := r.rowByIndex(row)
	if !ok {
		return ErrRowNotFound
	}
	fix := Fix{Action: FixSetValue, Column: column, Value: value}
	r.RawData[i] = fix.Apply(r.RawData[i])
	r.RawData[i].Dropped = false
	rows := []int{row}
	if !containsString(r.Headers, column) {
		// A new column can change the mapping for every row.
		r.Headers = append(r.Headers, column)
		rows = rows[:0]
		for _, raw := range r.RawData {
			rows = append(rows, raw.Index)
		}
	}
	renormalizeRows(r, rows)
	Validate(r, opts)
	return nil
}

// Skip excludes the whole file from reconciliation.
func (r *FileValidationResult) Skip() {
	r.Skipped = true
	r.NormalizedData = nil
	r.Issues = nil
	r.addIssue(newIssue(SeverityInfo, StageValidate, CodeFileSkipped, 0, "", "file skipped by request"))
}

func renormalizeRows(r *FileValidationResult, rows []int) {
	schema, ok := SchemaFor(r.DetectedType)
	if !ok {
		return
	}
	touched := make(map[int]bool, len(rows))
	for _, idx := range rows {
		touched[idx] = true
	}
	r.removeIssues(func(is ValidationIssue) bool {
		return !(is.Stage == StageNormalize && touched[is.Row])
	})
	kept := r.NormalizedData[:0]
	for _, rec := range r.NormalizedData {
		if !touched[rec.RowIndex] {
			kept = append(kept, rec)
		}
	}
	r.NormalizedData = kept

	n := newFileNormalizer(schema, r)
	for _, idx := range rows {
		i, ok := r.rowByIndex(idx)
		if !ok {
			continue
		}
		rec, issues := n.Row(r.RawData[i])
		for _, is := range issues {
			r.addIssue(is)
		}
		if rec != nil {
			r.NormalizedData = append(r.NormalizedData, *rec)
		}
	}
	sort.SliceStable(r.NormalizedData, func(i, j int) bool {
		return r.NormalizedData[i].RowIndex < r.NormalizedData[j].RowIndex
	})
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
