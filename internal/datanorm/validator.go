package datanorm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	minDenseSeries = 3
	minDensity     = 0.5
	rateMin        = 0.0
	rateMax        = 100.0
)

// Validate recomputes every validate-stage issue of r. Issues raised by
// earlier stages are kept. Skipped files carry only their skip notice.
func Validate(r *FileValidationResult, opts Options) {
	if r.Skipped {
		return
	}
	r.removeIssues(func(is ValidationIssue) bool { return is.Stage != StageValidate })
	schema, ok := SchemaFor(r.DetectedType)
	if !ok {
		r.sortIssues()
		return
	}

	v := &fileValidator{r: r, schema: schema, mapping: MapColumns(schema, r.Headers), opts: opts}
	v.requiredColumns()
	v.requiredValues()
	v.duplicateKeys()
	v.dateContinuity()
	v.negativeValues()
	v.rateRanges()
	v.futureDates()
	v.invertedRanges()
	r.sortIssues()
}

type fileValidator struct {
	r       *FileValidationResult
	schema  *Schema
	mapping *ColumnMapping
	opts    Options
}

func (v *fileValidator) add(is ValidationIssue) { v.r.addIssue(is) }

func (v *fileValidator) requiredColumns() {
	for _, name := range v.schema.Required {
		if _, ok := v.mapping.Column(name); ok {
			continue
		}
		if name == FieldNameExternalID {
			continue
		}
		is := newIssue(SeverityError, StageValidate, CodeMissingRequiredColumn, 0, name,
			fmt.Sprintf("required column %q for %s not found in headers", name, v.schema.Kind))
		is.Fix = skipFileFix()
		is.ManualCorrection = true
		v.add(is)
	}
}

func (v *fileValidator) hasColumn(field string) bool {
	_, ok := v.mapping.Column(field)
	return ok
}

// requiredValues flags records whose required text or date field is empty.
// Empty numeric cells were already imputed as zero by the normalizer.
func (v *fileValidator) requiredValues() {
	for _, rec := range v.r.NormalizedData {
		for _, name := range v.schema.Required {
			if name == v.schema.KeyField() || !v.hasColumn(name) {
				continue
			}
			f, ok := v.schema.Field(name)
			if !ok || f.numeric() {
				continue
			}
			if val, ok := rec.Fields[name]; ok && val.Populated() {
				continue
			}
			is := newIssue(SeverityError, StageValidate, CodeMissingRequired, rec.RowIndex, name,
				fmt.Sprintf("row %d: required field %s is empty", rec.RowIndex, name))
			is.Fix = dropRowFix(rec.RowIndex)
			is.ManualCorrection = true
			v.add(is)
		}
	}
}

func (v *fileValidator) duplicateKeys() {
	groups := map[string][]int{}
	var order []string
	for i, rec := range v.r.NormalizedData {
		k := rec.Key()
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}
	for _, k := range order {
		idx := groups[k]
		if len(idx) < 2 {
			continue
		}
		recs := v.r.NormalizedData
		keep := idx[0]
		rows := make([]int, 0, len(idx))
		for _, i := range idx {
			rows = append(rows, recs[i].RowIndex)
			if recs[i].PopulatedCount() > recs[keep].PopulatedCount() {
				keep = i
			}
		}
		first := recs[idx[0]]
		label := first.Date
		if !v.schema.Daily {
			label = first.ExternalID
		}
		is := newIssue(SeverityWarning, StageValidate, CodeDuplicateKey, recs[idx[1]].RowIndex, v.schema.KeyField(),
			fmt.Sprintf("%s %s appears in rows %s", v.schema.KeyField(), label, joinInts(rows)))
		is.Fix = &Fix{
			Action:      FixKeepRow,
			Description: fmt.Sprintf("keep row %d (most populated fields) and drop the others", recs[keep].RowIndex),
			Rows:        rows,
			KeepRow:     recs[keep].RowIndex,
		}
		v.add(is)
	}
}

// dateContinuity reports holes in a dense daily series. Sparse series are
// not expected to be contiguous.
func (v *fileValidator) dateContinuity() {
	if !v.schema.Daily {
		return
	}
	byDate := map[string]int{}
	for _, rec := range v.r.NormalizedData {
		if _, ok := byDate[rec.Date]; !ok {
			byDate[rec.Date] = rec.RowIndex
		}
	}
	dates := make([]time.Time, 0, len(byDate))
	for d := range byDate {
		if t, err := time.Parse("2006-01-02", d); err == nil {
			dates = append(dates, t)
		}
	}
	if len(dates) < minDenseSeries {
		return
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	span := dates[len(dates)-1].Sub(dates[0]).Hours()/24 + 1
	if float64(len(dates))/span < minDensity {
		return
	}
	threshold := v.opts.gapThreshold()
	for i := 1; i < len(dates); i++ {
		gap := int(dates[i].Sub(dates[i-1]).Hours()/24) - 1
		if gap <= threshold {
			continue
		}
		from, to := dates[i-1].Format("2006-01-02"), dates[i].Format("2006-01-02")
		v.add(newIssue(SeverityInfo, StageValidate, CodeDateGap, byDate[to], FieldNameDate,
			fmt.Sprintf("%d missing days between %s and %s", gap, from, to)))
	}
}

func (v *fileValidator) negativeValues() {
	for _, rec := range v.r.NormalizedData {
		for _, f := range v.schema.Fields {
			if !f.numeric() || f.Signed {
				continue
			}
			val, ok := rec.Fields[f.Name]
			if !ok || !val.Populated() || val.Derived {
				continue
			}
			n, _ := val.Number()
			if n >= 0 {
				continue
			}
			col, _ := v.mapping.Column(f.Name)
			is := newIssue(SeverityError, StageValidate, CodeNegativeValue, rec.RowIndex, f.Name,
				fmt.Sprintf("row %d: %s is negative (%s)", rec.RowIndex, f.Name, val))
			is.Fix = &Fix{Action: FixClampZero, Description: "clamp to zero", Rows: []int{rec.RowIndex}, Column: col}
			is.ManualCorrection = true
			v.add(is)
		}
	}
}

func (v *fileValidator) rateRanges() {
	for _, rec := range v.r.NormalizedData {
		names := make([]string, 0, len(rec.Fields))
		for name, val := range rec.Fields {
			if val.Type == TypePercent {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		for _, name := range names {
			val := rec.Fields[name]
			if !val.Populated() || (val.Float >= rateMin && val.Float <= rateMax) {
				continue
			}
			is := newIssue(SeverityWarning, StageValidate, CodeRateOutOfRange, rec.RowIndex, name,
				fmt.Sprintf("row %d: %s %s is outside [0,100]", rec.RowIndex, name, val))
			if col, ok := v.mapping.Column(name); ok && !val.Derived {
				is.Fix = &Fix{
					Action: FixClampRange, Description: "clamp to [0,100]",
					Rows: []int{rec.RowIndex}, Column: col, Min: rateMin, Max: rateMax,
				}
			}
			v.add(is)
		}
	}
}

func (v *fileValidator) futureDates() {
	limit := v.opts.now().AddDate(0, 0, 1).Format("2006-01-02")
	for _, rec := range v.r.NormalizedData {
		if rec.Date != "" && rec.Date > limit {
			v.add(futureIssue(rec.RowIndex, FieldNameDate, rec.Date))
		}
		for _, f := range v.schema.Fields {
			if f.Type != FieldDate {
				continue
			}
			if val, ok := rec.Fields[f.Name]; ok && val.Populated() && val.Text > limit {
				v.add(futureIssue(rec.RowIndex, f.Name, val.Text))
			}
		}
	}
}

func futureIssue(row int, field, date string) ValidationIssue {
	is := newIssue(SeverityWarning, StageValidate, CodeFutureDate, row, field,
		fmt.Sprintf("row %d: %s %s is in the future", row, field, date))
	is.Fix = dropRowFix(row)
	return is
}

func (v *fileValidator) invertedRanges() {
	if v.schema.RangeStart == "" || v.schema.RangeEnd == "" {
		return
	}
	for _, rec := range v.r.NormalizedData {
		start, ok1 := rec.Fields[v.schema.RangeStart]
		end, ok2 := rec.Fields[v.schema.RangeEnd]
		if !ok1 || !ok2 || !start.Populated() || !end.Populated() || start.Text <= end.Text {
			continue
		}
		v.add(newIssue(SeverityWarning, StageValidate, CodeInvertedRange, rec.RowIndex, v.schema.RangeEnd,
			fmt.Sprintf("row %d: %s %s is before %s %s", rec.RowIndex, v.schema.RangeEnd, end.Text, v.schema.RangeStart, start.Text)))
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
