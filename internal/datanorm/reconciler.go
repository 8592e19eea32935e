package datanorm

import (
	"fmt"
	"sort"
)

// Summary describes a reconciled record set.
type Summary struct {
	DateRange     *DateRange                         `json:"date_range,omitempty"`
	ContentKinds  []ContentKind                      `json:"content_kinds"`
	RecordsByKind map[ContentKind]int                `json:"records_by_kind"`
	Totals        map[ContentKind]map[string]float64 `json:"totals"`
	Conflicts     int                                `json:"conflicts"`
	Files         int                                `json:"files"`
	SkippedFiles  int                                `json:"skipped_files"`
}

type fieldOrigin struct {
	file *FileValidationResult
	row  int
}

type mergedRecord struct {
	rec    NormalizedRecord
	origin map[string]fieldOrigin
}

// Reconcile merges the records of every eligible file into one set with a
// single record per key. Files that are skipped or still carry blocking
// errors contribute nothing. When two populated values disagree the later
// upload wins and the overridden file receives an info issue.
func Reconcile(results []*FileValidationResult) ([]NormalizedRecord, Summary) {
	type sourced struct {
		rec  NormalizedRecord
		file *FileValidationResult
	}
	var (
		all     []sourced
		summary Summary
	)
	for _, r := range results {
		r.removeIssues(func(is ValidationIssue) bool { return is.Stage != StageReconcile })
		if r.Skipped || r.HasBlockingErrors() {
			summary.SkippedFiles++
			continue
		}
		summary.Files++
		for _, rec := range r.NormalizedData {
			if rec.Daily() && !IsCanonicalDate(rec.Date) {
				r.addIssue(newIssue(SeverityWarning, StageReconcile, CodeNonCanonicalDate, rec.RowIndex, FieldNameDate,
					fmt.Sprintf("row %d: date %q is not YYYY-MM-DD; record not imported", rec.RowIndex, rec.Date)))
				continue
			}
			all = append(all, sourced{rec: rec, file: r})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].rec.UploadOrder != all[j].rec.UploadOrder {
			return all[i].rec.UploadOrder < all[j].rec.UploadOrder
		}
		return all[i].rec.RowIndex < all[j].rec.RowIndex
	})

	merged := map[string]*mergedRecord{}
	var keys []string
	for _, s := range all {
		key := s.rec.Key()
		m, ok := merged[key]
		if !ok {
			m = &mergedRecord{rec: s.rec.Clone(), origin: map[string]fieldOrigin{}}
			for name := range m.rec.Fields {
				m.origin[name] = fieldOrigin{file: s.file, row: s.rec.RowIndex}
			}
			merged[key] = m
			keys = append(keys, key)
			continue
		}
		summary.Conflicts += m.merge(s.rec, s.file)
	}

	out := make([]NormalizedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, merged[k].rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Key() < out[j].Key()
	})
	for _, r := range results {
		r.sortIssues()
	}

	s := Summarize(out)
	s.Conflicts, s.Files, s.SkippedFiles = summary.Conflicts, summary.Files, summary.SkippedFiles
	return out, s
}

// merge folds a later record into m and returns the number of conflicts.
func (m *mergedRecord) merge(in NormalizedRecord, file *FileValidationResult) int {
	conflicts := 0
	names := make([]string, 0, len(in.Fields))
	for name := range in.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		next := in.Fields[name]
		cur, ok := m.rec.Fields[name]
		switch {
		case next.Derived:
			continue
		case !ok, !cur.Populated() && next.Populated():
		case !next.Populated():
			continue
		case cur.Derived:
		case cur.Equal(next):
			continue
		default:
			prev := m.origin[name]
			label := m.rec.Date
			if !m.rec.Daily() {
				label = m.rec.ExternalID
			}
			prev.file.addIssue(newIssue(SeverityInfo, StageReconcile, CodeConflict, prev.row, name,
				fmt.Sprintf("%s %s: %s from %s overridden by %s from %s", label, name, cur, prev.file.SourceFileName, next, file.SourceFileName)))
			conflicts++
		}
		m.rec.Fields[name] = next
		m.origin[name] = fieldOrigin{file: file, row: in.RowIndex}
	}

	for k, v := range in.Extra {
		if v == "" {
			continue
		}
		if m.rec.Extra == nil {
			m.rec.Extra = map[string]string{}
		}
		m.rec.Extra[k] = v
	}
	m.rec.SourceFile, m.rec.RowIndex, m.rec.UploadOrder = in.SourceFile, in.RowIndex, in.UploadOrder
	m.rederive()
	return conflicts
}

// rederive recomputes derived fields from the merged sources. A rate that
// can no longer be computed is left imputed.
func (m *mergedRecord) rederive() {
	schema, ok := SchemaFor(m.rec.Kind)
	if !ok || len(schema.Derived) == 0 {
		return
	}
	stale := map[string]ValueType{}
	for name, v := range m.rec.Fields {
		if v.Derived {
			stale[name] = v.Type
			delete(m.rec.Fields, name)
		}
	}
	derive(schema, &m.rec)
	for name, t := range stale {
		if _, ok := m.rec.Fields[name]; !ok {
			m.rec.Fields[name] = Value{Type: t, Imputed: true}
		}
	}
}

// Summarize computes the date range, per-kind counts and numeric totals.
// Rates and derived values are not summed.
func Summarize(records []NormalizedRecord) Summary {
	s := Summary{
		RecordsByKind: map[ContentKind]int{},
		Totals:        map[ContentKind]map[string]float64{},
	}
	for i := range records {
		rec := &records[i]
		if s.RecordsByKind[rec.Kind] == 0 {
			s.ContentKinds = append(s.ContentKinds, rec.Kind)
		}
		s.RecordsByKind[rec.Kind]++

		if rec.Daily() && rec.Date != "" {
			if s.DateRange == nil {
				s.DateRange = &DateRange{Start: rec.Date, End: rec.Date}
			}
			if rec.Date < s.DateRange.Start {
				s.DateRange.Start = rec.Date
			}
			if rec.Date > s.DateRange.End {
				s.DateRange.End = rec.Date
			}
		}

		totals := s.Totals[rec.Kind]
		if totals == nil {
			totals = map[string]float64{}
			s.Totals[rec.Kind] = totals
		}
		for name, v := range rec.Fields {
			if v.Derived || v.Type == TypePercent {
				continue
			}
			if n, ok := v.Number(); ok {
				totals[name] += n
			}
		}
	}
	sort.Slice(s.ContentKinds, func(i, j int) bool { return s.ContentKinds[i] < s.ContentKinds[j] })
	return s
}
