package datanorm

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// Options carries the tunables shared by classification, normalization
// and validation. The zero value is usable.
type Options struct {
	ConfidenceFloor  float64
	GapThresholdDays int
	Now              func() time.Time
}

// DefaultGapThresholdDays is the largest tolerated hole in a daily series.
const DefaultGapThresholdDays = 7

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceFloor:  DefaultConfidenceFloor,
		GapThresholdDays: DefaultGapThresholdDays,
		Now:              time.Now,
	}
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

func (o Options) gapThreshold() int {
	if o.GapThresholdDays <= 0 {
		return DefaultGapThresholdDays
	}
	return o.GapThresholdDays
}

// Source identifies where normalized records come from.
type Source struct {
	ClientID    string
	Platform    Platform
	File        string
	UploadOrder int
	Spreadsheet bool
}

// Normalize maps the raw rows of one content kind to typed records. Rows
// that cannot be normalized are left out of the records but keep an issue
// carrying the row index and raw value.
func Normalize(headers []string, rows []RawRow, kind ContentKind, src Source) ([]NormalizedRecord, []ValidationIssue, error) {
	schema, ok := SchemaFor(kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	n := &rowNormalizer{schema: schema, mapping: MapColumns(schema, headers), src: src}
	var (
		records []NormalizedRecord
		issues  []ValidationIssue
	)
	for _, raw := range rows {
		rec, rowIssues := n.Row(raw)
		issues = append(issues, rowIssues...)
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, issues, nil
}

// NormalizeFile replaces the records and normalize-stage issues of r.
func NormalizeFile(r *FileValidationResult) error {
	r.removeIssues(func(is ValidationIssue) bool { return is.Stage != StageNormalize })
	r.NormalizedData = nil
	if r.Skipped || r.DetectedType == KindUnknown || r.DetectedType == "" {
		return nil
	}
	records, issues, err := Normalize(r.Headers, r.RawData, r.DetectedType, sourceOf(r))
	if err != nil {
		return err
	}
	r.NormalizedData = records
	for _, is := range issues {
		r.addIssue(is)
	}
	return nil
}

func sourceOf(r *FileValidationResult) Source {
	return Source{
		ClientID:    r.ClientID,
		Platform:    r.Platform,
		File:        r.SourceFileName,
		UploadOrder: r.UploadOrder,
		Spreadsheet: r.Format == FormatXLSX,
	}
}

func newFileNormalizer(schema *Schema, r *FileValidationResult) *rowNormalizer {
	return &rowNormalizer{schema: schema, mapping: MapColumns(schema, r.Headers), src: sourceOf(r)}
}

type rowNormalizer struct {
	schema  *Schema
	mapping *ColumnMapping
	src     Source
}

// Row normalizes one raw row. A nil record means the row is excluded.
func (n *rowNormalizer) Row(raw RawRow) (*NormalizedRecord, []ValidationIssue) {
	if raw.Dropped {
		return nil, nil
	}
	rec := &NormalizedRecord{
		ClientID:    n.src.ClientID,
		Platform:    n.src.Platform,
		Kind:        n.schema.Kind,
		Table:       n.schema.Table,
		Fields:      make(map[string]Value, len(n.schema.Fields)),
		RowIndex:    raw.Index,
		SourceFile:  n.src.File,
		UploadOrder: n.src.UploadOrder,
	}

	var (
		issues   []ValidationIssue
		imputed  []imputedCell
		excluded bool
	)
	for _, f := range n.schema.Fields {
		col, ok := n.mapping.Column(f.Name)
		if !ok {
			continue
		}
		val := strings.TrimSpace(raw.Values[col])

		switch f.Type {
		case FieldDate:
			if val == "" {
				continue
			}
			iso, err := ParseDate(val, n.src.Spreadsheet)
			if err != nil {
				is := newIssue(SeverityError, StageNormalize, CodeInvalidDate, raw.Index, f.Name,
					fmt.Sprintf("row %d: %s %q is not a valid date (expected DD/MM/YYYY, YYYY-MM-DD or ISO date-time)", raw.Index, col, val))
				is.Fix = dropRowFix(raw.Index)
				is.ManualCorrection = true
				issues = append(issues, is)
				excluded = true
				continue
			}
			rec.Fields[f.Name] = DateValue(iso)

		case FieldString:
			if val != "" {
				rec.Fields[f.Name] = StringValue(val)
			}

		case FieldDuration:
			secs, err := parseDuration(val)
			if errors.Is(err, ErrOutOfRange) {
				issues = append(issues, outOfRangeIssue(raw.Index, col, f.Name, val))
				excluded = true
				continue
			}
			if err != nil {
				rec.Fields[f.Name] = Value{Type: TypeDuration, Imputed: true}
				imputed = append(imputed, imputedCell{field: f.Name, raw: val})
				continue
			}
			rec.Fields[f.Name] = DurationValue(secs)

		default:
			d, ok := ParseNumber(val, f.Type == FieldInt)
			if !ok {
				rec.Fields[f.Name] = Value{Type: valueTypeOf(f.Type), Imputed: true}
				imputed = append(imputed, imputedCell{field: f.Name, raw: val})
				continue
			}
			v, fits := numericValue(f.Type, d)
			if !fits {
				issues = append(issues, outOfRangeIssue(raw.Index, col, f.Name, val))
				excluded = true
				continue
			}
			rec.Fields[f.Name] = v
		}
	}

	for col, val := range raw.Values {
		if _, mapped := n.mapping.Columns[col]; mapped || strings.TrimSpace(val) == "" {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[col] = strings.TrimSpace(val)
	}

	if n.schema.Daily {
		if d, ok := rec.Fields[FieldNameDate]; ok {
			rec.Date = d.Text
			delete(rec.Fields, FieldNameDate)
		} else if !excluded {
			if _, mapped := n.mapping.Column(FieldNameDate); mapped {
				issues = append(issues, missingKeyIssue(raw.Index, FieldNameDate, CodeMissingRequired,
					fmt.Sprintf("row %d: date is empty", raw.Index)))
			}
			excluded = true
		}
	} else {
		if v, ok := rec.Fields[FieldNameExternalID]; ok {
			rec.ExternalID = v.Text
			delete(rec.Fields, FieldNameExternalID)
		}
		if rec.ExternalID == "" {
			rec.ExternalID = fallbackKey(n.schema, rec)
		}
		if rec.ExternalID == "" && !excluded {
			issues = append(issues, missingKeyIssue(raw.Index, FieldNameExternalID, CodeMissingKey,
				fmt.Sprintf("row %d: no id and not enough columns (%s) to derive one", raw.Index, strings.Join(n.schema.KeyFallback, ", "))))
			excluded = true
		}
	}
	if excluded {
		return nil, issues
	}

	derive(n.schema, rec)
	for _, c := range imputed {
		if v := rec.Fields[c.field]; v.Derived {
			continue
		}
		issues = append(issues, imputedIssue(raw.Index, rec, c))
	}
	return rec, issues
}

type imputedCell struct {
	field string
	raw   string
}

func imputedIssue(row int, rec *NormalizedRecord, c imputedCell) ValidationIssue {
	where := fmt.Sprintf("row %d", row)
	if rec.Date != "" {
		where = rec.Date
	}
	msg := fmt.Sprintf("%s: missing value treated as zero for %s", where, c.field)
	if c.raw != "" {
		msg = fmt.Sprintf("%s: non-numeric value %q treated as zero for %s", where, c.raw, c.field)
	}
	return newIssue(SeverityInfo, StageNormalize, CodeMissingValue, row, c.field, msg)
}

func missingKeyIssue(row int, field, code, msg string) ValidationIssue {
	is := newIssue(SeverityError, StageNormalize, code, row, field, msg)
	is.Fix = dropRowFix(row)
	is.ManualCorrection = true
	return is
}

func valueTypeOf(t FieldType) ValueType {
	switch t {
	case FieldInt:
		return TypeInt
	case FieldPercent:
		return TypePercent
	case FieldDuration:
		return TypeDuration
	case FieldDate:
		return TypeDate
	case FieldString:
		return TypeString
	}
	return TypeFloat
}

// numericValue converts d for a field of type t. ok is false when d does
// not fit the field's representation.
func numericValue(t FieldType, d decimal.Decimal) (Value, bool) {
	if t == FieldInt {
		n, ok := Int64(d)
		return IntValue(n), ok
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) {
		return Value{}, false
	}
	if t == FieldPercent {
		return PercentValue(f), true
	}
	return FloatValue(f), true
}

func outOfRangeIssue(row int, col, field, raw string) ValidationIssue {
	is := newIssue(SeverityError, StageNormalize, CodeValueOutOfRange, row, field,
		fmt.Sprintf("row %d: %s %q is too large to store", row, col, raw))
	is.Fix = dropRowFix(row)
	is.ManualCorrection = true
	return is
}

// fallbackKey derives a stable id from the schema's fallback fields when
// all of them are present.
func fallbackKey(schema *Schema, rec *NormalizedRecord) string {
	if len(schema.KeyFallback) == 0 {
		return ""
	}
	parts := make([]string, 0, len(schema.KeyFallback))
	for _, name := range schema.KeyFallback {
		v, ok := rec.Fields[name]
		if !ok || !v.Populated() {
			return ""
		}
		parts = append(parts, strings.ToLower(v.String()))
	}
	return fmt.Sprintf("fp_%016x", xxhash.Sum64String(strings.Join(parts, "\x1f")))
}

// derive fills rate fields the file did not provide from their sources.
func derive(schema *Schema, rec *NormalizedRecord) {
	for _, d := range schema.Derived {
		if v, ok := rec.Fields[d.Field]; ok && v.Populated() {
			continue
		}
		var num decimal.Decimal
		found := false
		for _, name := range d.Numerator {
			if v, ok := rec.Fields[name]; ok && v.Populated() {
				f, _ := v.Number()
				num = num.Add(decimal.NewFromFloat(f))
				found = true
			}
		}
		if !found {
			continue
		}
		var den decimal.Decimal
		for _, name := range d.Denominator {
			if v, ok := rec.Fields[name]; ok && v.Populated() {
				if f, _ := v.Number(); f > 0 {
					den = decimal.NewFromFloat(f)
					break
				}
			}
		}
		if den.IsZero() {
			continue
		}
		out := num.Div(den).Mul(decimal.NewFromFloat(d.Scale)).Round(2).InexactFloat64()
		v := FloatValue(out)
		if d.Type == FieldPercent {
			v = PercentValue(out)
		}
		v.Derived = true
		rec.Fields[d.Field] = v
	}
}
