package datanorm

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Platform is the declared source of an uploaded export.
type Platform string

const (
	PlatformInstagram  Platform = "instagram"
	PlatformYouTube    Platform = "youtube"
	PlatformTwitter    Platform = "twitter"
	PlatformNewsletter Platform = "newsletter"
	PlatformLinkedIn   Platform = "linkedin"
	PlatformMetaAds    Platform = "meta_ads"
)

var platforms = []Platform{
	PlatformInstagram, PlatformYouTube, PlatformTwitter,
	PlatformNewsletter, PlatformLinkedIn, PlatformMetaAds,
}

// ErrUnknownPlatform is returned by ParsePlatform for unsupported values.
var ErrUnknownPlatform = errors.New("unknown platform")

// ParsePlatform validates a platform string. "x" is accepted as an alias for twitter.
func ParsePlatform(s string) (Platform, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "x" {
		return PlatformTwitter, nil
	}
	for _, p := range platforms {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, s)
}

// ContentKind is the inferred category of one uploaded file.
type ContentKind string

const (
	KindReach                 ContentKind = "reach"
	KindFollowers             ContentKind = "followers"
	KindViews                 ContentKind = "views"
	KindInteractions          ContentKind = "interactions"
	KindProfileVisits         ContentKind = "profile_visits"
	KindLinkClicks            ContentKind = "link_clicks"
	KindPosts                 ContentKind = "posts"
	KindStories               ContentKind = "stories"
	KindYouTubeDailyViews     ContentKind = "youtube_daily_views"
	KindYouTubeVideos         ContentKind = "youtube_videos_published"
	KindNewsletterDaily       ContentKind = "newsletter_daily_performance"
	KindNewsletterPosts       ContentKind = "newsletter_posts"
	KindNewsletterSubscribers ContentKind = "newsletter_subscribers"
	KindCampaigns             ContentKind = "campaigns"
	KindAdSets                ContentKind = "adsets"
	KindAds                   ContentKind = "ads"
	KindUnknown               ContentKind = "unknown"
)

// ErrUnknownKind is returned when a kind string has no schema.
var ErrUnknownKind = errors.New("unknown content kind")

// ParseKind resolves a kind string to a kind with a registered schema.
func ParseKind(s string) (ContentKind, error) {
	k := ContentKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := schemas[k]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Format is the container format of a raw file.
type Format string

const (
	FormatAuto Format = ""
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// RawFile is one uploaded file as received from the caller.
type RawFile struct {
	Name     string
	Platform Platform
	Data     []byte
	Format   Format
}

// RawRow is one decoded data line. Index is the 1-based data row number
// (the header line is not counted). Column order lives in Table.Headers.
type RawRow struct {
	Index     int               `json:"index"`
	Values    map[string]string `json:"values"`
	Malformed bool              `json:"malformed,omitempty"`
	Dropped   bool              `json:"dropped,omitempty"`
}

// Clone returns a deep copy so fixes never alias the source row.
func (r RawRow) Clone() RawRow {
	values := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}

// ValueType tags the typed payload of a Value.
type ValueType string

const (
	TypeInt      ValueType = "int"
	TypeFloat    ValueType = "float"
	TypePercent  ValueType = "percent"
	TypeDate     ValueType = "date"
	TypeDuration ValueType = "duration"
	TypeString   ValueType = "string"
)

// Value is a normalized cell. Numeric values imputed from empty or
// unparseable cells carry Imputed=true and are never treated as populated.
type Value struct {
	Type    ValueType `json:"type"`
	Int     int64     `json:"int,omitempty"`
	Float   float64   `json:"float,omitempty"`
	Text    string    `json:"text,omitempty"`
	Imputed bool      `json:"imputed,omitempty"`
	Derived bool      `json:"derived,omitempty"`
}

func IntValue(n int64) Value { return Value{Type: TypeInt, Int: n} }
func FloatValue(f float64) Value { return Value{Type: TypeFloat, Float: f} }
func PercentValue(f float64) Value { return Value{Type: TypePercent, Float: f} }
func DurationValue(secs int64) Value { return Value{Type: TypeDuration, Int: secs} }
func DateValue(iso string) Value { return Value{Type: TypeDate, Text: iso} }
func StringValue(s string) Value { return Value{Type: TypeString, Text: s} }

// Populated reports whether the value carries real source data.
func (v Value) Populated() bool {
	if v.Imputed {
		return false
	}
	switch v.Type {
	case TypeString, TypeDate:
		return v.Text != ""
	}
	return true
}

// Number returns the numeric payload. ok is false for text values.
func (v Value) Number() (float64, bool) {
	switch v.Type {
	case TypeInt, TypeDuration:
		return float64(v.Int), true
	case TypeFloat, TypePercent:
		return v.Float, true
	}
	return 0, false
}

// Equal compares payloads, ignoring the imputed and derived flags.
func (v Value) Equal(o Value) bool {
	if a, ok := v.Number(); ok {
		b, ok := o.Number()
		return ok && math.Abs(a-b) < 1e-9
	}
	return v.Type == o.Type && v.Text == o.Text
}

// Interface returns the value as a plain Go value for JSON storage.
func (v Value) Interface() any {
	switch v.Type {
	case TypeInt, TypeDuration:
		return v.Int
	case TypeFloat, TypePercent:
		return v.Float
	}
	return v.Text
}

func (v Value) String() string {
	switch v.Type {
	case TypeInt, TypeDuration:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat, TypePercent:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	}
	return v.Text
}

// NormalizedRecord is a canonical, typed record ready for reconciliation.
// Daily kinds are keyed by Date, entity kinds by ExternalID.
type NormalizedRecord struct {
	ClientID    string            `json:"client_id"`
	Platform    Platform          `json:"platform"`
	Kind        ContentKind       `json:"kind"`
	Table       string            `json:"table"`
	Date        string            `json:"date,omitempty"`
	ExternalID  string            `json:"external_id,omitempty"`
	Fields      map[string]Value  `json:"fields"`
	Extra       map[string]string `json:"extra,omitempty"`
	RowIndex    int               `json:"row_index"`
	SourceFile  string            `json:"source_file"`
	UploadOrder int               `json:"upload_order"`
}

// Daily reports whether the record belongs to a time-series kind.
func (r *NormalizedRecord) Daily() bool {
	s, ok := schemas[r.Kind]
	return ok && s.Daily
}

// Key identifies the record within one import. Entity keys include the
// target table so ids from unrelated entity kinds never collide.
func (r *NormalizedRecord) Key() string {
	if r.Daily() {
		return strings.Join([]string{r.ClientID, string(r.Platform), string(r.Kind), r.Date}, "|")
	}
	return strings.Join([]string{r.ClientID, string(r.Platform), r.Table, r.ExternalID}, "|")
}

// PopulatedCount counts fields holding real source data.
func (r *NormalizedRecord) PopulatedCount() int {
	n := 0
	for _, v := range r.Fields {
		if v.Populated() && !v.Derived {
			n++
		}
	}
	return n
}

// Clone deep-copies the field maps.
func (r NormalizedRecord) Clone() NormalizedRecord {
	fields := make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	r.Fields = fields
	if r.Extra != nil {
		extra := make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			extra[k] = v
		}
		r.Extra = extra
	}
	return r
}

// Severity of a validation issue. Only SeverityError blocks proceeding.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Stage names the pipeline step that raised an issue.
type Stage string

const (
	StageDecode    Stage = "decode"
	StageClassify  Stage = "classify"
	StageNormalize Stage = "normalize"
	StageValidate  Stage = "validate"
	StageReconcile Stage = "reconcile"
)

// Issue codes.
const (
	CodeDecodeFailed          = "decode_failed"
	CodeMalformedRow          = "malformed_row"
	CodeExtraCells            = "extra_cells"
	CodeUnknownKind           = "unknown_kind"
	CodeDuplicateFile         = "duplicate_file"
	CodeMissingValue          = "missing_value"
	CodeInvalidDate           = "invalid_date"
	CodeMissingKey            = "missing_key"
	CodeMissingRequired       = "missing_required"
	CodeMissingRequiredColumn = "missing_required_column"
	CodeDuplicateKey          = "duplicate_key"
	CodeDateGap               = "date_gap"
	CodeNegativeValue         = "negative_value"
	CodeRateOutOfRange        = "rate_out_of_range"
	CodeValueOutOfRange       = "value_out_of_range"
	CodeFutureDate            = "future_date"
	CodeInvertedRange         = "inverted_range"
	CodeConflict              = "reconcile_conflict"
	CodeNonCanonicalDate      = "non_canonical_date"
	CodeFileSkipped           = "file_skipped"
)

// ValidationIssue is one finding about a file or row. Row 0 means file level.
type ValidationIssue struct {
	ID               string   `json:"id"`
	Severity         Severity `json:"severity"`
	Code             string   `json:"code"`
	Stage            Stage    `json:"stage"`
	File             string   `json:"file,omitempty"`
	Row              int      `json:"row,omitempty"`
	Field            string   `json:"field,omitempty"`
	Message          string   `json:"message"`
	Fix              *Fix     `json:"fix,omitempty"`
	ManualCorrection bool     `json:"manual_correction,omitempty"`
}

func newIssue(sev Severity, stage Stage, code string, row int, field, msg string) ValidationIssue {
	return ValidationIssue{
		ID:       issueID(code, row, field),
		Severity: sev,
		Code:     code,
		Stage:    stage,
		Row:      row,
		Field:    field,
		Message:  msg,
	}
}

func issueID(code string, row int, field string) string {
	return fmt.Sprintf("%s:%d:%s", code, row, field)
}

// FileValidationResult is the per-file validation state. It is owned by a
// single worker until reconciliation.
type FileValidationResult struct {
	SourceFileName string             `json:"source_file_name"`
	ClientID       string             `json:"client_id"`
	Platform       Platform           `json:"platform"`
	UploadOrder    int                `json:"upload_order"`
	Format         Format             `json:"format"`
	Checksum       string             `json:"checksum"`
	DetectedType   ContentKind        `json:"detected_type"`
	Confidence     float64            `json:"confidence"`
	Headers        []string           `json:"headers"`
	RawData        []RawRow           `json:"raw_data"`
	NormalizedData []NormalizedRecord `json:"normalized_data"`
	Issues         []ValidationIssue  `json:"issues"`
	Skipped        bool               `json:"skipped,omitempty"`
}

// HasBlockingErrors reports whether an error-severity issue remains on a
// file that has not been skipped.
func (r *FileValidationResult) HasBlockingErrors() bool {
	if r.Skipped {
		return false
	}
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// IssueCounts tallies issues by severity.
func (r *FileValidationResult) IssueCounts() map[Severity]int {
	out := map[Severity]int{}
	for _, is := range r.Issues {
		out[is.Severity]++
	}
	return out
}

// FindIssue returns the issue with the given id.
func (r *FileValidationResult) FindIssue(id string) (ValidationIssue, bool) {
	for _, is := range r.Issues {
		if is.ID == id {
			return is, true
		}
	}
	return ValidationIssue{}, false
}

func (r *FileValidationResult) addIssue(is ValidationIssue) {
	is.File = r.SourceFileName
	r.Issues = append(r.Issues, is)
}

func (r *FileValidationResult) removeIssues(keep func(ValidationIssue) bool) {
	out := r.Issues[:0]
	for _, is := range r.Issues {
		if keep(is) {
			out = append(out, is)
		}
	}
	r.Issues = out
}

// sortIssues orders issues by row, then severity (errors first), then id.
func (r *FileValidationResult) sortIssues() {
	rank := map[Severity]int{SeverityError: 0, SeverityWarning: 1, SeverityInfo: 2}
	sort.SliceStable(r.Issues, func(i, j int) bool {
		a, b := r.Issues[i], r.Issues[j]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if rank[a.Severity] != rank[b.Severity] {
			return rank[a.Severity] < rank[b.Severity]
		}
		return a.ID < b.ID
	})
}

func (r *FileValidationResult) rowByIndex(idx int) (int, bool) {
	for i := range r.RawData {
		if r.RawData[i].Index == idx {
			return i, true
		}
	}
	return -1, false
}

// DateRange is an inclusive span of canonical dates.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DecodeError is returned by Decode when a file yields no usable table.
type DecodeError struct {
	File   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.File == "" {
		return "decode: " + e.Reason
	}
	return fmt.Sprintf("decode %s: %s", e.File, e.Reason)
}
