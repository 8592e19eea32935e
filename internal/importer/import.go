// Package importer drives uploads through the datanorm pipeline, holds
// them until the caller proceeds, then commits the reconciled records and
// triggers the advisory check.
package importer

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/smart-import/internal/advisory"
	"github.com/ignite/smart-import/internal/datanorm"
)

// State of an import. Transitions only move forward, except that fixes on
// an import awaiting proceed re-enter validating for the touched file.
type State string

const (
	StateDecoding        State = "decoding"
	StateClassifying     State = "classifying"
	StateNormalizing     State = "normalizing"
	StateValidating      State = "validating"
	StateAwaitingProceed State = "awaiting_proceed"
	StateReconciling     State = "reconciling"
	StateCommitting      State = "committing"
	StateDone            State = "done"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further operation is accepted.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled
}

var (
	ErrNoFiles          = errors.New("no files to import")
	ErrNotFound         = errors.New("import not found")
	ErrFileNotFound     = errors.New("file not found in import")
	ErrInvalidState     = errors.New("operation not allowed in current state")
	ErrUnresolvedErrors = errors.New("import has unresolved errors")
	ErrLocked           = errors.New("import is locked by another request")
)

// Import is one upload batch and its per-file validation state.
type Import struct {
	ID        string                           `json:"id"`
	ClientID  string                           `json:"client_id"`
	State     State                            `json:"state"`
	Files     []*datanorm.FileValidationResult `json:"files"`
	Outcome   *Outcome                         `json:"outcome,omitempty"`
	CreatedAt time.Time                        `json:"created_at"`
	UpdatedAt time.Time                        `json:"updated_at"`
}

// HasBlockingErrors reports whether any unskipped file still has an
// error-severity issue.
func (im *Import) HasBlockingErrors() bool {
	for _, f := range im.Files {
		if f.HasBlockingErrors() {
			return true
		}
	}
	return false
}

// BlockingFiles names the files that prevent proceeding.
func (im *Import) BlockingFiles() []string {
	var out []string
	for _, f := range im.Files {
		if f.HasBlockingErrors() {
			out = append(out, f.SourceFileName)
		}
	}
	return out
}

// File returns the result at upload index idx.
func (im *Import) File(idx int) (*datanorm.FileValidationResult, error) {
	if idx < 0 || idx >= len(im.Files) {
		return nil, fmt.Errorf("%w: index %d", ErrFileNotFound, idx)
	}
	return im.Files[idx], nil
}

// GroupResult reports the commit of one content kind.
type GroupResult struct {
	Kind      datanorm.ContentKind `json:"kind"`
	Table     string               `json:"table"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Error     string               `json:"error,omitempty"`
}

// FileSummary is the per-file line of an outcome.
type FileSummary struct {
	File       string                    `json:"file"`
	Platform   datanorm.Platform         `json:"platform"`
	Kind       datanorm.ContentKind      `json:"kind"`
	Confidence float64                   `json:"confidence"`
	Records    int                       `json:"records"`
	Issues     map[datanorm.Severity]int `json:"issues"`
	Skipped    bool                      `json:"skipped,omitempty"`
}

// Outcome is the result of a proceeded import.
type Outcome struct {
	ImportID        string                                      `json:"import_id"`
	State           State                                       `json:"state"`
	FilesProcessed  int                                         `json:"files_processed"`
	RecordsImported int                                         `json:"records_imported"`
	RecordsFailed   int                                         `json:"records_failed"`
	DateRange       *datanorm.DateRange                         `json:"date_range,omitempty"`
	ContentKinds    []datanorm.ContentKind                      `json:"content_kinds"`
	PerFileResults  []FileSummary                               `json:"per_file_results"`
	Groups          []GroupResult                               `json:"groups"`
	Totals          map[datanorm.ContentKind]map[string]float64 `json:"totals,omitempty"`
	Advisory        []*advisory.Report                          `json:"advisory,omitempty"`
}

// PartialFailure reports whether any commit group lost records.
func (o *Outcome) PartialFailure() bool {
	for _, g := range o.Groups {
		if g.Failed > 0 || g.Error != "" {
			return true
		}
	}
	return false
}

func summarizeFile(r *datanorm.FileValidationResult) FileSummary {
	return FileSummary{
		File:       r.SourceFileName,
		Platform:   r.Platform,
		Kind:       r.DetectedType,
		Confidence: r.Confidence,
		Records:    len(r.NormalizedData),
		Issues:     r.IssueCounts(),
		Skipped:    r.Skipped,
	}
}
