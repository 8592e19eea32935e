package datanorm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NewFileResult starts the validation state of one uploaded file.
func NewFileResult(clientID string, f RawFile, uploadOrder int) *FileValidationResult {
	return &FileValidationResult{
		SourceFileName: f.Name,
		ClientID:       clientID,
		Platform:       f.Platform,
		UploadOrder:    uploadOrder,
		Format:         f.Format,
		Checksum:       Checksum(f.Data),
		DetectedType:   KindUnknown,
	}
}

// Checksum is the content fingerprint used to spot repeated uploads.
func Checksum(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// DecodeFile fills headers and raw rows from the file bytes. A file that
// cannot be decoded gets a blocking issue with a skip fix.
func DecodeFile(r *FileValidationResult, data []byte) {
	table, err := Decode(data, r.Format)
	if err != nil {
		reason := err.Error()
		var de *DecodeError
		if errors.As(err, &de) {
			reason = de.Reason
		}
		is := newIssue(SeverityError, StageDecode, CodeDecodeFailed, 0, "",
			fmt.Sprintf("could not read %s: %s", r.SourceFileName, reason))
		is.Fix = skipFileFix()
		r.addIssue(is)
		return
	}
	r.Format = table.Format
	r.Headers = table.Headers
	r.RawData = table.Rows
	for _, is := range table.Issues {
		r.addIssue(is)
	}
}

// ClassifyFile assigns the content kind from the decoded headers.
func ClassifyFile(r *FileValidationResult, c *Classifier) {
	r.removeIssues(func(is ValidationIssue) bool { return is.Stage != StageClassify })
	if len(r.Headers) == 0 {
		r.DetectedType, r.Confidence = KindUnknown, 0
		return
	}
	cl := c.Classify(r.Platform, r.Headers)
	r.DetectedType, r.Confidence = cl.Kind, cl.Confidence
	if cl.Kind != KindUnknown {
		return
	}
	is := newIssue(SeverityError, StageClassify, CodeUnknownKind, 0, "",
		fmt.Sprintf("could not determine the content type of %s from headers: %s", r.SourceFileName, strings.Join(r.Headers, ", ")))
	is.Fix = skipFileFix()
	is.ManualCorrection = true
	r.addIssue(is)
}

// ValidateFile runs decode, classify, normalize and validate on one file.
// Failures are reported as issues on the result, never as errors.
func ValidateFile(clientID string, f RawFile, uploadOrder int, c *Classifier, opts Options) *FileValidationResult {
	r := NewFileResult(clientID, f, uploadOrder)
	DecodeFile(r, f.Data)
	if r.HasBlockingErrors() {
		return r
	}
	ClassifyFile(r, c)
	_ = NormalizeFile(r)
	Validate(r, opts)
	return r
}

// SetKind overrides the classified kind and re-runs normalization and
// validation for the file.
func SetKind(r *FileValidationResult, kind ContentKind, opts Options) error {
	if _, ok := SchemaFor(kind); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(r.Headers) == 0 {
		return fmt.Errorf("file %s has no decoded data", r.SourceFileName)
	}
	r.Skipped = false
	r.removeIssues(func(is ValidationIssue) bool { return is.Stage != StageClassify && is.Code != CodeFileSkipped })
	r.DetectedType, r.Confidence = kind, 1
	for i := range r.RawData {
		r.RawData[i].Dropped = false
	}
	if err := NormalizeFile(r); err != nil {
		return err
	}
	Validate(r, opts)
	return nil
}

// MarkDuplicate flags r as a byte-identical repeat of an earlier upload in
// the same batch. The issue belongs to the decode stage so re-validation
// keeps it until the file is skipped.
func MarkDuplicate(r *FileValidationResult, original string) {
	is := newIssue(SeverityWarning, StageDecode, CodeDuplicateFile, 0, "",
		fmt.Sprintf("%s has the same content as %s", r.SourceFileName, original))
	is.Fix = skipFileFix()
	r.addIssue(is)
	r.sortIssues()
}
