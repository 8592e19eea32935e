package main

import (
	"encoding/json"
	"io"

	"github.com/ignite/smart-import/internal/datanorm"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type issueLine struct {
	ID       string            `json:"id"`
	Severity datanorm.Severity `json:"severity"`
	Message  string            `json:"message"`
	Fix      string            `json:"fix,omitempty"`
}

// fileReport is the compact per-file view printed by validate and import.
type fileReport struct {
	File       string               `json:"file"`
	Platform   datanorm.Platform    `json:"platform"`
	Kind       datanorm.ContentKind `json:"kind"`
	Confidence float64              `json:"confidence"`
	Rows       int                  `json:"rows"`
	Records    int                  `json:"records"`
	Blocking   bool                 `json:"blocking"`
	Skipped    bool                 `json:"skipped,omitempty"`
	Issues     []issueLine          `json:"issues,omitempty"`
}

func reportFile(r *datanorm.FileValidationResult) fileReport {
	rep := fileReport{
		File:       r.SourceFileName,
		Platform:   r.Platform,
		Kind:       r.DetectedType,
		Confidence: r.Confidence,
		Rows:       len(r.RawData),
		Records:    len(r.NormalizedData),
		Blocking:   r.HasBlockingErrors(),
		Skipped:    r.Skipped,
	}
	for _, is := range r.Issues {
		line := issueLine{ID: is.ID, Severity: is.Severity, Message: is.Message}
		if is.Fix != nil {
			line.Fix = string(is.Fix.Action)
		}
		rep.Issues = append(rep.Issues, line)
	}
	return rep
}
