// Package advisory runs the post-import sanity check. Reports are for
// display only and never affect whether an import succeeded.
package advisory

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/smart-import/internal/datanorm"
)

// Status of an advisory report.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

func (s Status) valid() bool {
	switch s {
	case StatusSuccess, StatusWarning, StatusError:
		return true
	}
	return false
}

// ErrUnavailable wraps every provider failure.
var ErrUnavailable = errors.New("advisory unavailable")

// Request carries the statistics of one committed import.
type Request struct {
	ClientID      string                                      `json:"clientId"`
	Platform      datanorm.Platform                           `json:"platform"`
	ImportedCount int                                         `json:"importedCount"`
	FailedCount   int                                         `json:"failedCount,omitempty"`
	DateRange     *datanorm.DateRange                         `json:"dateRange,omitempty"`
	ImportTypes   []datanorm.ContentKind                      `json:"importTypes"`
	FileName      string                                      `json:"fileName"`
	Totals        map[datanorm.ContentKind]map[string]float64 `json:"totals,omitempty"`
}

// Report is the narrative health check returned for one platform.
type Report struct {
	Platform        datanorm.Platform `json:"platform"`
	Status          Status            `json:"status"`
	Summary         string            `json:"summary"`
	Details         []string          `json:"details"`
	Issues          []string          `json:"issues"`
	Recommendations []string          `json:"recommendations"`
	Stats           map[string]any    `json:"stats,omitempty"`
	Provider        string            `json:"provider"`
	GeneratedAt     time.Time         `json:"generated_at"`
}

// Advisor analyzes an import.
type Advisor interface {
	Analyze(ctx context.Context, req Request) (*Report, error)
	Name() string
}
