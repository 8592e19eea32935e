package advisory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/smart-import/internal/datanorm"
)

// LocalAdvisor builds a deterministic report from the request alone. It is
// the fallback whenever a remote provider fails or times out.
type LocalAdvisor struct {
	Now func() time.Time
}

func (LocalAdvisor) Name() string { return "local" }

func (a LocalAdvisor) Analyze(_ context.Context, req Request) (*Report, error) {
	return a.Report(req), nil
}

// Report never fails.
func (a LocalAdvisor) Report(req Request) *Report {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	r := &Report{
		Platform:    req.Platform,
		Status:      StatusSuccess,
		Provider:    a.Name(),
		GeneratedAt: now().UTC(),
		Stats: map[string]any{
			"imported_count": req.ImportedCount,
			"failed_count":   req.FailedCount,
			"content_types":  len(req.ImportTypes),
		},
	}

	kinds := make([]string, 0, len(req.ImportTypes))
	for _, k := range req.ImportTypes {
		kinds = append(kinds, string(k))
	}
	if req.FileName != "" {
		r.Details = append(r.Details, fmt.Sprintf("Imported %d records from %s", req.ImportedCount, req.FileName))
	} else {
		r.Details = append(r.Details, fmt.Sprintf("Imported %d records", req.ImportedCount))
	}
	if len(kinds) > 0 {
		r.Details = append(r.Details, "Content types: "+strings.Join(kinds, ", "))
	}

	if req.DateRange != nil {
		days := spanDays(*req.DateRange)
		r.Stats["days"] = days
		r.Details = append(r.Details, fmt.Sprintf("Date range: %s to %s (%d days)", req.DateRange.Start, req.DateRange.End, days))
		if days > 0 && days < 7 {
			r.Recommendations = append(r.Recommendations, "Upload at least a week of daily data for trend analysis")
		}
	}

	if req.ImportedCount == 0 {
		r.Status = StatusError
		r.Issues = append(r.Issues, "No records were imported")
		r.Recommendations = append(r.Recommendations, "Check the validation report and re-upload the files")
	}
	if req.FailedCount > 0 {
		r.escalate(StatusWarning)
		r.Issues = append(r.Issues, fmt.Sprintf("%d records failed to commit", req.FailedCount))
		r.Recommendations = append(r.Recommendations, "Retry the import; successfully written records are kept")
	}
	for _, kind := range sortedKinds(req.Totals) {
		if allZero(req.Totals[kind]) {
			r.escalate(StatusWarning)
			r.Issues = append(r.Issues, fmt.Sprintf("All metric totals for %s are zero", kind))
		}
	}

	switch r.Status {
	case StatusSuccess:
		r.Summary = fmt.Sprintf("Import of %d records looks healthy", req.ImportedCount)
	case StatusWarning:
		r.Summary = fmt.Sprintf("Import of %d records completed with %d warnings", req.ImportedCount, len(r.Issues))
	default:
		r.Summary = "Import did not produce any records"
	}
	return r
}

func (r *Report) escalate(s Status) {
	if r.Status == StatusSuccess {
		r.Status = s
	}
}

func spanDays(dr datanorm.DateRange) int {
	start, err1 := time.Parse("2006-01-02", dr.Start)
	end, err2 := time.Parse("2006-01-02", dr.End)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

func sortedKinds(m map[datanorm.ContentKind]map[string]float64) []datanorm.ContentKind {
	out := make([]datanorm.ContentKind, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func allZero(totals map[string]float64) bool {
	if len(totals) == 0 {
		return false
	}
	for _, v := range totals {
		if v != 0 {
			return false
		}
	}
	return true
}
