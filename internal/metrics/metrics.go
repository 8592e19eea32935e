// Package metrics exposes Prometheus instrumentation for the import pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/smart-import/internal/datanorm"
)

var (
	filesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smart_import",
		Subsystem: "pipeline",
		Name:      "files_total",
		Help:      "Files run through validation, by detected content kind.",
	}, []string{"kind"})

	issuesRaised = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smart_import",
		Subsystem: "pipeline",
		Name:      "issues_total",
		Help:      "Validation issues raised, by severity and code.",
	}, []string{"severity", "code"})

	recordsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smart_import",
		Subsystem: "commit",
		Name:      "records_total",
		Help:      "Records written to the record store, by kind and result.",
	}, []string{"kind", "result"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smart_import",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall time spent per pipeline stage.",
		Buckets: []float64{
			0.001, 0.005, 0.01, 0.05,
			0.1, 0.25, 0.5, 1,
			2.5, 5, 10, 30,
		},
	}, []string{"stage"})

	advisoryResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smart_import",
		Subsystem: "advisory",
		Name:      "reports_total",
		Help:      "Advisory reports, by provider and whether the local fallback was used.",
	}, []string{"provider", "result"})
)

// ObserveFile records one validated file and its issues.
func ObserveFile(r *datanorm.FileValidationResult) {
	filesValidated.WithLabelValues(string(r.DetectedType)).Inc()
	for _, is := range r.Issues {
		issuesRaised.WithLabelValues(string(is.Severity), is.Code).Inc()
	}
}

// ObserveCommit records the outcome of one commit group.
func ObserveCommit(kind datanorm.ContentKind, succeeded, failed int) {
	recordsCommitted.WithLabelValues(string(kind), "ok").Add(float64(succeeded))
	recordsCommitted.WithLabelValues(string(kind), "failed").Add(float64(failed))
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveAdvisory records whether the provider answered or the fallback ran.
func ObserveAdvisory(provider string, fallback bool) {
	result := "ok"
	if fallback {
		result = "fallback"
	}
	advisoryResults.WithLabelValues(provider, result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
