// Package observability registers Prometheus metrics for the reconciliation engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	duplicatesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "detector",
		Name:      "duplicate_pairs_detected_total",
		Help:      "Number of candidate duplicate pairs reported by detection passes.",
	})

	directivesResolved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "resolver",
		Name:      "directives_resolved_total",
		Help:      "Number of resolution directives applied successfully.",
	})

	directiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "resolver",
		Name:      "directive_errors_total",
		Help:      "Number of resolution directives that failed (not found, already resolved).",
	})

	sourceBackfilled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "migration",
		Name:      "source_backfilled_total",
		Help:      "Number of legacy activities patched with an inferred source tag.",
	})

	sourceRepaired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "migration",
		Name:      "source_repaired_total",
		Help:      "Number of activities whose source tag was repaired by the consistency cleanup.",
	})

	dedupRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reconciliation_service",
		Subsystem: "migration",
		Name:      "dedup_removed_total",
		Help:      "Number of duplicate records deleted by the automated dedup job.",
	})

	lastDedupRunGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reconciliation_service",
		Subsystem: "migration",
		Name:      "last_dedup_run_timestamp_seconds",
		Help:      "Unix timestamp of the most recent automated dedup run.",
	})
)

func init() {
	prometheus.MustRegister(
		duplicatesDetected,
		directivesResolved,
		directiveErrors,
		sourceBackfilled,
		sourceRepaired,
		dedupRemoved,
		lastDedupRunGauge,
	)
}

// RecordDuplicatesDetected counts pairs reported by one detection pass.
func RecordDuplicatesDetected(pairs int) {
	if pairs > 0 {
		duplicatesDetected.Add(float64(pairs))
	}
}

// RecordResolution counts the outcome of one resolution batch.
func RecordResolution(resolved, errors int) {
	if resolved > 0 {
		directivesResolved.Add(float64(resolved))
	}
	if errors > 0 {
		directiveErrors.Add(float64(errors))
	}
}

// RecordSourceBackfilled counts records patched by the backfill job.
func RecordSourceBackfilled(count int) {
	if count > 0 {
		sourceBackfilled.Add(float64(count))
	}
}

// RecordSourceRepaired counts records retagged by the consistency cleanup.
func RecordSourceRepaired(count int) {
	if count > 0 {
		sourceRepaired.Add(float64(count))
	}
}

// RecordDedupRun updates the dedup counters and the run watermark.
func RecordDedupRun(removed int, ranAt time.Time) {
	if removed > 0 {
		dedupRemoved.Add(float64(removed))
	}
	if !ranAt.IsZero() {
		lastDedupRunGauge.Set(float64(ranAt.Unix()))
	}
}
