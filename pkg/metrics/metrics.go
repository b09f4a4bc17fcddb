// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const allResourceTypes = "*"

var (
	// ClearsTotal tracks clear operations by resource type and status
	ClearsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "clear",
			Name:      "operations_total",
			Help:      "Total number of link clear operations by resource type and status",
		},
		[]string{"resource_type", "status"},
	)

	// ClearDuration tracks clear duration in seconds
	ClearDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "clear",
			Name:      "duration_seconds",
			Help:      "Duration of link clear operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"resource_type"},
	)

	// LinksRemoved tracks links removed by clears
	LinksRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "clear",
			Name:      "links_removed_total",
			Help:      "Total number of links removed by clear operations",
		},
		[]string{"resource_type"},
	)

	// GoldenRecordsRemoved tracks golden records deleted because they lost their last link
	GoldenRecordsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "golden",
			Name:      "removed_total",
			Help:      "Total number of orphaned golden records removed",
		},
		[]string{"resource_type"},
	)

	// GoldenRecordsCreated tracks golden records created for unmatched sources
	GoldenRecordsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "golden",
			Name:      "created_total",
			Help:      "Total number of golden records created",
		},
		[]string{"resource_type"},
	)

	// LinkChangesTotal tracks link upserts and removals by action, outcome and source
	LinkChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "link",
			Name:      "changes_total",
			Help:      "Total number of link changes by action, match outcome and link source",
		},
		[]string{"action", "match_outcome", "link_source"},
	)

	// LinkLockWait tracks time spent waiting for a per-link lock
	LinkLockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "link",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for per-link locks in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// ConsumerMessagesTotal tracks consumed resource deletion messages
	ConsumerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_consumed_total",
			Help:      "Total number of resource deletion messages consumed",
		},
		[]string{"status"},
	)
)

func resourceTypeLabel(kind string) string {
	if kind == "" {
		return allResourceTypes
	}
	return kind
}

// RecordClear records a finished clear operation
func RecordClear(kind, status string, durationSeconds float64, linksRemoved, goldenRemoved int) {
	label := resourceTypeLabel(kind)
	ClearsTotal.WithLabelValues(label, status).Inc()
	ClearDuration.WithLabelValues(label).Observe(durationSeconds)
	if linksRemoved > 0 {
		LinksRemoved.WithLabelValues(label).Add(float64(linksRemoved))
	}
	if goldenRemoved > 0 {
		GoldenRecordsRemoved.WithLabelValues(label).Add(float64(goldenRemoved))
	}
}

// RecordGoldenCreated records a new golden record
func RecordGoldenCreated(kind string) {
	GoldenRecordsCreated.WithLabelValues(resourceTypeLabel(kind)).Inc()
}

// RecordGoldenRemoved records orphaned golden records removed outside a clear
func RecordGoldenRemoved(kind string, count int) {
	if count > 0 {
		GoldenRecordsRemoved.WithLabelValues(resourceTypeLabel(kind)).Add(float64(count))
	}
}

// RecordLinkChange records a link upsert or removal
func RecordLinkChange(action, outcome, source string) {
	LinkChangesTotal.WithLabelValues(action, outcome, source).Inc()
}

// RecordLockWait records how long a link lock took to acquire
func RecordLockWait(seconds float64) {
	LinkLockWait.Observe(seconds)
}

// RecordConsumedMessage records a consumed deletion message
func RecordConsumedMessage(status string) {
	ConsumerMessagesTotal.WithLabelValues(status).Inc()
}
