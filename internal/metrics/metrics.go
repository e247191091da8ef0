// Package metrics provides Prometheus metrics for the REM server.
// It tracks CAP feed construction, flood state changes, alert dispatch
// and storage latencies.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "rem"
)

// CAP metrics track the feature to alert transformation.
var (
	// CAPAlertsBuiltTotal counts features successfully turned into CAP alerts.
	CAPAlertsBuiltTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cap_alerts_built_total",
			Help:      "Total number of features converted into CAP alerts",
		},
	)

	// CAPAlertsSkippedTotal counts features that could not be converted, by reason.
	CAPAlertsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cap_alerts_skipped_total",
			Help:      "Total number of features skipped while building CAP alerts",
		},
		[]string{"reason"}, // reason: unsupported_geometry, interior_ring, unmapped_state, invalid_feature
	)

	// CAPFeedBuildLatency measures time to assemble one ATOM feed.
	CAPFeedBuildLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cap_feed_build_latency_seconds",
			Help:      "Time to assemble an ATOM feed of CAP alerts in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// State metrics track changes to flooded states.
var (
	// StateChangesTotal counts accepted flood state changes, labeled by new state.
	StateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Total number of flood state changes written",
		},
		[]string{"state"},
	)

	// StateChangesPublishedTotal counts state change events published to the queue.
	StateChangesPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_published_total",
			Help:      "Total number of state change events published to the message queue",
		},
		[]string{"status"}, // status: success, failure
	)

	// StateLogFailuresTotal counts state log inserts that failed after the state was written.
	StateLogFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_log_failures_total",
			Help:      "Total number of failed writes to the state change log",
		},
	)
)

// Dispatch metrics track alerts sent for state changes.
var (
	// AlertsDispatchedTotal counts dispatcher outcomes.
	AlertsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dispatched_total",
			Help:      "Total number of state change events handled by the dispatcher",
		},
		[]string{"result"}, // result: sent, duplicate, cleared, ignored, failed
	)

	// NotificationsSentTotal counts notifications sent.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications sent",
		},
		[]string{"status"}, // status: success, failure
	)

	// DispatchLatency measures time from a state change to its notification.
	DispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time from state change to alert notification in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Queue metrics track message queue health.
var (
	// QueuePublishLatency measures time to publish a message to the queue.
	QueuePublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_publish_latency_seconds",
			Help:      "Time to publish a message to the queue in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Storage metrics track database and cache operations.
var (
	// StorageOperationLatency measures latency of storage operations.
	StorageOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_latency_seconds",
			Help:      "Latency of storage operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"store", "operation"}, // store: postgres, redis
	)

	// StorageOperationsTotal counts storage operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"store", "operation", "status"}, // status: success, failure
	)
)

// ObserveStorage records the latency and outcome of one storage operation.
func ObserveStorage(store, operation string, seconds float64, err error) {
	StorageOperationLatency.WithLabelValues(store, operation).Observe(seconds)
	status := "success"
	if err != nil {
		status = "failure"
	}
	StorageOperationsTotal.WithLabelValues(store, operation, status).Inc()
}
