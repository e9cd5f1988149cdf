package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "auditd_ingest"
	jobName   = "auditd_ingest"
)

// IngestMetrics holds the Prometheus metrics of one ingestion run.
type IngestMetrics struct {
	registry *prometheus.Registry

	FilesTotal         *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec
	RunNumber          prometheus.Gauge
	LastEventTimestamp prometheus.Gauge
	RunDuration        prometheus.Histogram
}

// NewIngestMetrics creates the metrics on a registry of their own. A batch
// run pushes them instead of being scraped.
func NewIngestMetrics() *IngestMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &IngestMetrics{
		registry: reg,
		FilesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Total number of candidate log files by outcome.",
		}, []string{"status"}), // status: parsed, skipped, failed
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of audit events by outcome.",
		}, []string{"status"}), // status: ingested, skipped, malformed
		RunNumber: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_number",
			Help:      "Run number assigned to the current invocation.",
		}),
		LastEventTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Event timestamp of the last ingested record.",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of an ingestion run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
}

// ObserveRun records the duration of a run that started at start.
func (m *IngestMetrics) ObserveRun(start time.Time) {
	m.RunDuration.Observe(time.Since(start).Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *IngestMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Push sends the current values to a Prometheus Pushgateway.
func (m *IngestMetrics) Push(ctx context.Context, gatewayURL string) error {
	if err := push.New(gatewayURL, jobName).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
