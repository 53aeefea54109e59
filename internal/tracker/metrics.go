package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEventsTracked      = "pulse_events_tracked_total"
	MetricEventsDeduplicated = "pulse_events_deduplicated_total"
	MetricFlushesTotal       = "pulse_flushes_total"
	MetricFlushErrorsTotal   = "pulse_flush_errors_total"
	MetricFlushBatchSize     = "pulse_flush_batch_size"
	MetricFunnelAdvancements = "pulse_funnel_advancements_total"
	MetricFunnelCompletions  = "pulse_funnel_completions_total"
	MetricActiveTrackers     = "pulse_active_trackers"
	MetricTrackersEvicted    = "pulse_trackers_evicted_total"
)

// Metrics contains Prometheus metrics for the event pipeline.
// All operations are thread-safe.
type Metrics struct {
	eventsTracked      *prometheus.CounterVec
	eventsDeduplicated *prometheus.CounterVec
	flushesTotal       *prometheus.CounterVec
	flushErrorsTotal   *prometheus.CounterVec
	flushBatchSize     prometheus.Histogram
	funnelAdvancements *prometheus.CounterVec
	funnelCompletions  *prometheus.CounterVec
	activeTrackers     prometheus.Gauge
	trackersEvicted    prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsTracked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsTracked,
				Help: "Total number of events accepted into the queue by event type",
			},
			[]string{"event_type"},
		),
		eventsDeduplicated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEventsDeduplicated,
				Help: "Total number of events discarded as duplicates within the dedupe window",
			},
			[]string{"event_type"},
		),
		flushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFlushesTotal,
				Help: "Total number of batch inserts issued by record kind",
			},
			[]string{"kind"},
		),
		flushErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFlushErrorsTotal,
				Help: "Total number of failed batch inserts by record kind",
			},
			[]string{"kind"},
		),
		flushBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricFlushBatchSize,
				Help:    "Histogram of records per flush",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		funnelAdvancements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFunnelAdvancements,
				Help: "Total number of funnel step advancements by funnel",
			},
			[]string{"funnel_id"},
		),
		funnelCompletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricFunnelCompletions,
				Help: "Total number of funnel completions by funnel",
			},
			[]string{"funnel_id"},
		),
		activeTrackers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricActiveTrackers,
				Help: "Number of live per-session trackers",
			},
		),
		trackersEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricTrackersEvicted,
				Help: "Total number of trackers evicted after the idle TTL",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.eventsTracked,
		m.eventsDeduplicated,
		m.flushesTotal,
		m.flushErrorsTotal,
		m.flushBatchSize,
		m.funnelAdvancements,
		m.funnelCompletions,
		m.activeTrackers,
		m.trackersEvicted,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncEventsTracked increments the tracked-events counter for an event type.
func (m *Metrics) IncEventsTracked(eventType string) {
	m.eventsTracked.WithLabelValues(eventType).Inc()
}

// IncEventsDeduplicated increments the deduplicated-events counter.
func (m *Metrics) IncEventsDeduplicated(eventType string) {
	m.eventsDeduplicated.WithLabelValues(eventType).Inc()
}

// IncFlushes increments the flush counter for a record kind.
func (m *Metrics) IncFlushes(kind string) {
	m.flushesTotal.WithLabelValues(kind).Inc()
}

// IncFlushErrors increments the flush-error counter for a record kind.
func (m *Metrics) IncFlushErrors(kind string) {
	m.flushErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveBatchSize records the size of a flushed batch.
func (m *Metrics) ObserveBatchSize(n int) {
	m.flushBatchSize.Observe(float64(n))
}

// IncFunnelAdvancements increments the advancement counter for a funnel.
func (m *Metrics) IncFunnelAdvancements(funnelID string) {
	m.funnelAdvancements.WithLabelValues(funnelID).Inc()
}

// IncFunnelCompletions increments the completion counter for a funnel.
func (m *Metrics) IncFunnelCompletions(funnelID string) {
	m.funnelCompletions.WithLabelValues(funnelID).Inc()
}

// SetActiveTrackers sets the live tracker gauge.
func (m *Metrics) SetActiveTrackers(n int) {
	m.activeTrackers.Set(float64(n))
}

// IncTrackersEvicted increments the eviction counter.
func (m *Metrics) IncTrackersEvicted() {
	m.trackersEvicted.Inc()
}
