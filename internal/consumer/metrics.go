package consumer

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Metrics tracks ingestion health. A run of consecutive skips past the
// configured threshold raises the degraded-liveness gauge for operators;
// ingestion itself never halts.
type Metrics struct {
	Parsed   prometheus.Counter
	Skipped  prometheus.Counter
	Deduped  prometheus.Counter
	Appended prometheus.Counter
	Degraded prometheus.Gauge

	skipThreshold    int64
	consecutiveSkips atomic.Int64
}

// NewMetrics registers the ingestion metrics on the given registerer
func NewMetrics(reg prometheus.Registerer, skipThreshold int) *Metrics {
	m := &Metrics{
		Parsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_parsed_total",
			Help: "Events parsed from the bus and accepted for ingestion.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_skipped_total",
			Help: "Malformed or id-less bus messages dropped.",
		}),
		Deduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_deduped_total",
			Help: "Duplicate event ids suppressed within the dedup window.",
		}),
		Appended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_events_appended_total",
			Help: "Events durably appended to the events store.",
		}),
		Degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_liveness_degraded",
			Help: "1 while consecutive skips exceed the alarm threshold.",
		}),
		skipThreshold: int64(skipThreshold),
	}

	reg.MustRegister(m.Parsed, m.Skipped, m.Deduped, m.Appended, m.Degraded)

	return m
}

// RecordSkip counts a dropped message and escalates once the consecutive
// run crosses the threshold
func (m *Metrics) RecordSkip(log *zap.Logger) {
	m.Skipped.Inc()
	skips := m.consecutiveSkips.Add(1)
	if m.skipThreshold > 0 && skips == m.skipThreshold {
		m.Degraded.Set(1)
		log.Warn("Ingestion liveness degraded: consecutive skip threshold reached",
			zap.Int64("consecutive_skips", skips))
	}
}

// RecordParsed counts an accepted message and clears any degraded state
func (m *Metrics) RecordParsed() {
	m.Parsed.Inc()
	if m.consecutiveSkips.Swap(0) >= m.skipThreshold && m.skipThreshold > 0 {
		m.Degraded.Set(0)
	}
}

// ConsecutiveSkips returns the current run of skipped messages
func (m *Metrics) ConsecutiveSkips() int64 {
	return m.consecutiveSkips.Load()
}
