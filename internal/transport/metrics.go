// Package transport – Prometheus metrics for the agent shipping pipeline.
//
// Metrics tracks operational counters and gauges. All fields are updated
// atomically so they can be read concurrently from an HTTP handler without
// holding any additional lock. Handler serves the values in the standard
// Prometheus text exposition format:
//
//	m := transport.NewMetrics()
//	http.Handle("/metrics", m.Handler())
//
// Metric catalogue:
//
//	agent_batches_sent_total    – counter: batches accepted by the collector
//	agent_send_errors_total     – counter: failed POST attempts (network or non-2xx)
//	agent_events_shipped_total  – counter: events inside accepted batches
//	agent_events_dropped_total  – counter: events shed by the bounded retry queue
//	agent_parse_errors_total    – counter: event XML documents that failed to parse
//	agent_retry_queue_depth     – gauge:   events waiting for the next ship cycle
//	agent_seen_fingerprints     – gauge:   fingerprints held in the dedup set
package transport

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds all Prometheus counters and gauges for the agent pipeline.
// The zero value is ready to use; all counters start at zero.
type Metrics struct {
	// Counters
	BatchesSent   atomic.Int64
	SendErrors    atomic.Int64
	EventsShipped atomic.Int64
	EventsDropped atomic.Int64
	ParseErrors   atomic.Int64

	// Gauges
	RetryQueueDepth  atomic.Int64
	SeenFingerprints atomic.Int64
}

// NewMetrics allocates a new Metrics value with all counters at zero.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// metricLine is a single Prometheus metric family descriptor plus its current value.
type metricLine struct {
	help  string
	kind  string // "counter" or "gauge"
	name  string
	value int64
}

// snapshot captures the current values of all metrics in a consistent order.
func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{
			help:  "Total number of event batches accepted by the collector.",
			kind:  "counter",
			name:  "agent_batches_sent_total",
			value: m.BatchesSent.Load(),
		},
		{
			help:  "Total number of ingest POST attempts that failed.",
			kind:  "counter",
			name:  "agent_send_errors_total",
			value: m.SendErrors.Load(),
		},
		{
			help:  "Total number of events delivered inside accepted batches.",
			kind:  "counter",
			name:  "agent_events_shipped_total",
			value: m.EventsShipped.Load(),
		},
		{
			help:  "Total number of events shed by the bounded retry queue.",
			kind:  "counter",
			name:  "agent_events_dropped_total",
			value: m.EventsDropped.Load(),
		},
		{
			help:  "Total number of event XML documents that failed to parse.",
			kind:  "counter",
			name:  "agent_parse_errors_total",
			value: m.ParseErrors.Load(),
		},
		{
			help:  "Number of events waiting in the retry queue.",
			kind:  "gauge",
			name:  "agent_retry_queue_depth",
			value: m.RetryQueueDepth.Load(),
		},
		{
			help:  "Number of fingerprints held in the dedup seen-set.",
			kind:  "gauge",
			name:  "agent_seen_fingerprints",
			value: m.SeenFingerprints.Load(),
		},
	}
}

// WriteTo renders all metrics in the Prometheus text exposition format.
func (m *Metrics) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range m.snapshot() {
		n, err := fmt.Fprintf(w,
			"# HELP %s %s\n# TYPE %s %s\n%s %d\n",
			line.name, line.help, line.name, line.kind, line.name, line.value,
		)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Handler returns an http.Handler that serves the current metric values in
// Prometheus text format on every GET request.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = m.WriteTo(w)
	})
}
