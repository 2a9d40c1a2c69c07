// Package transport implements the HTTP batch shipper for the bruteguard
// agent. Batches of failed-login events are posted as JSON to the collector's
// ingest endpoint; any network error, timeout, or non-2xx response is
// reported to the caller so the pipeline can retain the events for the next
// cycle.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single ingest POST, response read included.
const DefaultTimeout = 30 * time.Second

// Event is one failed-login record on the wire. Optional fields are sent as
// empty strings and normalized to NULL by the collector. The raw UTC
// timestamp used for fingerprinting is deliberately absent: only the
// normalized local-time form is transmitted.
type Event struct {
	Timestamp   string `json:"timestamp"`
	IPAddress   string `json:"ip_address"`
	Username    string `json:"username,omitempty"`
	LogonType   string `json:"logon_type,omitempty"`
	Status      string `json:"status,omitempty"`
	Workstation string `json:"workstation,omitempty"`
	SourcePort  string `json:"source_port,omitempty"`
}

// Batch is the ingest request body. HostID and HostName are carried once per
// batch rather than per event.
type Batch struct {
	HostID   string  `json:"host_id"`
	HostName string  `json:"host_name"`
	Events   []Event `json:"events"`
}

// ingestResponse is the subset of the collector's reply the agent cares about.
type ingestResponse struct {
	Success  bool `json:"success"`
	Accepted int  `json:"accepted"`
}

// Option is a functional option for New.
type Option func(*Client)

// WithMetrics wires a Metrics value into the client so shipping outcomes are
// recorded as Prometheus-compatible counters.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// Client posts event batches to the collector. A single Client reuses one
// connection pool for the lifetime of the agent.
type Client struct {
	url     string
	http    *http.Client
	logger  *slog.Logger
	metrics *Metrics // nil when no instrumentation is requested
}

// New creates a Client that posts to ingestURL (the collector's /events
// endpoint, including the base path).
func New(ingestURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:    ingestURL,
		http:   &http.Client{Timeout: DefaultTimeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts one batch. It returns nil only for a 2xx response; the caller
// owns retry policy. The collector deduplicates on its side, so re-sending a
// batch whose response was lost is harmless.
func (c *Client) Send(ctx context.Context, batch Batch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("transport: marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metricsSendError()
		return fmt.Errorf("transport: post %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metricsSendError()
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("transport: collector returned HTTP %d", resp.StatusCode)
	}

	var ir ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err == nil {
		c.logger.Info("transport: batch accepted",
			slog.Int("sent", len(batch.Events)),
			slog.Int("accepted", ir.Accepted),
		)
	} else {
		c.logger.Info("transport: batch accepted",
			slog.Int("sent", len(batch.Events)),
		)
	}

	c.metricsBatchSent(len(batch.Events))
	return nil
}

// ── metrics helpers ──────────────────────────────────────────────────────────

func (c *Client) metricsBatchSent(events int) {
	if c.metrics != nil {
		c.metrics.BatchesSent.Add(1)
		c.metrics.EventsShipped.Add(int64(events))
	}
}

func (c *Client) metricsSendError() {
	if c.metrics != nil {
		c.metrics.SendErrors.Add(1)
	}
}
