// Package agent contains the bruteguard agent pipeline. It wires the
// Windows event-log source to the HTTP shipper: a startup back-scan recovers
// events generated while the agent was down, a pull-model subscription
// captures live events, fingerprints deduplicate both paths, and a bounded
// in-memory retry queue rides out collector outages.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/bruteguard/bruteguard/internal/config"
	"github.com/bruteguard/bruteguard/internal/eventlog"
	"github.com/bruteguard/bruteguard/internal/transport"
)

// readBatchSize is how many records one EvtNext-style read requests.
const readBatchSize = 50

// shutdownFlushTimeout bounds the single best-effort queue flush performed
// when the agent is asked to stop.
const shutdownFlushTimeout = 10 * time.Second

// ignoredIPs are loopback / empty-source values that carry no attacker
// information and are dropped before fingerprinting.
var ignoredIPs = map[string]struct{}{
	"":          {},
	"-":         {},
	"0.0.0.0":   {},
	"::1":       {},
	"127.0.0.1": {},
}

// Shipper delivers one batch to the collector. Implementations return nil
// only when the collector acknowledged the batch with a 2xx response.
type Shipper interface {
	Send(ctx context.Context, batch transport.Batch) error
}

// Option is a functional option for New.
type Option func(*Pipeline)

// WithMetrics wires pipeline gauges and counters into m.
func WithMetrics(m *transport.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLocation overrides the zone used for timestamp normalization.
// Defaults to time.Local; tests pass a fixed zone.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) { p.loc = loc }
}

// Pipeline is the single-threaded event loop of the agent. All state —
// the seen-set and the retry queue — is owned by the loop goroutine, so no
// locking is needed.
type Pipeline struct {
	cfg      *config.Config
	log      eventlog.Log
	shipper  Shipper
	logger   *slog.Logger
	hostName string

	loc     *time.Location
	seen    *SeenSet
	queue   *retryQueue
	metrics *transport.Metrics
}

// New builds a Pipeline. The seen-set is loaded from cfg.SeenPath()
// immediately; a missing or corrupt file means first-run behavior.
func New(cfg *config.Config, log eventlog.Log, shipper Shipper, hostName string, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		log:      log,
		shipper:  shipper,
		logger:   logger,
		hostName: hostName,
		loc:      time.Local,
		seen:     LoadSeen(cfg.SeenPath(), MaxSeen),
		queue:    newRetryQueue(MaxQueue),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.gauges()
	return p
}

// Run executes the pipeline until ctx is cancelled: back-scan, then the
// subscription wait/drain loop. When the subscription cannot be created the
// pipeline falls back to pure polling. Run returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("agent pipeline starting",
		slog.String("host_id", p.cfg.HostID),
		slog.Int("seen_fingerprints", p.seen.Len()),
		slog.Int("poll_interval_s", p.cfg.PollInterval),
	)

	// Phase 1: recover events generated while the agent was offline.
	if n := p.backScan(); n > 0 {
		p.ship(ctx)
	}

	// Phase 2: live subscription, with poll fallback.
	sub, err := p.log.Subscribe()
	if err != nil {
		p.logger.Error("subscription failed; falling back to polling mode",
			slog.Any("error", err),
		)
		return p.runPolling(ctx)
	}
	defer sub.Close()

	p.logger.Info("real-time subscription active")
	interval := time.Duration(p.cfg.PollInterval) * time.Second

	for {
		if ctx.Err() != nil {
			return p.shutdown()
		}

		signaled, err := sub.Wait(interval)
		if err != nil {
			p.logger.Error("subscription wait failed", slog.Any("error", err))
			if !sleepCtx(ctx, interval) {
				return p.shutdown()
			}
			continue
		}
		if ctx.Err() != nil {
			return p.shutdown()
		}

		if signaled {
			// Clear the manual-reset signal before draining so events
			// arriving during the drain re-signal the handle.
			if err := sub.Reset(); err != nil {
				p.logger.Warn("signal reset failed", slog.Any("error", err))
			}
		}

		// Drain on both paths: the timeout branch is the safety-net pull
		// that captures events the signal mechanism missed.
		n := p.admit(p.drain(sub))
		if n > 0 || p.queue.Len() > 0 {
			p.ship(ctx)
		}
	}
}

// runPolling is the fallback loop used when EvtSubscribe is unavailable:
// a reverse snapshot scan with seen-set early exit every poll interval.
func (p *Pipeline) runPolling(ctx context.Context) error {
	interval := time.Duration(p.cfg.PollInterval) * time.Second
	p.logger.Info("polling mode", slog.Duration("interval", interval))

	for {
		if ctx.Err() != nil {
			return p.shutdown()
		}
		if n := p.backScan(); n > 0 || p.queue.Len() > 0 {
			p.ship(ctx)
		}
		if !sleepCtx(ctx, interval) {
			return p.shutdown()
		}
	}
}

// backScan reads existing records newest-first and admits unseen ones.
// It stops as soon as an entire read-batch consists exclusively of
// already-seen events: everything older is then guaranteed seen too.
// Returns the number of newly admitted events.
func (p *Pipeline) backScan() int {
	cur, err := p.log.Query(true)
	if err != nil {
		p.logger.Error("startup scan query failed", slog.Any("error", err))
		return 0
	}
	defer cur.Close()

	admitted := 0
	for {
		docs, err := cur.Next(readBatchSize)
		if err != nil {
			p.logger.Warn("startup scan read failed", slog.Any("error", err))
			break
		}
		if len(docs) == 0 {
			break
		}

		batch := p.parseBatch(docs)
		allSeen := len(batch) > 0
		for _, rec := range batch {
			if !p.seen.Contains(Fingerprint(rec)) {
				allSeen = false
			}
		}
		admitted += p.admit(batch)
		if allSeen {
			break
		}
	}

	if admitted > 0 {
		p.logger.Info("startup scan recovered events", slog.Int("count", admitted))
	}
	return admitted
}

// drain pulls all buffered records from the subscription via repeated
// bounded reads until a read returns empty.
func (p *Pipeline) drain(cur eventlog.Cursor) []eventlog.Record {
	var all []eventlog.Record
	for {
		docs, err := cur.Next(readBatchSize)
		if err != nil {
			p.logger.Warn("subscription read failed", slog.Any("error", err))
			return all
		}
		if len(docs) == 0 {
			return all
		}
		all = append(all, p.parseBatch(docs)...)
	}
}

// parseBatch parses rendered XML documents, skipping malformed records and
// loopback/empty-source noise. A parse failure never aborts the batch.
func (p *Pipeline) parseBatch(docs []string) []eventlog.Record {
	recs := make([]eventlog.Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := eventlog.Parse(doc, p.loc)
		if err != nil {
			p.logger.Warn("failed to parse event xml", slog.Any("error", err))
			if p.metrics != nil {
				p.metrics.ParseErrors.Add(1)
			}
			continue
		}
		if _, ignored := ignoredIPs[rec.IPAddress]; ignored {
			continue
		}
		recs = append(recs, rec)
	}
	return recs
}

// admit deduplicates records against the seen-set and appends the survivors
// to the retry queue. Returns the number of newly admitted events.
func (p *Pipeline) admit(recs []eventlog.Record) int {
	admitted := 0
	for _, rec := range recs {
		fp := Fingerprint(rec)
		if p.seen.Contains(fp) {
			continue
		}
		p.seen.Add(fp)
		admitted++

		p.logger.Info("failed login",
			slog.String("user", rec.Username),
			slog.String("ip", rec.IPAddress),
		)

		if dropped := p.queue.Append(toWire(rec)); dropped > 0 {
			p.logger.Warn("retry queue full, shedding oldest events",
				slog.Int("dropped", dropped),
			)
			if p.metrics != nil {
				p.metrics.EventsDropped.Add(int64(dropped))
			}
		}
	}
	p.gauges()
	return admitted
}

// ship sends every pending event as a single batch. On success the queue is
// cleared and the seen-set is persisted; on failure the queue is retained
// untouched for the next cycle.
func (p *Pipeline) ship(ctx context.Context) {
	pending := p.queue.Snapshot()
	if len(pending) == 0 {
		return
	}

	batch := transport.Batch{
		HostID:   p.cfg.HostID,
		HostName: p.hostName,
		Events:   pending,
	}
	if err := p.shipper.Send(ctx, batch); err != nil {
		p.logger.Error("ship failed, retaining queue",
			slog.Int("pending", len(pending)),
			slog.Any("error", err),
		)
		return
	}

	p.queue.Clear()
	if err := p.seen.Save(); err != nil {
		p.logger.Warn("could not persist seen set", slog.Any("error", err))
	}
	p.gauges()
}

// shutdown flushes the retry queue once, best-effort, and returns nil.
func (p *Pipeline) shutdown() error {
	if p.queue.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
		defer cancel()
		p.ship(ctx)
	}
	p.logger.Info("agent pipeline stopped",
		slog.Int("unsent", p.queue.Len()),
	)
	return nil
}

// QueueDepth reports the number of events waiting to be shipped.
// It is served by the healthz handler; the value may lag by one loop
// iteration, which is acceptable for liveness reporting.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}

// gauges refreshes the queue-depth and seen-set gauges.
func (p *Pipeline) gauges() {
	if p.metrics == nil {
		return
	}
	p.metrics.RetryQueueDepth.Store(int64(p.queue.Len()))
	p.metrics.SeenFingerprints.Store(int64(p.seen.Len()))
}

// toWire converts a parsed record to its wire form. The raw UTC string and
// the domain are intentionally dropped: neither is part of the documented
// event payload.
func toWire(rec eventlog.Record) transport.Event {
	return transport.Event{
		Timestamp:   rec.Timestamp,
		IPAddress:   rec.IPAddress,
		Username:    rec.Username,
		LogonType:   rec.LogonType,
		Status:      rec.Status,
		Workstation: rec.Workstation,
		SourcePort:  rec.SourcePort,
	}
}

// sleepCtx waits for d or until ctx is cancelled; it reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
