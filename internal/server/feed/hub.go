// Package feed provides the in-process live attack feed for the BruteGuard
// collector. The Hub fans each admitted failed login out to all currently
// subscribed SSE streams without blocking the ingestion path.
//
// Design notes
//
//   - Each subscriber has a dedicated buffered channel of Attack values. A
//     non-blocking send is used so a stalled consumer never applies
//     back-pressure to ingestion.
//   - A subscriber whose buffer is full when an attack arrives is evicted:
//     its channel is closed and removed, and the serving handler terminates
//     the stream. The client is expected to reconnect; a gap in the feed is
//     acceptable, a stalled collector is not.
//   - Subscribers only see attacks admitted after they subscribe. There is
//     no replay; history is served by the query endpoints.
//   - The subscriber map is guarded by a plain mutex; the subscriber count
//     is small (browser dashboards), so a lock on the publish path is not a
//     concern.
package feed

import (
	"log/slog"
	"sync"
)

// DefaultBufSize is the per-subscriber channel depth.
const DefaultBufSize = 64

// Attack is one admitted failed login as pushed to live subscribers.
// AttemptNumber is the source IP's lifetime failure counter at admission
// time.
type Attack struct {
	SourceIP       string `json:"source_ip"`
	TargetUsername string `json:"target_username"`
	HostID         string `json:"host_id"`
	EventTimestamp string `json:"event_timestamp"`
	AttemptNumber  int    `json:"attempt_number"`
}

// Hub fans admitted attacks out to all current subscribers. It is safe for
// concurrent use.
type Hub struct {
	mu      sync.Mutex
	subs    map[chan Attack]struct{}
	bufSize int
	closed  bool
	logger  *slog.Logger
}

// NewHub creates a Hub. A bufSize of zero or less uses DefaultBufSize.
func NewHub(logger *slog.Logger, bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	return &Hub{
		subs:    make(map[chan Attack]struct{}),
		bufSize: bufSize,
		logger:  logger,
	}
}

// Subscribe registers a new subscriber and returns its receive channel. The
// channel is closed by Unsubscribe, by eviction, or by Close.
func (h *Hub) Subscribe() chan Attack {
	ch := make(chan Attack, h.bufSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes ch and closes it. Unknown channels are a no-op, so
// Unsubscribe after eviction is safe.
func (h *Hub) Unsubscribe(ch chan Attack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Publish delivers a to every subscriber. Subscribers with a full buffer are
// evicted rather than waited on.
func (h *Hub) Publish(a Attack) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- a:
		default:
			delete(h.subs, ch)
			close(ch)
			h.logger.Warn("evicting slow feed subscriber",
				slog.Int("buffer", h.bufSize),
			)
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close evicts all subscribers and rejects future ones. Publish becomes a
// no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
