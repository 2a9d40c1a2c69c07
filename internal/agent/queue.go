package agent

import "github.com/bruteguard/bruteguard/internal/transport"

// MaxQueue caps the in-memory retry queue. Events beyond the cap are shed
// oldest-first; the OS event log remains the durable upstream source, so a
// restart back-scan rediscovers anything lost from memory.
const MaxQueue = 5_000

// retryQueue is the bounded FIFO of events awaiting a successful ship.
// It is not safe for concurrent use — the pipeline is the only accessor.
type retryQueue struct {
	max    int
	events []transport.Event
}

func newRetryQueue(max int) *retryQueue {
	if max <= 0 {
		max = MaxQueue
	}
	return &retryQueue{max: max}
}

// Append adds events to the tail and returns how many were shed from the
// head to respect the cap.
func (q *retryQueue) Append(events ...transport.Event) (dropped int) {
	q.events = append(q.events, events...)
	if over := len(q.events) - q.max; over > 0 {
		dropped = over
		q.events = append([]transport.Event(nil), q.events[over:]...)
	}
	return dropped
}

// Snapshot returns the pending events in FIFO order. The returned slice must
// not be mutated; call Clear after a successful ship.
func (q *retryQueue) Snapshot() []transport.Event {
	return q.events
}

// Clear empties the queue.
func (q *retryQueue) Clear() {
	q.events = q.events[:0]
}

// Len returns the number of pending events.
func (q *retryQueue) Len() int {
	return len(q.events)
}
