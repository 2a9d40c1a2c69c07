// Package eventlog provides access to the Windows Security event log for the
// bruteguard agent. It exposes a small portable surface — snapshot queries,
// pull-model subscriptions, and XML record parsing — so the agent pipeline
// can be exercised on any platform with a fake log, while the real wevtapi
// implementation lives behind a `windows` build tag.
package eventlog

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by Open on platforms without a Windows event log.
var ErrUnsupported = errors.New("eventlog: not supported on this platform")

// DefaultChannel is the channel that carries authentication-failure records.
const DefaultChannel = "Security"

// FailedLoginEventID is the Windows event code for a failed logon attempt.
const FailedLoginEventID = 4625

// Cursor iterates over the rendered XML of matching event records.
// Cursors are single-use and must be closed by the caller.
type Cursor interface {
	// Next returns up to max rendered event XML documents. An empty slice
	// with a nil error means the cursor is exhausted (or, for a
	// subscription cursor, that no further events are buffered right now).
	Next(max int) ([]string, error)

	// Close releases the underlying OS handles.
	Close() error
}

// Subscription is a pull-model registration for future events on a channel.
// The OS signals readiness through an event handle; callers Wait on it with a
// bounded timeout, Reset the manual-reset signal, and then drain via Next.
type Subscription interface {
	Cursor

	// Wait blocks until the subscription's signal handle becomes ready or
	// timeout elapses. It reports whether the signal fired.
	Wait(timeout time.Duration) (bool, error)

	// Reset clears the manual-reset signal so that events arriving during a
	// drain re-signal the handle.
	Reset() error
}

// Log is a filtered view of one event channel.
type Log interface {
	// Query opens a snapshot cursor over existing records. When reverse is
	// true the cursor yields newest records first, which lets a startup
	// back-scan stop as soon as it reaches already-seen events.
	Query(reverse bool) (Cursor, error)

	// Subscribe registers for events written after the call returns.
	Subscribe() (Subscription, error)
}

// Open returns a Log filtered to records with the given event ID on channel.
// On non-Windows platforms it returns ErrUnsupported.
func Open(channel string, eventID int) (Log, error) {
	return open(channel, eventID)
}
