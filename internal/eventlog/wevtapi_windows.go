//go:build windows

package eventlog

import (
	"fmt"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

// wevtapi flag values (winevt.h).
const (
	evtQueryChannelPath      = 0x1
	evtQueryReverseDirection = 0x200
	evtSubscribeFutureEvents = 1
	evtRenderEventXML        = 1
)

var (
	modwevtapi = windows.NewLazySystemDLL("wevtapi.dll")

	procEvtQuery     = modwevtapi.NewProc("EvtQuery")
	procEvtSubscribe = modwevtapi.NewProc("EvtSubscribe")
	procEvtNext      = modwevtapi.NewProc("EvtNext")
	procEvtRender    = modwevtapi.NewProc("EvtRender")
	procEvtClose     = modwevtapi.NewProc("EvtClose")
)

// winLog is the wevtapi-backed Log implementation.
type winLog struct {
	channel string
	query   string
}

func open(channel string, eventID int) (Log, error) {
	if err := modwevtapi.Load(); err != nil {
		return nil, fmt.Errorf("eventlog: load wevtapi.dll: %w", err)
	}
	return &winLog{
		channel: channel,
		query:   fmt.Sprintf("*[System[EventID=%d]]", eventID),
	}, nil
}

func (l *winLog) Query(reverse bool) (Cursor, error) {
	channel, err := windows.UTF16PtrFromString(l.channel)
	if err != nil {
		return nil, err
	}
	query, err := windows.UTF16PtrFromString(l.query)
	if err != nil {
		return nil, err
	}

	flags := uintptr(evtQueryChannelPath)
	if reverse {
		flags |= evtQueryReverseDirection
	}

	h, _, callErr := procEvtQuery.Call(
		0, // local session
		uintptr(unsafe.Pointer(channel)),
		uintptr(unsafe.Pointer(query)),
		flags,
	)
	if h == 0 {
		return nil, fmt.Errorf("eventlog: EvtQuery %s: %w", l.channel, callErr)
	}
	return &winCursor{handle: windows.Handle(h), snapshot: true}, nil
}

func (l *winLog) Subscribe() (Subscription, error) {
	channel, err := windows.UTF16PtrFromString(l.channel)
	if err != nil {
		return nil, err
	}
	query, err := windows.UTF16PtrFromString(l.query)
	if err != nil {
		return nil, err
	}

	// Manual-reset so the signal survives until we explicitly clear it;
	// an auto-reset event could be consumed before the drain starts.
	signal, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("eventlog: CreateEvent: %w", err)
	}

	h, _, callErr := procEvtSubscribe.Call(
		0, // local session
		uintptr(signal),
		uintptr(unsafe.Pointer(channel)),
		uintptr(unsafe.Pointer(query)),
		0, // no bookmark
		0, // no context
		0, // no callback: pull model
		evtSubscribeFutureEvents,
	)
	if h == 0 {
		windows.CloseHandle(signal)
		return nil, fmt.Errorf("eventlog: EvtSubscribe %s: %w", l.channel, callErr)
	}
	return &winSubscription{
		winCursor: winCursor{handle: windows.Handle(h)},
		signal:    signal,
	}, nil
}

// winCursor wraps an EvtQuery or EvtSubscribe result-set handle.
type winCursor struct {
	handle   windows.Handle
	snapshot bool
}

func (c *winCursor) Next(max int) ([]string, error) {
	if max <= 0 {
		max = 50
	}
	handles := make([]windows.Handle, max)
	var returned uint32

	// Timeout: a snapshot query may block briefly while the service pages
	// records in (INFINITE is safe there); a subscription handle must use 0
	// or EvtNext blocks forever once buffered events are consumed.
	timeout := uintptr(0)
	if c.snapshot {
		timeout = uintptr(windows.INFINITE)
	}

	ok, _, callErr := procEvtNext.Call(
		uintptr(c.handle),
		uintptr(len(handles)),
		uintptr(unsafe.Pointer(&handles[0])),
		timeout,
		0,
		uintptr(unsafe.Pointer(&returned)),
	)
	if ok == 0 {
		if errno, isErrno := callErr.(windows.Errno); isErrno {
			switch errno {
			case windows.ERROR_NO_MORE_ITEMS, windows.ERROR_TIMEOUT:
				return nil, nil
			}
		}
		return nil, fmt.Errorf("eventlog: EvtNext: %w", callErr)
	}

	docs := make([]string, 0, returned)
	for _, h := range handles[:returned] {
		doc, err := renderXML(h)
		closeEvtHandle(h)
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *winCursor) Close() error {
	if c.handle != 0 {
		closeEvtHandle(c.handle)
		c.handle = 0
	}
	return nil
}

// winSubscription adds the signal-handle wait to a subscription cursor.
type winSubscription struct {
	winCursor
	signal windows.Handle
}

func (s *winSubscription) Wait(timeout time.Duration) (bool, error) {
	ms := uint32(timeout / time.Millisecond)
	ev, err := windows.WaitForSingleObject(s.signal, ms)
	switch ev {
	case windows.WAIT_OBJECT_0:
		return true, nil
	case uint32(windows.WAIT_TIMEOUT):
		return false, nil
	default:
		return false, fmt.Errorf("eventlog: WaitForSingleObject: %w", err)
	}
}

func (s *winSubscription) Reset() error {
	return windows.ResetEvent(s.signal)
}

func (s *winSubscription) Close() error {
	err := s.winCursor.Close()
	if s.signal != 0 {
		windows.CloseHandle(s.signal)
		s.signal = 0
	}
	return err
}

// renderXML renders an event handle as its XML document. EvtRender is called
// twice: once to size the buffer, once to fill it.
func renderXML(h windows.Handle) (string, error) {
	var used, props uint32
	ok, _, callErr := procEvtRender.Call(
		0,
		uintptr(h),
		evtRenderEventXML,
		0,
		0,
		uintptr(unsafe.Pointer(&used)),
		uintptr(unsafe.Pointer(&props)),
	)
	if ok == 0 {
		errno, isErrno := callErr.(windows.Errno)
		if !isErrno || errno != windows.ERROR_INSUFFICIENT_BUFFER {
			return "", fmt.Errorf("eventlog: EvtRender size: %w", callErr)
		}
	}

	buf := make([]uint16, used/2+1)
	ok, _, callErr = procEvtRender.Call(
		0,
		uintptr(h),
		evtRenderEventXML,
		uintptr(used),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&used)),
		uintptr(unsafe.Pointer(&props)),
	)
	if ok == 0 {
		return "", fmt.Errorf("eventlog: EvtRender: %w", callErr)
	}

	// Trim the trailing NUL before decoding.
	n := len(buf)
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return string(utf16.Decode(buf[:n])), nil
}

func closeEvtHandle(h windows.Handle) {
	_, _, _ = procEvtClose.Call(uintptr(h))
}
