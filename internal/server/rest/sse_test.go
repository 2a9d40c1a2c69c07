package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/feed"
)

// waitForSubscribers polls until the hub reports n subscribers or the
// deadline passes.
func waitForSubscribers(t *testing.T, hub *feed.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() < n {
		if time.Now().After(deadline) {
			t.Fatalf("feed never reached %d subscribers", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHandleFeed_StreamsNewAttacks(t *testing.T) {
	h, hub := newTestServer(&mockStore{}, &mockBlocker{}, &mockDetector{})
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/feed", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	waitForSubscribers(t, hub, 1)
	hub.Publish(feed.Attack{
		SourceIP:       "203.0.113.7",
		TargetUsername: "admin",
		HostID:         "vm-1",
		EventTimestamp: "2026-02-21T22:12:04.7999016",
		AttemptNumber:  4,
	})

	sc := bufio.NewScanner(resp.Body)
	var eventName, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if eventName == "new_attack" && data != "" {
			break
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	var got feed.Attack
	if err := json.Unmarshal([]byte(data), &got); err != nil {
		t.Fatalf("frame payload is not valid JSON: %v", err)
	}
	if got.SourceIP != "203.0.113.7" || got.AttemptNumber != 4 {
		t.Errorf("attack = %+v", got)
	}
	if got.EventTimestamp != "2026-02-21T22:12:04.7999016" {
		t.Errorf("event_timestamp = %q, precision must survive", got.EventTimestamp)
	}
}

func TestHandleFeed_LateSubscriberMissesEarlierAttacks(t *testing.T) {
	h, hub := newTestServer(&mockStore{}, &mockBlocker{}, &mockDetector{})
	ts := httptest.NewServer(h)
	defer ts.Close()

	// Published before anyone subscribes: lost by design.
	hub.Publish(feed.Attack{SourceIP: "203.0.113.1"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/feed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer resp.Body.Close()

	waitForSubscribers(t, hub, 1)
	hub.Publish(feed.Attack{SourceIP: "203.0.113.2"})

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "203.0.113.1") {
			t.Fatal("received an attack published before subscribing")
		}
		if strings.Contains(line, "203.0.113.2") {
			return // first delivery is the post-subscribe attack
		}
	}
	t.Fatalf("stream ended without delivery: %v", sc.Err())
}

func TestHandleFeed_ClientDisconnectUnsubscribes(t *testing.T) {
	h, hub := newTestServer(&mockStore{}, &mockBlocker{}, &mockDetector{})
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/feed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open feed: %v", err)
	}
	defer resp.Body.Close()

	waitForSubscribers(t, hub, 1)
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not unsubscribe after disconnect")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
