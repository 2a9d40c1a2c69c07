package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bruteguard/bruteguard/internal/eventlog"
)

func TestFingerprint_UsesRawUTCNotLocalTime(t *testing.T) {
	a := eventlog.Record{
		RawUTC:     "2026-02-21T16:42:04.7999016Z",
		Timestamp:  "2026-02-21T22:12:04.7999016",
		IPAddress:  "203.0.113.10",
		Username:   "admin",
		SourcePort: "49832",
	}
	b := a
	b.Timestamp = "2026-02-21T11:42:04.7999016" // same event, different zone

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint must be independent of the normalized local time")
	}

	c := a
	c.RawUTC = "2026-02-21T16:42:05.0000000Z"
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("distinct system times must produce distinct fingerprints")
	}

	if len(Fingerprint(a)) != 16 {
		t.Errorf("fingerprint length = %d, want 16", len(Fingerprint(a)))
	}
}

func TestSeenSet_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vm-1_seen.json")

	s := LoadSeen(path, 100)
	s.Add("aaaa")
	s.Add("bbbb")
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := LoadSeen(path, 100)
	if !reloaded.Contains("aaaa") || !reloaded.Contains("bbbb") {
		t.Error("reloaded set lost fingerprints")
	}
	if reloaded.Len() != 2 {
		t.Errorf("Len = %d, want 2", reloaded.Len())
	}
}

func TestSeenSet_EvictsOldestAtCap(t *testing.T) {
	s := LoadSeen(filepath.Join(t.TempDir(), "s.json"), 3)
	for i := 0; i < 5; i++ {
		s.Add(fmt.Sprintf("fp-%d", i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if s.Contains("fp-0") || s.Contains("fp-1") {
		t.Error("oldest fingerprints were not evicted")
	}
	if !s.Contains("fp-4") {
		t.Error("newest fingerprint missing")
	}
}

func TestSeenSet_DuplicateAddIsNoop(t *testing.T) {
	s := LoadSeen(filepath.Join(t.TempDir(), "s.json"), 10)
	s.Add("aaaa")
	s.Add("aaaa")
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestLoadSeen_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := LoadSeen(path, 10)
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0 for corrupt file", s.Len())
	}
}

func TestLoadSeen_OversizedFileKeepsMostRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seen.json")
	var fps []string
	for i := 0; i < 10; i++ {
		fps = append(fps, fmt.Sprintf("fp-%d", i))
	}
	data, _ := json.Marshal(fps)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := LoadSeen(path, 4)
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4", s.Len())
	}
	if s.Contains("fp-0") {
		t.Error("oldest entries should have been discarded on load")
	}
	if !s.Contains("fp-9") {
		t.Error("most recent entry missing")
	}
}

func TestRetryQueue_ShedsOldestAtCap(t *testing.T) {
	q := newRetryQueue(3)
	for i := 0; i < 3; i++ {
		q.Append(wireEvent(fmt.Sprintf("10.0.0.%d", i)))
	}
	dropped := q.Append(wireEvent("10.0.0.99"))
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	snap := q.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	if snap[0].IPAddress != "10.0.0.1" {
		t.Errorf("head = %q, oldest event was not shed", snap[0].IPAddress)
	}
	if snap[2].IPAddress != "10.0.0.99" {
		t.Errorf("tail = %q", snap[2].IPAddress)
	}
}
