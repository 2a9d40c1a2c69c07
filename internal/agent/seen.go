package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bruteguard/bruteguard/internal/eventlog"
)

// MaxSeen caps the dedup fingerprint set. Eviction of old fingerprints is
// safe because the OS event log itself has bounded retention: any event old
// enough to have been evicted can no longer reappear through a back-scan.
const MaxSeen = 50_000

// Fingerprint derives the dedup key for an event:
// SHA-256 over rawUTC|ip|username|port, truncated to 16 hex characters.
//
// The raw UTC string from the event XML is used, never the normalized local
// timestamp, so fingerprints stay stable across timezone changes and remain
// compatible with existing seen files.
func Fingerprint(rec eventlog.Record) string {
	sum := sha256.Sum256([]byte(rec.RawUTC + "|" + rec.IPAddress + "|" + rec.Username + "|" + rec.SourcePort))
	return hex.EncodeToString(sum[:])[:16]
}

// SeenSet is the insertion-ordered set of fingerprints the agent has already
// shipped. It is bounded at max entries; Add evicts the oldest entries first.
// SeenSet is not safe for concurrent use — the pipeline is the only writer.
type SeenSet struct {
	path    string
	max     int
	order   []string
	members map[string]struct{}
}

// LoadSeen reads the fingerprint file at path, keeping at most max entries
// (the most recent ones when the file is oversized). A missing or corrupt
// file yields an empty set: the collector's own dedup then absorbs any
// resulting re-sends.
func LoadSeen(path string, max int) *SeenSet {
	if max <= 0 {
		max = MaxSeen
	}
	s := &SeenSet{
		path:    path,
		max:     max,
		members: make(map[string]struct{}),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var fps []string
	if err := json.Unmarshal(data, &fps); err != nil {
		return s
	}
	if len(fps) > max {
		fps = fps[len(fps)-max:]
	}
	for _, fp := range fps {
		if _, dup := s.members[fp]; dup {
			continue
		}
		s.members[fp] = struct{}{}
		s.order = append(s.order, fp)
	}
	return s
}

// Contains reports whether fp has been recorded.
func (s *SeenSet) Contains(fp string) bool {
	_, ok := s.members[fp]
	return ok
}

// Add records fp, evicting the oldest fingerprints when the cap is exceeded.
// Adding an already-present fingerprint is a no-op.
func (s *SeenSet) Add(fp string) {
	if s.Contains(fp) {
		return
	}
	s.members[fp] = struct{}{}
	s.order = append(s.order, fp)

	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.members, oldest)
	}
}

// Len returns the number of fingerprints currently held.
func (s *SeenSet) Len() int {
	return len(s.order)
}

// Save atomically persists the set to its file: it writes a temporary file in
// the same directory and renames it into place, so a crash mid-write leaves
// the previous state intact.
func (s *SeenSet) Save() error {
	data, err := json.Marshal(s.order)
	if err != nil {
		return fmt.Errorf("agent: marshal seen set: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".seen-*.json")
	if err != nil {
		return fmt.Errorf("agent: create temp seen file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("agent: write seen file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("agent: close seen file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("agent: replace seen file: %w", err)
	}
	return nil
}
