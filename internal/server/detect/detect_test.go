package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// mockStore is an in-memory EngineStore double.
type mockStore struct {
	settings storage.Settings
	policy   *storage.HostPolicy

	globalWindow int            // FailuresInWindow result
	hostWindow   map[string]int // key "ip|host"

	active map[string]bool // key "scope|ip|host"

	created     []storage.Block
	deactivated []string
	expired     []storage.Block
	inactivated []int64
	nextID      int64
}

func newMockStore() *mockStore {
	return &mockStore{
		settings:   storage.DefaultSettings(),
		hostWindow: make(map[string]int),
		active:     make(map[string]bool),
	}
}

func key(scope storage.BlockScope, ip, hostID string) string {
	if scope == storage.ScopeGlobal {
		hostID = ""
	}
	return fmt.Sprintf("%s|%s|%s", scope, ip, hostID)
}

func (m *mockStore) CreateBlock(_ context.Context, b storage.Block) (*storage.Block, error) {
	m.nextID++
	b.ID = m.nextID
	b.Active = true
	b.BlockedAt = time.Now()
	m.created = append(m.created, b)
	m.active[key(b.Scope, b.IP, b.HostID)] = true
	return &b, nil
}

func (m *mockStore) HasActiveBlock(_ context.Context, ip string, scope storage.BlockScope, hostID string) (bool, error) {
	return m.active[key(scope, ip, hostID)], nil
}

func (m *mockStore) DeactivateBlocks(_ context.Context, ip string) (int, error) {
	n := 0
	for k, on := range m.active {
		if on && strings.Contains(k, "|"+ip+"|") {
			m.active[k] = false
			n++
		}
	}
	if n == 0 {
		return 0, storage.ErrNotFound
	}
	m.deactivated = append(m.deactivated, ip)
	return n, nil
}

func (m *mockStore) ExpiredActiveBlocks(context.Context, time.Time) ([]storage.Block, error) {
	return m.expired, nil
}

func (m *mockStore) MarkBlockInactive(_ context.Context, id int64) error {
	m.inactivated = append(m.inactivated, id)
	return nil
}

func (m *mockStore) GetSettings(context.Context) (storage.Settings, error) {
	return m.settings, nil
}

func (m *mockStore) GetHostPolicy(context.Context, string) (*storage.HostPolicy, error) {
	return m.policy, nil
}

func (m *mockStore) FailuresInWindow(context.Context, string, time.Time) (int, error) {
	return m.globalWindow, nil
}

func (m *mockStore) HostFailuresInWindow(_ context.Context, ip, hostID string, _ time.Time) (int, error) {
	return m.hostWindow[ip+"|"+hostID], nil
}

// recordingAdapter captures firewall calls.
type recordingAdapter struct {
	applied    []string
	removed    []string
	failApply  bool
	failRemove bool
}

func (a *recordingAdapter) Apply(_ context.Context, ip string, scope storage.BlockScope, hostID string) error {
	if a.failApply {
		return errors.New("firewall unreachable")
	}
	a.applied = append(a.applied, key(scope, ip, hostID))
	return nil
}

func (a *recordingAdapter) Remove(_ context.Context, ip string, scope storage.BlockScope, hostID string) error {
	if a.failRemove {
		return errors.New("firewall unreachable")
	}
	a.removed = append(a.removed, key(scope, ip, hostID))
	return nil
}

func newTestEngine(store *mockStore) (*Engine, *recordingAdapter) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &recordingAdapter{}
	mgr := NewManager(store, adapter, logger)
	return NewEngine(store, mgr, logger), adapter
}

// ---- engine -----------------------------------------------------------------

func TestEvaluate_HostThresholdCreatesHostBlock(t *testing.T) {
	store := newMockStore()
	store.settings.GlobalThreshold = 100 // keep the fleet-wide path quiet
	store.hostWindow["203.0.113.5|vm-1"] = 5

	eng, adapter := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("blocks created = %d, want 1", len(store.created))
	}
	b := store.created[0]
	if b.Scope != storage.ScopeHost || b.HostID != "vm-1" {
		t.Errorf("block = %+v, want host scope for vm-1", b)
	}
	if b.ExpiresAt == nil {
		t.Error("default settings should produce an expiring block")
	}
	if len(adapter.applied) != 1 {
		t.Errorf("adapter applied %d times, want 1", len(adapter.applied))
	}
}

func TestEvaluate_BelowThresholdNoBlock(t *testing.T) {
	store := newMockStore()
	store.settings.GlobalThreshold = 100
	store.hostWindow["203.0.113.5|vm-1"] = 4 // one short

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("blocks created = %d, want 0", len(store.created))
	}
}

func TestEvaluate_GlobalThresholdTakesPrecedence(t *testing.T) {
	store := newMockStore()
	store.globalWindow = 6
	store.hostWindow["203.0.113.5|vm-1"] = 6 // host path would also fire

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("blocks created = %d, want exactly 1", len(store.created))
	}
	if store.created[0].Scope != storage.ScopeGlobal {
		t.Errorf("scope = %s, want global", store.created[0].Scope)
	}
}

func TestEvaluate_ExistingGlobalBlockSuppressesHostBlock(t *testing.T) {
	store := newMockStore()
	store.active[key(storage.ScopeGlobal, "203.0.113.5", "")] = true
	store.globalWindow = 10
	store.hostWindow["203.0.113.5|vm-1"] = 10

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("blocks created = %d, want 0 (already globally blocked)", len(store.created))
	}
}

func TestEvaluate_ExistingHostBlockNotDuplicated(t *testing.T) {
	store := newMockStore()
	store.settings.GlobalThreshold = 100
	store.active[key(storage.ScopeHost, "203.0.113.5", "vm-1")] = true
	store.hostWindow["203.0.113.5|vm-1"] = 10

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("blocks created = %d, want 0", len(store.created))
	}
}

func TestEvaluate_PolicyDisablesAutoBlock(t *testing.T) {
	off := false
	store := newMockStore()
	store.settings.GlobalAutoBlock = false
	store.policy = &storage.HostPolicy{HostID: "vm-1", AutoBlock: &off}
	store.hostWindow["203.0.113.5|vm-1"] = 50

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(store.created) != 0 {
		t.Fatalf("blocks created = %d, want 0 with auto-block disabled", len(store.created))
	}
}

func TestEvaluate_PolicyOverridesThreshold(t *testing.T) {
	th := 2
	store := newMockStore()
	store.settings.GlobalThreshold = 100
	store.policy = &storage.HostPolicy{HostID: "vm-1", Threshold: &th}
	store.hostWindow["203.0.113.5|vm-1"] = 2

	eng, _ := newTestEngine(store)
	if err := eng.Evaluate(context.Background(), "203.0.113.5", "vm-1"); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("blocks created = %d, want 1 with lowered threshold", len(store.created))
	}
}

// ---- manager ----------------------------------------------------------------

func TestManager_BlockSurvivesAdapterFailure(t *testing.T) {
	store := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &recordingAdapter{failApply: true}
	mgr := NewManager(store, adapter, logger)

	b, err := mgr.Block(context.Background(), "192.0.2.1", storage.ScopeGlobal, "", "manual", time.Hour)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if b == nil || !b.Active {
		t.Fatalf("block = %+v, want active despite enforcement failure", b)
	}
	if len(store.created) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(store.created))
	}
}

func TestManager_ZeroDurationIsPermanent(t *testing.T) {
	store := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(store, &recordingAdapter{}, logger)

	b, err := mgr.Block(context.Background(), "192.0.2.1", storage.ScopeGlobal, "", "manual", 0)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if b.ExpiresAt != nil {
		t.Errorf("expires_at = %v, want nil for permanent block", b.ExpiresAt)
	}
}

func TestManager_UnblockUnknownIP(t *testing.T) {
	store := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(store, &recordingAdapter{}, logger)

	if _, err := mgr.Unblock(context.Background(), "192.0.2.99"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Unblock err = %v, want ErrNotFound", err)
	}
}

func TestManager_SweepRetiresExpiredBlocks(t *testing.T) {
	store := newMockStore()
	store.expired = []storage.Block{
		{ID: 7, IP: "192.0.2.1", Scope: storage.ScopeGlobal},
		{ID: 9, IP: "192.0.2.2", Scope: storage.ScopeHost, HostID: "vm-1"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &recordingAdapter{}
	mgr := NewManager(store, adapter, logger)

	mgr.Sweep(context.Background())

	if len(adapter.removed) != 2 {
		t.Errorf("adapter removed %d entries, want 2", len(adapter.removed))
	}
	if len(store.inactivated) != 2 || store.inactivated[0] != 7 || store.inactivated[1] != 9 {
		t.Errorf("inactivated = %v, want [7 9]", store.inactivated)
	}
}

func TestManager_SweepRetriesOnRemoveFailure(t *testing.T) {
	store := newMockStore()
	store.expired = []storage.Block{{ID: 7, IP: "192.0.2.1", Scope: storage.ScopeGlobal}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	adapter := &recordingAdapter{failRemove: true}
	mgr := NewManager(store, adapter, logger)

	mgr.Sweep(context.Background())

	if len(store.inactivated) != 0 {
		t.Fatal("block was retired although the firewall removal failed")
	}
}
