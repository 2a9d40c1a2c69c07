package detect

import (
	"context"
	"log/slog"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/storage"
)

const (
	// adapterTimeout bounds each firewall call so a hung backend cannot
	// stall ingestion or the reconciler.
	adapterTimeout = 10 * time.Second

	// DefaultSweepInterval is how often the reconciler looks for expired
	// blocks.
	DefaultSweepInterval = 30 * time.Second

	// sweepBudget bounds the database work of a single reconciler pass.
	sweepBudget = 5 * time.Second
)

// BlockStore is the slice of the storage layer the block manager needs.
type BlockStore interface {
	CreateBlock(ctx context.Context, b storage.Block) (*storage.Block, error)
	HasActiveBlock(ctx context.Context, ip string, scope storage.BlockScope, hostID string) (bool, error)
	DeactivateBlocks(ctx context.Context, ip string) (int, error)
	ExpiredActiveBlocks(ctx context.Context, now time.Time) ([]storage.Block, error)
	MarkBlockInactive(ctx context.Context, id int64) error
}

// Manager owns the block lifecycle: creation, manual removal, and expiry.
// The database ledger is authoritative; the firewall adapter follows it.
type Manager struct {
	store   BlockStore
	adapter Adapter
	logger  *slog.Logger
}

// NewManager builds a Manager on the given store and enforcement adapter.
func NewManager(store BlockStore, adapter Adapter, logger *slog.Logger) *Manager {
	return &Manager{store: store, adapter: adapter, logger: logger}
}

// Block records a new block and pushes it to the firewall. duration ≤ 0
// creates a permanent block.
//
// The ledger row is committed before the adapter is called; if enforcement
// fails the block stays active and the failure is logged, leaving the ledger
// as the source of truth for a later retry or manual intervention.
func (m *Manager) Block(ctx context.Context, ip string, scope storage.BlockScope, hostID, reason string, duration time.Duration) (*storage.Block, error) {
	b := storage.Block{IP: ip, Scope: scope, HostID: hostID, Reason: reason}
	if duration > 0 {
		exp := time.Now().Add(duration)
		b.ExpiresAt = &exp
	}

	created, err := m.store.CreateBlock(ctx, b)
	if err != nil {
		return nil, err
	}
	m.logger.Info("block created",
		slog.String("ip", ip),
		slog.String("scope", string(scope)),
		slog.String("host_id", hostID),
		slog.String("reason", reason),
	)

	actx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()
	if err := m.adapter.Apply(actx, ip, scope, hostID); err != nil {
		m.logger.Error("firewall apply failed, block remains active in ledger",
			slog.String("ip", ip),
			slog.Any("error", err),
		)
	}
	return created, nil
}

// Unblock retires every active block for ip and removes the firewall entry.
// It returns storage.ErrNotFound when the IP has no active block.
func (m *Manager) Unblock(ctx context.Context, ip string) (int, error) {
	n, err := m.store.DeactivateBlocks(ctx, ip)
	if err != nil {
		return 0, err
	}
	m.logger.Info("ip unblocked", slog.String("ip", ip), slog.Int("blocks", n))

	actx, cancel := context.WithTimeout(ctx, adapterTimeout)
	defer cancel()
	if err := m.adapter.Remove(actx, ip, storage.ScopeGlobal, ""); err != nil {
		m.logger.Error("firewall remove failed",
			slog.String("ip", ip),
			slog.Any("error", err),
		)
	}
	return n, nil
}

// RunExpiry is the reconciler loop: every interval it sweeps for expired
// blocks. It exits when ctx is cancelled. interval ≤ 0 uses
// DefaultSweepInterval.
func (m *Manager) RunExpiry(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep retires every block whose expiry has passed: firewall entry first,
// then the ledger row. A failed removal leaves the row active so the next
// sweep retries it.
func (m *Manager) Sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, sweepBudget)
	defer cancel()

	expired, err := m.store.ExpiredActiveBlocks(sctx, time.Now())
	if err != nil {
		m.logger.Error("expiry sweep query failed", slog.Any("error", err))
		return
	}
	for _, b := range expired {
		actx, acancel := context.WithTimeout(ctx, adapterTimeout)
		err := m.adapter.Remove(actx, b.IP, b.Scope, b.HostID)
		acancel()
		if err != nil {
			m.logger.Error("firewall remove failed, retrying next sweep",
				slog.String("ip", b.IP),
				slog.Int64("block_id", b.ID),
				slog.Any("error", err),
			)
			continue
		}
		if err := m.store.MarkBlockInactive(sctx, b.ID); err != nil {
			m.logger.Error("could not retire expired block",
				slog.Int64("block_id", b.ID),
				slog.Any("error", err),
			)
			continue
		}
		m.logger.Info("block expired",
			slog.String("ip", b.IP),
			slog.String("scope", string(b.Scope)),
			slog.Int64("block_id", b.ID),
		)
	}
}
