package detect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// EngineStore is the slice of the storage layer the detection engine needs
// on top of BlockStore.
type EngineStore interface {
	BlockStore
	GetSettings(ctx context.Context) (storage.Settings, error)
	GetHostPolicy(ctx context.Context, hostID string) (*storage.HostPolicy, error)
	FailuresInWindow(ctx context.Context, ip string, since time.Time) (int, error)
	HostFailuresInWindow(ctx context.Context, ip, hostID string, since time.Time) (int, error)
}

// Engine evaluates the blocking thresholds after each admitted event.
//
// All decisions use rolling-window failure counts recomputed from
// failed_logins at evaluation time; the lifetime counter on suspicious_ips
// is never consulted. Global detection takes precedence: once a global block
// exists (or is created) for an IP, per-host evaluation is skipped.
type Engine struct {
	store   EngineStore
	manager *Manager
	logger  *slog.Logger
}

// NewEngine builds an Engine that creates blocks through manager.
func NewEngine(store EngineStore, manager *Manager, logger *slog.Logger) *Engine {
	return &Engine{store: store, manager: manager, logger: logger}
}

// Evaluate runs detection for one (ip, host) pair after an admitted event.
// It is called outside the ingest transaction; a failure here never affects
// the already-committed event.
func (e *Engine) Evaluate(ctx context.Context, ip, hostID string) error {
	set, err := e.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Per-host overrides; nil fields inherit the collector-wide values.
	threshold := set.Threshold
	window := set.TimeWindow
	duration := set.BlockDuration
	autoBlock := set.AutoBlock
	policy, err := e.store.GetHostPolicy(ctx, hostID)
	if err != nil {
		return fmt.Errorf("load host policy: %w", err)
	}
	if policy != nil {
		if policy.Threshold != nil {
			threshold = *policy.Threshold
		}
		if policy.TimeWindow != nil {
			window = *policy.TimeWindow
		}
		if policy.BlockDuration != nil {
			duration = *policy.BlockDuration
		}
		if policy.AutoBlock != nil {
			autoBlock = *policy.AutoBlock
		}
	}

	if set.GlobalAutoBlock {
		created, err := e.evaluateGlobal(ctx, ip, set)
		if err != nil {
			return err
		}
		if created {
			return nil
		}
	}

	// A standing global block already covers every host.
	global, err := e.store.HasActiveBlock(ctx, ip, storage.ScopeGlobal, "")
	if err != nil {
		return fmt.Errorf("check global block: %w", err)
	}
	if global {
		return nil
	}

	if !autoBlock {
		return nil
	}
	return e.evaluateHost(ctx, ip, hostID, threshold, window, duration)
}

// evaluateGlobal applies the fleet-wide threshold to failures from ip across
// all hosts. It reports whether a new global block was created.
func (e *Engine) evaluateGlobal(ctx context.Context, ip string, set storage.Settings) (bool, error) {
	since := time.Now().Add(-time.Duration(set.TimeWindow) * time.Minute)
	n, err := e.store.FailuresInWindow(ctx, ip, since)
	if err != nil {
		return false, fmt.Errorf("global window count: %w", err)
	}
	if n < set.GlobalThreshold {
		return false, nil
	}

	exists, err := e.store.HasActiveBlock(ctx, ip, storage.ScopeGlobal, "")
	if err != nil {
		return false, fmt.Errorf("check global block: %w", err)
	}
	if exists {
		// Already covered; still counts as global precedence.
		return true, nil
	}

	reason := fmt.Sprintf("%d failures across fleet within %dm", n, set.TimeWindow)
	_, err = e.manager.Block(ctx, ip, storage.ScopeGlobal, "", reason,
		time.Duration(set.BlockDuration)*time.Minute)
	if err != nil {
		return false, fmt.Errorf("create global block: %w", err)
	}
	e.logger.Warn("global threshold exceeded",
		slog.String("ip", ip),
		slog.Int("failures", n),
	)
	return true, nil
}

// evaluateHost applies the per-host threshold for ip against hostID.
func (e *Engine) evaluateHost(ctx context.Context, ip, hostID string, threshold, window, duration int) error {
	since := time.Now().Add(-time.Duration(window) * time.Minute)
	n, err := e.store.HostFailuresInWindow(ctx, ip, hostID, since)
	if err != nil {
		return fmt.Errorf("host window count: %w", err)
	}
	if n < threshold {
		return nil
	}

	exists, err := e.store.HasActiveBlock(ctx, ip, storage.ScopeHost, hostID)
	if err != nil {
		return fmt.Errorf("check host block: %w", err)
	}
	if exists {
		return nil
	}

	reason := fmt.Sprintf("%d failures against host within %dm", n, window)
	_, err = e.manager.Block(ctx, ip, storage.ScopeHost, hostID, reason,
		time.Duration(duration)*time.Minute)
	if err != nil {
		return fmt.Errorf("create host block: %w", err)
	}
	e.logger.Warn("host threshold exceeded",
		slog.String("ip", ip),
		slog.String("host_id", hostID),
		slog.Int("failures", n),
	)
	return nil
}
