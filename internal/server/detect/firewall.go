// Package detect implements the collector's brute-force detection engine and
// the block lifecycle: rolling-window threshold evaluation after each
// admitted event, firewall enforcement through a pluggable adapter, and a
// background reconciler that retires expired blocks.
package detect

import (
	"context"
	"log/slog"

	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// Adapter pushes block decisions to an enforcement backend (a firewall API,
// an edge ACL, a cloud security group). Apply and Remove must be idempotent:
// the reconciler may retry either after a partial failure.
type Adapter interface {
	Apply(ctx context.Context, ip string, scope storage.BlockScope, hostID string) error
	Remove(ctx context.Context, ip string, scope storage.BlockScope, hostID string) error
}

// LogAdapter is the default no-op enforcement backend: it records every
// decision at INFO and always succeeds. Deployments without a reachable
// firewall run with this, keeping the block ledger authoritative.
type LogAdapter struct {
	Logger *slog.Logger
}

func (a *LogAdapter) Apply(_ context.Context, ip string, scope storage.BlockScope, hostID string) error {
	a.Logger.Info("firewall apply",
		slog.String("ip", ip),
		slog.String("scope", string(scope)),
		slog.String("host_id", hostID),
	)
	return nil
}

func (a *LogAdapter) Remove(_ context.Context, ip string, scope storage.BlockScope, hostID string) error {
	a.Logger.Info("firewall remove",
		slog.String("ip", ip),
		slog.String("scope", string(scope)),
		slog.String("host_id", hostID),
	)
	return nil
}
