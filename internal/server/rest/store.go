package rest

import (
	"context"
	"time"

	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// Store is the subset of storage.Store methods used by the REST handlers.
// Defining an interface allows handlers to be tested with a mock store
// without a live PostgreSQL connection.
type Store interface {
	Ping(ctx context.Context) error

	IngestEvent(ctx context.Context, ev storage.FailedLogin, hostName string) (storage.IngestResult, error)

	SuspiciousIPs(ctx context.Context, threshold int) ([]storage.SuspiciousIP, error)
	Statistics(ctx context.Context) (*storage.Statistics, error)
	GlobalStatistics(ctx context.Context) (*storage.GlobalStatistics, error)

	ListActiveBlocks(ctx context.Context) ([]storage.Block, error)

	CreateHost(ctx context.Context, id, name, hostIP, method string) (*storage.Host, error)
	GetHost(ctx context.Context, id string) (*storage.Host, error)
	ListHosts(ctx context.Context) ([]storage.Host, error)
	SoftDeleteHost(ctx context.Context, id string) error
	ActiveHostCount(ctx context.Context) (int, error)
	HostAttackStats(ctx context.Context, hostID string) (*storage.HostAttackStats, error)

	GetHostPolicy(ctx context.Context, hostID string) (*storage.HostPolicy, error)
	UpsertHostPolicy(ctx context.Context, p storage.HostPolicy) error
}

// Blocker is the slice of the block manager used by the manual block and
// unblock endpoints.
type Blocker interface {
	Block(ctx context.Context, ip string, scope storage.BlockScope, hostID, reason string, duration time.Duration) (*storage.Block, error)
	Unblock(ctx context.Context, ip string) (int, error)
}

// Detector runs threshold evaluation for an admitted event. The ingest
// handler calls it after the event transaction has committed.
type Detector interface {
	Evaluate(ctx context.Context, ip, hostID string) error
}
