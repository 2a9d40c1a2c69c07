// Package storage provides the PostgreSQL-backed persistence layer for the
// BruteGuard collector. It exposes typed model structs for the six database
// tables (failed_logins, suspicious_ips, hosts, blocks, host_policies,
// settings) and a Store that wraps a pgxpool connection pool with a
// transactional, idempotent ingest path.
package storage

import (
	"strings"
	"time"
)

// BlockScope distinguishes collector-wide blocks from blocks that apply to a
// single reporting host.
type BlockScope string

const (
	ScopeGlobal BlockScope = "global"
	ScopeHost   BlockScope = "host"
)

// SuspiciousStatus is the lifecycle state of a tracked source IP.
type SuspiciousStatus string

const (
	SuspiciousActive  SuspiciousStatus = "active"
	SuspiciousBlocked SuspiciousStatus = "blocked"
	SuspiciousCleared SuspiciousStatus = "cleared"
)

// HostStatus represents the registration state of a reporting host. Hosts are
// soft-deleted: an inactive host keeps its historical attack rows.
type HostStatus string

const (
	HostActive   HostStatus = "active"
	HostInactive HostStatus = "inactive"
)

// FailedLogin maps to the `failed_logins` table: one admitted authentication
// failure as reported by an agent.
//
// EventTimestamp is the agent's normalized local timestamp string, stored
// verbatim; it participates in the natural key, so its sub-second precision
// must survive the round-trip exactly. OccurredAt is the parsed form of the
// same instant (fraction truncated) and drives all window arithmetic.
// LogonType and SourcePort are nil when the agent could not extract a numeric
// value from the event.
type FailedLogin struct {
	ID             int64      `json:"id"`
	SourceIP       string     `json:"source_ip"`
	Username       string     `json:"username"`
	SourceHost     string     `json:"source_host,omitempty"`
	LogonType      *int       `json:"logon_type,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	SourcePort     *int       `json:"source_port,omitempty"`
	EventTimestamp string     `json:"event_timestamp"`
	OccurredAt     time.Time  `json:"occurred_at"`
	HostID         string     `json:"host_id"`
	EventClass     int        `json:"event_class"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

// SuspiciousIP maps to the `suspicious_ips` table.
//
// FailureCount is the lifetime counter: it only ever grows and is used for
// ranking, never for threshold decisions.
type SuspiciousIP struct {
	IP           string           `json:"ip"`
	FailureCount int              `json:"failure_count"`
	FirstSeen    time.Time        `json:"first_seen"`
	LastSeen     time.Time        `json:"last_seen"`
	LastUsername string           `json:"last_username,omitempty"`
	Status       SuspiciousStatus `json:"status"`
}

// Host maps to the `hosts` table. Rows are created implicitly on first ingest
// or explicitly via the registration endpoint.
//
// CollectionMethod is "agent" for hosts shipping their own events and
// "forwarded" for hosts reported through an intermediary.
type Host struct {
	ID               string     `json:"id"`
	Name             string     `json:"name,omitempty"`
	IP               string     `json:"ip,omitempty"`
	CollectionMethod string     `json:"collection_method"`
	Status           HostStatus `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	LastSeen         *time.Time `json:"last_seen,omitempty"`
}

// Block maps to the `blocks` table.
//
// HostID is empty for global blocks. A nil ExpiresAt means the block is
// permanent and only an explicit unblock retires it.
type Block struct {
	ID          int64      `json:"id"`
	IP          string     `json:"ip"`
	Scope       BlockScope `json:"scope"`
	HostID      string     `json:"host_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	BlockedAt   time.Time  `json:"blocked_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
	UnblockedAt *time.Time `json:"unblocked_at,omitempty"`
}

// HostPolicy maps to the `host_policies` table: per-host overrides of the
// collector-wide detection settings. A nil field means "inherit".
type HostPolicy struct {
	HostID        string `json:"host_id"`
	Threshold     *int   `json:"threshold,omitempty"`
	TimeWindow    *int   `json:"time_window,omitempty"`
	BlockDuration *int   `json:"block_duration,omitempty"`
	AutoBlock     *bool  `json:"auto_block,omitempty"`
}

// Settings are the collector-wide detection parameters, persisted in the
// `settings` key/value table and seeded with defaults on migration.
//
// TimeWindow and BlockDuration are minutes. A BlockDuration of 0 produces
// permanent blocks.
type Settings struct {
	Threshold       int  `json:"threshold"`
	TimeWindow      int  `json:"time_window"`
	BlockDuration   int  `json:"block_duration"`
	AutoBlock       bool `json:"auto_block"`
	GlobalThreshold int  `json:"global_threshold"`
	GlobalAutoBlock bool `json:"global_auto_block"`
}

// DefaultSettings returns the values seeded into a fresh database.
func DefaultSettings() Settings {
	return Settings{
		Threshold:       5,
		TimeWindow:      5,
		BlockDuration:   60,
		AutoBlock:       true,
		GlobalThreshold: 5,
		GlobalAutoBlock: true,
	}
}

// UsernameCount is one row of the most-targeted-usernames projection.
type UsernameCount struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// SourceCount is one row of the most-active-sources projection.
type SourceCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// HourlyBucket is one hour of the 24-hour attack histogram. Hour is the
// truncated bucket start.
type HourlyBucket struct {
	Hour  time.Time `json:"hour"`
	Count int       `json:"count"`
}

// Statistics is the aggregate view served by the statistics endpoint.
type Statistics struct {
	TotalAttempts int             `json:"total_attempts"`
	UniqueIPs     int             `json:"unique_ips"`
	ActiveBlocks  int             `json:"active_blocks"`
	Last24h       int             `json:"last_24h"`
	LastHour      int             `json:"last_hour"`
	TopUsernames  []UsernameCount `json:"top_usernames"`
	Hourly        []HourlyBucket  `json:"hourly"`
}

// HostBreakdown is one host's slice of the fleet-wide statistics.
type HostBreakdown struct {
	HostID   string     `json:"host_id"`
	Name     string     `json:"name,omitempty"`
	Status   HostStatus `json:"status"`
	Attempts int        `json:"attempts"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// GlobalStatistics is the fleet-wide view: the full aggregate statistics
// plus a per-host breakdown and host liveness totals.
type GlobalStatistics struct {
	Statistics
	ActiveHosts   int             `json:"active_hosts"`
	InactiveHosts int             `json:"inactive_hosts"`
	Hosts         []HostBreakdown `json:"hosts"`
}

// HostAttackStats is the per-host attack summary: totals, recency windows,
// and the most-targeted usernames and most-active sources against one host.
// A host with no events yields the zero projection.
type HostAttackStats struct {
	HostID          string          `json:"host_id"`
	TotalAttacks    int             `json:"total_attacks"`
	UniqueAttackers int             `json:"unique_attackers"`
	Last24h         int             `json:"last_24h"`
	LastHour        int             `json:"last_hour"`
	TopUsernames    []UsernameCount `json:"top_usernames"`
	TopSources      []SourceCount   `json:"top_sources"`
}

// ParseEventTimestamp converts an agent timestamp string into the wall-clock
// instant used for window arithmetic. The fractional part is dropped; the
// exact string is preserved separately in FailedLogin.EventTimestamp.
func ParseEventTimestamp(s string) (time.Time, error) {
	base := s
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return time.ParseInLocation("2006-01-02T15:04:05", base, time.Local)
}
