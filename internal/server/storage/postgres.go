package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup or mutation targets a row that does
// not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the PostgreSQL-backed storage layer for the BruteGuard collector.
//
// Event ingestion is transactional per event: the duplicate check, the
// failed_logins insert, the suspicious_ips counter bump and the hosts
// last-seen touch either all commit or none do. A replayed event is detected
// inside the same transaction and leaves every table untouched.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool connection to connStr and pings the database.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity; it backs the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// IngestResult reports the outcome of a single event ingestion.
//
// AttemptNumber is the lifetime failure counter for the source IP after this
// event was recorded; it is 0 when the event was a replayed duplicate.
type IngestResult struct {
	Admitted      bool
	AttemptNumber int
}

// IngestEvent records one failed login. hostName updates the reporting
// host's display name alongside its last-seen timestamp.
//
// The natural key is (host_id, source_ip, username, source_port,
// event_timestamp): an event already present under that key is acknowledged
// without modifying any row or counter, so agent retries after a lost
// response are harmless. Two same-second attempts from different source
// ports are distinct events.
func (s *Store) IngestEvent(ctx context.Context, ev FailedLogin, hostName string) (IngestResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin ingest tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM failed_logins
			WHERE  host_id = $1 AND source_ip = $2 AND username = $3 AND event_timestamp = $4
			AND    source_port IS NOT DISTINCT FROM $5
		)`,
		ev.HostID, ev.SourceIP, ev.Username, ev.EventTimestamp, ev.SourcePort,
	).Scan(&exists)
	if err != nil {
		return IngestResult{}, fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return IngestResult{}, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO failed_logins
			(source_ip, username, source_host, logon_type, failure_reason,
			 source_port, event_timestamp, occurred_at, host_id, event_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.SourceIP, ev.Username, nullableStr(ev.SourceHost),
		ev.LogonType, nullableStr(ev.FailureReason), ev.SourcePort,
		ev.EventTimestamp, ev.OccurredAt, ev.HostID, ev.EventClass,
	)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert failed login: %w", err)
	}

	// The lifetime counter only ever grows. A cleared IP that resumes
	// attacking is reactivated; a blocked one stays blocked.
	var attempt int
	err = tx.QueryRow(ctx, `
		INSERT INTO suspicious_ips (ip, failure_count, last_username)
		VALUES ($1, 1, $2)
		ON CONFLICT (ip) DO UPDATE SET
			failure_count = suspicious_ips.failure_count + 1,
			last_seen     = now(),
			last_username = EXCLUDED.last_username,
			status        = CASE WHEN suspicious_ips.status = 'cleared'
			                     THEN 'active' ELSE suspicious_ips.status END
		RETURNING failure_count`,
		ev.SourceIP, ev.Username,
	).Scan(&attempt)
	if err != nil {
		return IngestResult{}, fmt.Errorf("bump suspicious ip: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO hosts (id, name, last_seen)
		VALUES ($1, NULLIF($2, ''), now())
		ON CONFLICT (id) DO UPDATE SET
			name      = COALESCE(NULLIF($2, ''), hosts.name),
			last_seen = now()`,
		ev.HostID, hostName,
	)
	if err != nil {
		return IngestResult{}, fmt.Errorf("touch host: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, fmt.Errorf("commit ingest tx: %w", err)
	}
	return IngestResult{Admitted: true, AttemptNumber: attempt}, nil
}

// FailuresInWindow counts admitted failures from ip across all hosts with
// occurred_at at or after since.
func (s *Store) FailuresInWindow(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM failed_logins
		WHERE  source_ip = $1 AND occurred_at >= $2`,
		ip, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count window failures: %w", err)
	}
	return n, nil
}

// HostFailuresInWindow counts admitted failures from ip against a single
// host with occurred_at at or after since.
func (s *Store) HostFailuresInWindow(ctx context.Context, ip, hostID string, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM failed_logins
		WHERE  source_ip = $1 AND host_id = $2 AND occurred_at >= $3`,
		ip, hostID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count host window failures: %w", err)
	}
	return n, nil
}

// --- settings and policies ---

// GetSettings reads the collector-wide detection parameters, falling back to
// the defaults for any missing or malformed row.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	set := DefaultSettings()
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return set, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return set, fmt.Errorf("scan setting: %w", err)
		}
		switch k {
		case keyThreshold:
			if n, err := strconv.Atoi(v); err == nil {
				set.Threshold = n
			}
		case keyTimeWindow:
			if n, err := strconv.Atoi(v); err == nil {
				set.TimeWindow = n
			}
		case keyBlockDuration:
			if n, err := strconv.Atoi(v); err == nil {
				set.BlockDuration = n
			}
		case keyAutoBlock:
			if b, err := strconv.ParseBool(v); err == nil {
				set.AutoBlock = b
			}
		case keyGlobalThreshold:
			if n, err := strconv.Atoi(v); err == nil {
				set.GlobalThreshold = n
			}
		case keyGlobalAutoBlock:
			if b, err := strconv.ParseBool(v); err == nil {
				set.GlobalAutoBlock = b
			}
		}
	}
	return set, rows.Err()
}

// GetHostPolicy returns the per-host overrides for hostID, or nil when none
// are configured.
func (s *Store) GetHostPolicy(ctx context.Context, hostID string) (*HostPolicy, error) {
	p := HostPolicy{HostID: hostID}
	err := s.pool.QueryRow(ctx, `
		SELECT threshold, time_window, block_duration, auto_block
		FROM   host_policies
		WHERE  host_id = $1`, hostID,
	).Scan(&p.Threshold, &p.TimeWindow, &p.BlockDuration, &p.AutoBlock)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get host policy %s: %w", hostID, err)
	}
	return &p, nil
}

// UpsertHostPolicy replaces the per-host overrides for p.HostID.
func (s *Store) UpsertHostPolicy(ctx context.Context, p HostPolicy) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO host_policies (host_id, threshold, time_window, block_duration, auto_block)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host_id) DO UPDATE SET
			threshold      = EXCLUDED.threshold,
			time_window    = EXCLUDED.time_window,
			block_duration = EXCLUDED.block_duration,
			auto_block     = EXCLUDED.auto_block`,
		p.HostID, p.Threshold, p.TimeWindow, p.BlockDuration, p.AutoBlock,
	)
	if err != nil {
		return fmt.Errorf("upsert host policy %s: %w", p.HostID, err)
	}
	return nil
}

// --- blocks ---

// CreateBlock inserts b and marks the suspicious IP record as blocked, in one
// transaction. The persisted block (with ID and BlockedAt) is returned.
func (s *Store) CreateBlock(ctx context.Context, b Block) (*Block, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin block tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO blocks (ip, scope, host_id, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, blocked_at`,
		b.IP, string(b.Scope), nullableStr(b.HostID), nullableStr(b.Reason), b.ExpiresAt,
	).Scan(&b.ID, &b.BlockedAt)
	if err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}
	b.Active = true

	_, err = tx.Exec(ctx, `
		INSERT INTO suspicious_ips (ip, failure_count, status)
		VALUES ($1, 0, 'blocked')
		ON CONFLICT (ip) DO UPDATE SET status = 'blocked'`,
		b.IP,
	)
	if err != nil {
		return nil, fmt.Errorf("mark ip blocked: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit block tx: %w", err)
	}
	return &b, nil
}

// HasActiveBlock reports whether ip currently has an active block of the
// given scope. hostID is ignored for the global scope.
func (s *Store) HasActiveBlock(ctx context.Context, ip string, scope BlockScope, hostID string) (bool, error) {
	var exists bool
	var err error
	if scope == ScopeGlobal {
		err = s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM blocks
				WHERE  ip = $1 AND scope = 'global' AND active
			)`, ip).Scan(&exists)
	} else {
		err = s.pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM blocks
				WHERE  ip = $1 AND scope = 'host' AND host_id = $2 AND active
			)`, ip, hostID).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("check active block: %w", err)
	}
	return exists, nil
}

// DeactivateBlocks retires every active block for ip, regardless of scope,
// and marks the suspicious record cleared. It returns the number of blocks
// retired; zero with ErrNotFound when the IP had no active block.
func (s *Store) DeactivateBlocks(ctx context.Context, ip string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin unblock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE blocks
		SET    active = FALSE, unblocked_at = now()
		WHERE  ip = $1 AND active`, ip)
	if err != nil {
		return 0, fmt.Errorf("deactivate blocks: %w", err)
	}
	n := int(tag.RowsAffected())
	if n == 0 {
		return 0, ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE suspicious_ips SET status = 'cleared' WHERE ip = $1`, ip)
	if err != nil {
		return 0, fmt.Errorf("clear suspicious ip: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit unblock tx: %w", err)
	}
	return n, nil
}

// ExpiredActiveBlocks returns blocks that are still active but whose
// expires_at has passed as of now.
func (s *Store) ExpiredActiveBlocks(ctx context.Context, now time.Time) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ip, scope, host_id, reason, blocked_at, expires_at, active, unblocked_at
		FROM   blocks
		WHERE  active AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER  BY expires_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired blocks: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

// MarkBlockInactive retires one block by ID. The suspicious record is
// cleared only when this was the last active block for the IP.
func (s *Store) MarkBlockInactive(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin expire tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var ip string
	err = tx.QueryRow(ctx, `
		UPDATE blocks
		SET    active = FALSE, unblocked_at = now()
		WHERE  id = $1 AND active
		RETURNING ip`, id,
	).Scan(&ip)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("expire block %d: %w", id, err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE suspicious_ips
		SET    status = 'cleared'
		WHERE  ip = $1
		AND    NOT EXISTS (SELECT 1 FROM blocks WHERE ip = $1 AND active)`, ip)
	if err != nil {
		return fmt.Errorf("clear suspicious ip: %w", err)
	}

	return tx.Commit(ctx)
}

// ListActiveBlocks returns all currently active blocks, newest first.
func (s *Store) ListActiveBlocks(ctx context.Context) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ip, scope, host_id, reason, blocked_at, expires_at, active, unblocked_at
		FROM   blocks
		WHERE  active
		ORDER  BY blocked_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list active blocks: %w", err)
	}
	defer rows.Close()
	return collectBlocks(rows)
}

// --- suspicious IPs ---

// SuspiciousIPs returns active tracked IPs whose lifetime failure counter
// has reached threshold, ranked by that counter, highest first. Blocked and
// cleared records are excluded.
//
// The lifetime counter ranks the projection only; block decisions always
// come from a windowed count of failed_logins rows.
func (s *Store) SuspiciousIPs(ctx context.Context, threshold int) ([]SuspiciousIP, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip, failure_count, first_seen, last_seen, last_username, status
		FROM   suspicious_ips
		WHERE  failure_count >= $1 AND status = 'active'
		ORDER  BY failure_count DESC, last_seen DESC`, threshold)
	if err != nil {
		return nil, fmt.Errorf("list suspicious ips: %w", err)
	}
	defer rows.Close()

	var out []SuspiciousIP
	for rows.Next() {
		var rec SuspiciousIP
		var lastUser *string
		var status string
		if err := rows.Scan(&rec.IP, &rec.FailureCount, &rec.FirstSeen, &rec.LastSeen, &lastUser, &status); err != nil {
			return nil, fmt.Errorf("scan suspicious ip: %w", err)
		}
		rec.Status = SuspiciousStatus(status)
		if lastUser != nil {
			rec.LastUsername = *lastUser
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkSuspiciousStatus sets the lifecycle status of a tracked IP.
func (s *Store) MarkSuspiciousStatus(ctx context.Context, ip string, status SuspiciousStatus) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE suspicious_ips SET status = $2 WHERE ip = $1`, ip, string(status))
	if err != nil {
		return fmt.Errorf("mark suspicious %s: %w", ip, err)
	}
	return nil
}

// --- hosts ---

// CreateHost registers a host. Re-registering an existing ID updates its
// name, address and collection method, and reactivates it. An empty method
// defaults to "agent".
func (s *Store) CreateHost(ctx context.Context, id, name, hostIP, method string) (*Host, error) {
	if method == "" {
		method = "agent"
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO hosts (id, name, ip, collection_method)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		ON CONFLICT (id) DO UPDATE SET
			name              = COALESCE(NULLIF($2, ''), hosts.name),
			ip                = COALESCE(NULLIF($3, ''), hosts.ip),
			collection_method = $4,
			status            = 'active'
		RETURNING id, name, ip, collection_method, status, created_at, last_seen`,
		id, name, hostIP, method)
	h, err := scanHost(row)
	if err != nil {
		return nil, fmt.Errorf("create host %s: %w", id, err)
	}
	return h, nil
}

// GetHost returns the host with the given ID, or ErrNotFound.
func (s *Store) GetHost(ctx context.Context, id string) (*Host, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, ip, collection_method, status, created_at, last_seen
		FROM   hosts
		WHERE  id = $1`, id)
	h, err := scanHost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", id, err)
	}
	return h, nil
}

// ListHosts returns all hosts, active and inactive, ordered by ID.
func (s *Store) ListHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, ip, collection_method, status, created_at, last_seen
		FROM   hosts
		ORDER  BY id`)
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

// ActiveHostCount counts hosts with status 'active'; it backs the health
// endpoint.
func (s *Store) ActiveHostCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM hosts WHERE status = 'active'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active hosts: %w", err)
	}
	return n, nil
}

// SoftDeleteHost marks a host inactive. Its attack history is retained.
func (s *Store) SoftDeleteHost(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE hosts SET status = 'inactive' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soft delete host %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HostAttackStats computes the attack summary for one host: totals, recency
// windows, and the ten most-targeted usernames and most-active sources. A
// host with no recorded events yields the zero projection.
func (s *Store) HostAttackStats(ctx context.Context, hostID string) (*HostAttackStats, error) {
	st := HostAttackStats{HostID: hostID}
	now := time.Now()

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(DISTINCT source_ip),
		       count(*) FILTER (WHERE occurred_at >= $2),
		       count(*) FILTER (WHERE occurred_at >= $3)
		FROM   failed_logins
		WHERE  host_id = $1`,
		hostID, now.Add(-24*time.Hour), now.Add(-time.Hour),
	).Scan(&st.TotalAttacks, &st.UniqueAttackers, &st.Last24h, &st.LastHour)
	if err != nil {
		return nil, fmt.Errorf("count host attacks: %w", err)
	}

	st.TopUsernames, err = s.topUsernames(ctx, hostID)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT source_ip, count(*)
		FROM   failed_logins
		WHERE  host_id = $1
		GROUP  BY source_ip
		ORDER  BY count(*) DESC, source_ip
		LIMIT  10`, hostID)
	if err != nil {
		return nil, fmt.Errorf("top host sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.IP, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		st.TopSources = append(st.TopSources, sc)
	}
	return &st, rows.Err()
}

// --- statistics ---

// Statistics computes the aggregate attack view: lifetime totals, recency
// windows, the ten most-targeted usernames, and a 24-bucket hourly
// histogram ending at the current hour.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	now := time.Now()

	err := s.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(DISTINCT source_ip),
		       count(*) FILTER (WHERE occurred_at >= $1),
		       count(*) FILTER (WHERE occurred_at >= $2)
		FROM   failed_logins`,
		now.Add(-24*time.Hour), now.Add(-time.Hour),
	).Scan(&st.TotalAttempts, &st.UniqueIPs, &st.Last24h, &st.LastHour)
	if err != nil {
		return nil, fmt.Errorf("count totals: %w", err)
	}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM blocks WHERE active`).Scan(&st.ActiveBlocks); err != nil {
		return nil, fmt.Errorf("count active blocks: %w", err)
	}

	st.TopUsernames, err = s.topUsernames(ctx, "")
	if err != nil {
		return nil, err
	}

	st.Hourly, err = s.hourlyHistogram(ctx, now)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// topUsernames returns the ten most-targeted usernames, across the fleet
// when hostID is empty or for a single host otherwise.
func (s *Store) topUsernames(ctx context.Context, hostID string) ([]UsernameCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, count(*)
		FROM   failed_logins
		WHERE  $1 = '' OR host_id = $1
		GROUP  BY username
		ORDER  BY count(*) DESC, username
		LIMIT  10`, hostID)
	if err != nil {
		return nil, fmt.Errorf("top usernames: %w", err)
	}
	defer rows.Close()

	var out []UsernameCount
	for rows.Next() {
		var uc UsernameCount
		if err := rows.Scan(&uc.Username, &uc.Count); err != nil {
			return nil, fmt.Errorf("scan username count: %w", err)
		}
		out = append(out, uc)
	}
	return out, rows.Err()
}

// hourlyHistogram returns 24 hour-buckets ending at the hour containing now.
// Empty buckets are materialized with a zero count.
func (s *Store) hourlyHistogram(ctx context.Context, now time.Time) ([]HourlyBucket, error) {
	end := now.Truncate(time.Hour)
	start := end.Add(-23 * time.Hour)

	rows, err := s.pool.Query(ctx, `
		SELECT date_trunc('hour', occurred_at) AS bucket, count(*)
		FROM   failed_logins
		WHERE  occurred_at >= $1
		GROUP  BY bucket`, start)
	if err != nil {
		return nil, fmt.Errorf("hourly histogram: %w", err)
	}
	defer rows.Close()

	// The column is a zoneless timestamp, so buckets come back as wall-clock
	// values; compare by formatted wall clock rather than time.Time equality.
	const bucketKey = "2006-01-02T15"
	counts := make(map[string]int, 24)
	for rows.Next() {
		var bucket time.Time
		var n int
		if err := rows.Scan(&bucket, &n); err != nil {
			return nil, fmt.Errorf("scan histogram bucket: %w", err)
		}
		counts[bucket.Format(bucketKey)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]HourlyBucket, 0, 24)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		out = append(out, HourlyBucket{Hour: h, Count: counts[h.Format(bucketKey)]})
	}
	return out, nil
}

// GlobalStatistics computes the fleet-wide view: the same aggregates as
// Statistics plus per-host attack counts and host liveness totals.
func (s *Store) GlobalStatistics(ctx context.Context) (*GlobalStatistics, error) {
	var gs GlobalStatistics

	st, err := s.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	gs.Statistics = *st

	rows, err := s.pool.Query(ctx, `
		SELECT h.id, h.name, h.status, h.last_seen, COALESCE(c.n, 0)
		FROM   hosts h
		LEFT JOIN (
			SELECT host_id, count(*) AS n FROM failed_logins GROUP BY host_id
		) c ON c.host_id = h.id
		ORDER  BY h.id`)
	if err != nil {
		return nil, fmt.Errorf("per-host breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hb HostBreakdown
		var name *string
		var status string
		if err := rows.Scan(&hb.HostID, &name, &status, &hb.LastSeen, &hb.Attempts); err != nil {
			return nil, fmt.Errorf("scan host breakdown: %w", err)
		}
		hb.Status = HostStatus(status)
		if name != nil {
			hb.Name = *name
		}
		if hb.Status == HostActive {
			gs.ActiveHosts++
		} else {
			gs.InactiveHosts++
		}
		gs.Hosts = append(gs.Hosts, hb)
	}
	return &gs, rows.Err()
}

// --- internal helpers ---

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

func scanHost(sc scanner) (*Host, error) {
	var h Host
	var name, ip *string
	var status string
	if err := sc.Scan(&h.ID, &name, &ip, &h.CollectionMethod, &status, &h.CreatedAt, &h.LastSeen); err != nil {
		return nil, err
	}
	h.Status = HostStatus(status)
	if name != nil {
		h.Name = *name
	}
	if ip != nil {
		h.IP = *ip
	}
	return &h, nil
}

func scanBlock(sc scanner) (*Block, error) {
	var b Block
	var scope string
	var hostID, reason *string
	err := sc.Scan(&b.ID, &b.IP, &scope, &hostID, &reason,
		&b.BlockedAt, &b.ExpiresAt, &b.Active, &b.UnblockedAt)
	if err != nil {
		return nil, err
	}
	b.Scope = BlockScope(scope)
	if hostID != nil {
		b.HostID = *hostID
	}
	if reason != nil {
		b.Reason = *reason
	}
	return &b, nil
}

func collectBlocks(rows pgx.Rows) ([]Block, error) {
	var out []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// nullableStr converts an empty string to a nil pointer, which pgx stores as
// SQL NULL.
func nullableStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
