package rest

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/bruteguard/bruteguard/internal/server/feed"
	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// ingestEvent is one failed login on the wire. All fields arrive as strings;
// logon_type and source_port are coerced to integers when possible and
// stored as NULL otherwise.
type ingestEvent struct {
	Timestamp   string `json:"timestamp"`
	IPAddress   string `json:"ip_address"`
	Username    string `json:"username"`
	LogonType   string `json:"logon_type"`
	Status      string `json:"status"`
	Workstation string `json:"workstation"`
	SourcePort  string `json:"source_port"`
}

// ingestBatch is the body of POST /api/v1/events.
type ingestBatch struct {
	HostID   string        `json:"host_id"`
	HostName string        `json:"host_name"`
	Events   []ingestEvent `json:"events"`
}

// ingestResponse acknowledges a batch. Accepted counts newly admitted
// events; replayed duplicates are acknowledged without being counted.
type ingestResponse struct {
	Success  bool `json:"success"`
	Accepted int  `json:"accepted"`
}

// handleIngest responds to POST /api/v1/events.
//
// The batch is processed event by event, each in its own transaction, so a
// malformed event never poisons the rest of the batch: unusable events are
// skipped with a warning. A 2xx response means every usable event is
// durably recorded; agents treat anything else as "retry the whole batch",
// which the per-event dedup makes safe.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var batch ingestBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if batch.HostID == "" {
		writeError(w, http.StatusBadRequest, "'host_id' is required")
		return
	}

	accepted := 0
	for _, wire := range batch.Events {
		ev, ok := s.toFailedLogin(wire, batch.HostID)
		if !ok {
			continue
		}

		res, err := s.store.IngestEvent(r.Context(), ev, batch.HostName)
		if err != nil {
			s.logger.Error("event ingest failed",
				slog.String("host_id", batch.HostID),
				slog.String("ip", ev.SourceIP),
				slog.Any("error", err),
			)
			writeError(w, http.StatusInternalServerError, "failed to record events")
			return
		}
		if !res.Admitted {
			continue
		}
		accepted++

		if s.hub != nil {
			s.hub.Publish(feed.Attack{
				SourceIP:       ev.SourceIP,
				TargetUsername: ev.Username,
				HostID:         ev.HostID,
				EventTimestamp: ev.EventTimestamp,
				AttemptNumber:  res.AttemptNumber,
			})
		}
		if s.detector != nil {
			// Detach from the request: an aborted upload must not cancel a
			// half-finished block decision.
			dctx := context.WithoutCancel(r.Context())
			if err := s.detector.Evaluate(dctx, ev.SourceIP, ev.HostID); err != nil {
				s.logger.Error("threshold evaluation failed",
					slog.String("ip", ev.SourceIP),
					slog.Any("error", err),
				)
			}
		}
	}

	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Accepted: accepted})
}

// ignoredSources are the loopback and empty-source placeholders that carry
// no attacker signal. Agents filter these already; the collector never
// trusts that.
var ignoredSources = map[string]struct{}{
	"":          {},
	"-":         {},
	"0.0.0.0":   {},
	"::1":       {},
	"127.0.0.1": {},
}

// maxFailureReason is the column width of failed_logins.failure_reason.
const maxFailureReason = 20

// toFailedLogin validates and converts one wire event. Events with an
// unusable source IP or timestamp are dropped, not failed: they carry no
// attacker signal worth aborting a batch over.
func (s *Server) toFailedLogin(wire ingestEvent, hostID string) (storage.FailedLogin, bool) {
	if _, ignored := ignoredSources[wire.IPAddress]; ignored || net.ParseIP(wire.IPAddress) == nil {
		s.logger.Warn("skipping event with unusable source ip",
			slog.String("host_id", hostID),
			slog.String("ip", wire.IPAddress),
		)
		return storage.FailedLogin{}, false
	}
	occurred, err := storage.ParseEventTimestamp(wire.Timestamp)
	if err != nil {
		s.logger.Warn("skipping event with unusable timestamp",
			slog.String("host_id", hostID),
			slog.String("timestamp", wire.Timestamp),
		)
		return storage.FailedLogin{}, false
	}

	reason := wire.Status
	if len(reason) > maxFailureReason {
		reason = reason[:maxFailureReason]
	}

	return storage.FailedLogin{
		SourceIP:       wire.IPAddress,
		Username:       wire.Username,
		SourceHost:     wire.Workstation,
		LogonType:      safeInt(wire.LogonType),
		FailureReason:  reason,
		SourcePort:     safeInt(wire.SourcePort),
		EventTimestamp: wire.Timestamp,
		OccurredAt:     occurred,
		HostID:         hostID,
		EventClass:     4625,
	}, true
}

// safeInt parses a decimal string, returning nil for anything unparseable
// ("-", "", garbage) so it lands in the database as NULL.
func safeInt(v string) *int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}
