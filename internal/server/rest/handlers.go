// Package rest provides the HTTP API of the BruteGuard collector: event
// ingestion, attack queries, the block lifecycle endpoints, host management,
// and the live SSE attack feed.
package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bruteguard/bruteguard/internal/server/feed"
	"github.com/bruteguard/bruteguard/internal/server/storage"
)

// envelope is the uniform response wrapper. Every endpoint reports success
// explicitly so dashboard clients can branch without inspecting HTTP codes.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	store    Store
	blocker  Blocker
	detector Detector
	hub      *feed.Hub
	logger   *slog.Logger
	started  time.Time
}

// NewServer creates a Server. detector may be nil, in which case ingestion
// skips threshold evaluation (used by tests that cover only the HTTP layer).
func NewServer(store Store, blocker Blocker, detector Detector, hub *feed.Hub, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		blocker:  blocker,
		detector: detector,
		hub:      hub,
		logger:   logger,
		started:  time.Now(),
	}
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveHosts   int    `json:"active_hosts"`
	DBConnected   bool   `json:"db_connected"`
}

// handleHealth responds to GET /api/v1/health. A failing database turns the
// status unhealthy but still answers 200; monitoring reads the body, not the
// code. No authentication required.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if err := s.store.Ping(r.Context()); err != nil {
		resp.Status = "unhealthy"
		writeData(w, http.StatusOK, resp)
		return
	}
	resp.DBConnected = true

	n, err := s.store.ActiveHostCount(r.Context())
	if err != nil {
		s.logger.Error("active host count failed", slog.Any("error", err))
		resp.Status = "unhealthy"
		resp.DBConnected = false
		writeData(w, http.StatusOK, resp)
		return
	}
	resp.ActiveHosts = n
	writeData(w, http.StatusOK, resp)
}

// defaultSuspiciousThreshold is the lifetime-count floor applied when the
// threshold query parameter is absent.
const defaultSuspiciousThreshold = 5

// handleSuspiciousIPs responds to GET /api/v1/suspicious-ips.
//
// Only active records at or above the lifetime-count threshold are returned,
// ranked by that counter, highest first.
func (s *Server) handleSuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	threshold := defaultSuspiciousThreshold
	if ts := r.URL.Query().Get("threshold"); ts != "" {
		n, err := strconv.Atoi(ts)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "'threshold' must be a non-negative integer")
			return
		}
		threshold = n
	}

	ips, err := s.store.SuspiciousIPs(r.Context(), threshold)
	if err != nil {
		s.logger.Error("suspicious-ips query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list suspicious ips")
		return
	}
	if ips == nil {
		ips = []storage.SuspiciousIP{}
	}
	writeData(w, http.StatusOK, ips)
}

// handleStatistics responds to GET /api/v1/statistics.
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Statistics(r.Context())
	if err != nil {
		s.logger.Error("statistics query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	writeData(w, http.StatusOK, st)
}

// handleGlobalStatistics responds to GET /api/v1/statistics/global.
func (s *Server) handleGlobalStatistics(w http.ResponseWriter, r *http.Request) {
	gs, err := s.store.GlobalStatistics(r.Context())
	if err != nil {
		s.logger.Error("global statistics query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute global statistics")
		return
	}
	writeData(w, http.StatusOK, gs)
}

// handleBlockedIPs responds to GET /api/v1/blocked-ips with all currently
// active blocks.
func (s *Server) handleBlockedIPs(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.store.ListActiveBlocks(r.Context())
	if err != nil {
		s.logger.Error("blocked-ips query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list blocks")
		return
	}
	if blocks == nil {
		blocks = []storage.Block{}
	}
	writeData(w, http.StatusOK, blocks)
}

// defaultBlockMinutes is applied when duration_minutes is omitted. An
// explicit 0 creates a permanent block.
const defaultBlockMinutes = 120

// blockRequest is the body of the manual block endpoints.
type blockRequest struct {
	IPAddress       string `json:"ip_address"`
	Reason          string `json:"reason"`
	DurationMinutes *int   `json:"duration_minutes"`
	VMID            string `json:"vm_id"`
}

// handleBlock responds to POST /api/v1/block: a manual, collector-wide
// block.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	s.createManualBlock(w, r, storage.ScopeGlobal)
}

// handleBlockPerVM responds to POST /api/v1/block/per-vm: a manual block
// scoped to the host named in the body's vm_id field.
func (s *Server) handleBlockPerVM(w http.ResponseWriter, r *http.Request) {
	s.createManualBlock(w, r, storage.ScopeHost)
}

func (s *Server) createManualBlock(w http.ResponseWriter, r *http.Request, scope storage.BlockScope) {
	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if net.ParseIP(req.IPAddress) == nil {
		writeError(w, http.StatusBadRequest, "'ip_address' must be a valid IP address")
		return
	}
	hostID := ""
	if scope == storage.ScopeHost {
		if req.VMID == "" {
			writeError(w, http.StatusBadRequest, "'vm_id' is required")
			return
		}
		if _, err := s.store.GetHost(r.Context(), req.VMID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, "unknown vm")
				return
			}
			s.logger.Error("host lookup failed", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to look up vm")
			return
		}
		hostID = req.VMID
	}

	reason := req.Reason
	if reason == "" {
		reason = "manual block"
	}
	minutes := defaultBlockMinutes
	if req.DurationMinutes != nil {
		minutes = *req.DurationMinutes
	}
	b, err := s.blocker.Block(r.Context(), req.IPAddress, scope, hostID, reason,
		time.Duration(minutes)*time.Minute)
	if err != nil {
		s.logger.Error("manual block failed", slog.String("ip", req.IPAddress), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to create block")
		return
	}
	writeData(w, http.StatusOK, b)
}

// handleUnblock responds to DELETE /api/v1/block/{ip}. All active blocks for
// the IP are retired regardless of scope.
func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		writeError(w, http.StatusBadRequest, "'ip' must be a valid IP address")
		return
	}

	n, err := s.blocker.Unblock(r.Context(), ip)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no active block for ip")
			return
		}
		s.logger.Error("unblock failed", slog.String("ip", ip), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to unblock")
		return
	}
	writeData(w, http.StatusOK, map[string]int{"unblocked": n})
}

// handleGeoAttacks responds to GET /api/v1/geo-attacks. Geo enrichment is
// not performed server-side; the endpoint exists for dashboard compatibility
// and always returns an empty collection.
func (s *Server) handleGeoAttacks(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, []any{})
}

// --- host management ---

// vmRequest is the body of POST /api/v1/vms. An omitted collection_method
// defaults to "agent".
type vmRequest struct {
	VMID             string `json:"vm_id"`
	Hostname         string `json:"hostname"`
	IPAddress        string `json:"ip_address"`
	CollectionMethod string `json:"collection_method"`
}

// handleCreateVM responds to POST /api/v1/vms. Registering an existing ID
// updates its attributes and reactivates it.
func (s *Server) handleCreateVM(w http.ResponseWriter, r *http.Request) {
	var req vmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.VMID == "" {
		writeError(w, http.StatusBadRequest, "'vm_id' is required")
		return
	}
	switch req.CollectionMethod {
	case "", "agent", "forwarded":
	default:
		writeError(w, http.StatusBadRequest, "'collection_method' must be 'agent' or 'forwarded'")
		return
	}

	h, err := s.store.CreateHost(r.Context(), req.VMID, req.Hostname, req.IPAddress, req.CollectionMethod)
	if err != nil {
		s.logger.Error("vm registration failed", slog.String("vm_id", req.VMID), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to register vm")
		return
	}
	writeData(w, http.StatusOK, h)
}

// handleListVMs responds to GET /api/v1/vms with all hosts, active and
// inactive.
func (s *Server) handleListVMs(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.store.ListHosts(r.Context())
	if err != nil {
		s.logger.Error("vm list failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to list vms")
		return
	}
	if hosts == nil {
		hosts = []storage.Host{}
	}
	writeData(w, http.StatusOK, hosts)
}

// handleDeleteVM responds to DELETE /api/v1/vms/{id}. Hosts are
// soft-deleted: the row is marked inactive and its attack history survives.
func (s *Server) handleDeleteVM(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.store.SoftDeleteHost(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown vm")
		return
	}
	if err != nil {
		s.logger.Error("vm delete failed", slog.String("vm_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to delete vm")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"id": id, "status": string(storage.HostInactive)})
}

// handleVMAttacks responds to GET /api/v1/vms/{id}/attacks: the attack
// summary for one host. A host with no events gets the zero projection.
func (s *Server) handleVMAttacks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetHost(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown vm")
			return
		}
		s.logger.Error("host lookup failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to look up vm")
		return
	}

	st, err := s.store.HostAttackStats(r.Context(), id)
	if err != nil {
		s.logger.Error("vm attack stats failed", slog.String("vm_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to compute attack stats")
		return
	}
	writeData(w, http.StatusOK, st)
}

// handleGetVMPolicy responds to GET /api/v1/vms/{id}/policy. A host with no
// overrides returns an empty policy object.
func (s *Server) handleGetVMPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetHost(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown vm")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up vm")
		return
	}

	p, err := s.store.GetHostPolicy(r.Context(), id)
	if err != nil {
		s.logger.Error("policy query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to read policy")
		return
	}
	if p == nil {
		p = &storage.HostPolicy{HostID: id}
	}
	writeData(w, http.StatusOK, p)
}

// handlePutVMPolicy responds to PUT /api/v1/vms/{id}/policy, replacing the
// host's detection overrides. Omitted fields inherit the collector-wide
// settings.
func (s *Server) handlePutVMPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetHost(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown vm")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to look up vm")
		return
	}

	var p storage.HostPolicy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p.HostID = id

	if err := s.store.UpsertHostPolicy(r.Context(), p); err != nil {
		s.logger.Error("policy update failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "failed to update policy")
		return
	}
	writeData(w, http.StatusOK, p)
}
