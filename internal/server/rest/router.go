package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns the configured chi.Router for the collector API.
//
// Route layout (all under /api/v1):
//
//	POST   /events             – agent batch ingestion
//	GET    /feed               – live SSE attack feed
//	GET    /health             – uptime, host count, database status
//	GET    /suspicious-ips     – tracked IPs ranked by lifetime failures
//	GET    /statistics         – aggregate attack statistics
//	GET    /statistics/global  – fleet-wide per-host breakdown
//	GET    /blocked-ips        – all active blocks
//	GET    /geo-attacks        – dashboard compatibility stub
//	POST   /block              – manual collector-wide block   (auth)
//	POST   /block/per-vm       – manual host-scoped block      (auth)
//	DELETE /block/{ip}         – unblock an IP                 (auth)
//	POST   /vms                – register a host               (auth)
//	GET    /vms                – list hosts
//	DELETE /vms/{id}           – soft-delete a host            (auth)
//	GET    /vms/{id}/attacks   – attack summary for one host
//	GET    /vms/{id}/policy    – per-host detection overrides
//	PUT    /vms/{id}/policy    – replace per-host overrides    (auth)
//
// jwtSecret guards the mutating routes with HS256 bearer tokens; pass nil to
// run the API open (single-operator deployments and tests).
func NewRouter(srv *Server, jwtSecret []byte, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", srv.handleHealth)
		r.Post("/events", srv.handleIngest)
		r.Get("/feed", srv.handleFeed)

		r.Get("/suspicious-ips", srv.handleSuspiciousIPs)
		r.Get("/statistics", srv.handleStatistics)
		r.Get("/statistics/global", srv.handleGlobalStatistics)
		r.Get("/blocked-ips", srv.handleBlockedIPs)
		r.Get("/geo-attacks", srv.handleGeoAttacks)

		r.Get("/vms", srv.handleListVMs)
		r.Get("/vms/{id}/attacks", srv.handleVMAttacks)
		r.Get("/vms/{id}/policy", srv.handleGetVMPolicy)

		r.Group(func(r chi.Router) {
			if jwtSecret != nil {
				r.Use(RequireAuth(jwtSecret, logger))
			}
			r.Post("/block", srv.handleBlock)
			r.Post("/block/per-vm", srv.handleBlockPerVM)
			r.Delete("/block/{ip}", srv.handleUnblock)
			r.Post("/vms", srv.handleCreateVM)
			r.Delete("/vms/{id}", srv.handleDeleteVM)
			r.Put("/vms/{id}/policy", srv.handlePutVMPolicy)
		})
	})

	return r
}
