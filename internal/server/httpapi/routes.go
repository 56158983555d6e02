package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/server/federation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes builds the router:
//
//	GET  /api/health
//	POST /api/federation/migration-request
//	POST /{username}/api/federation/migration-backup-prepare
//	GET  /{username}/api/federation/migration-backup-chunk/{index}
//	POST /{username}/api/federation/migration-backup-cleanup
//	POST /{username}/api/federation/migration-complete
//	POST /{username}/api/federation/migration-failed
//	/api/admin/migrations/...  (operator bearer token)
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	r.Post(common.FederationPathPrefix+federation.AnnouncePath, s.handleAnnounce)

	r.Route("/{username}"+common.FederationPathPrefix, func(r chi.Router) {
		r.Post(federation.PreparePath, s.handlePrepare)
		r.Get(federation.ChunkPath+"/{index}", s.handleChunk)
		r.Post(federation.CleanupPath, s.handleCleanup)
		r.Post(federation.CompletePath, s.handleComplete)
		r.Post(federation.FailedPath, s.handleFailed)
	})

	r.Route("/api/admin/migrations", func(r chi.Router) {
		r.Use(s.operatorAuth)

		r.Get("/", s.handleList)
		r.Post("/outgoing", s.handleInitiate)
		r.Get("/{id}", s.handleGet)
		r.Post("/{id}/accept", s.handleAccept)
		r.Post("/{id}/reject", s.handleReject)
		r.Post("/{id}/transfer", s.handleTransfer)
	})

	return r
}
