// Package federation is the server-to-server side of a migration: the wire
// messages exchanged between instances and an HTTP client for calling a
// peer instance.
package federation

import "github.com/dmitrijs2005/gophmove/internal/server/models"

// Federation endpoint names, relative to common.FederationPathPrefix.
const (
	PreparePath  = "/migration-backup-prepare"
	ChunkPath    = "/migration-backup-chunk"
	CleanupPath  = "/migration-backup-cleanup"
	CompletePath = "/migration-complete"
	FailedPath   = "/migration-failed"
	AnnouncePath = "/migration-request"
)

type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type CompleteRequest struct {
	MigrationToken string `json:"migration_token" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

// FailedRequest tells the source the target gave up on the migration.
type FailedRequest struct {
	MigrationToken string `json:"migration_token" validate:"required"`
	Reason         string `json:"reason" validate:"max=1024"`
}

// Ack is the body of every federation response without a payload, and of
// every error response.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type PrepareResponse struct {
	Success  bool             `json:"success"`
	Manifest *models.Manifest `json:"manifest"`
}

type AnnounceResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}
