// Package requests declares and implements durable storage for migration
// requests.
package requests

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

// Repository persists migration requests. Status changes go through
// UpdateStatus, which is a compare-and-set on the current status.
type Repository interface {
	// Create inserts a new request. A duplicate id or (direction, token)
	// yields common.ErrAlreadyExists.
	Create(ctx context.Context, req *models.MigrationRequest) error

	GetByID(ctx context.Context, id string) (*models.MigrationRequest, error)

	// FindByToken looks up the request holding token in the given direction.
	FindByToken(ctx context.Context, direction models.Direction, token string) (*models.MigrationRequest, error)

	List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error)

	// UpdateStatus applies upd only while the row is still in upd.From.
	// Otherwise it returns common.ErrInvalidState and changes nothing.
	UpdateStatus(ctx context.Context, upd models.StatusUpdate) error

	// FailInterrupted moves every incoming transferring request to failed.
	FailInterrupted(ctx context.Context, now time.Time, message string) ([]string, error)

	// FailExpired moves non-terminal requests whose token expired before now
	// to failed. Incoming requests in transferring are left to
	// FailInterrupted since a local transfer may still own them.
	FailExpired(ctx context.Context, now time.Time, message string) ([]string, error)
}
