package files

import (
	"context"

	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, file *models.File) error
	ListByUser(ctx context.Context, userID string) ([]*models.File, error)
	MarkUploaded(ctx context.Context, entryID string) error
}
