package entries

import (
	"context"

	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, entry *models.Entry) error
	ListByUser(ctx context.Context, userID string) ([]*models.Entry, error)
}
