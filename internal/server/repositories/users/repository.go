package users

import (
	"context"

	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	SetMigratedTo(ctx context.Context, id string, domain string) error
}
