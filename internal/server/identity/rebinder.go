// Package identity recreates a migrated account on the target under its
// original stable identifier.
package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/cryptox"
	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
)

// NewAccount carries what the rebinder needs to recreate an account.
// Password is nil when the archive held no usable verification material.
type NewAccount struct {
	ID       string
	UserName string
	Email    string
	Password *models.Credentials
}

type Rebinder struct {
	repos  repomanager.RepositoryManager
	logger logging.Logger
	now    func() time.Time
}

func NewRebinder(repos repomanager.RepositoryManager, logger logging.Logger) *Rebinder {
	return &Rebinder{repos: repos, logger: logger.With("module", "identity"), now: time.Now}
}

// CreateAccount inserts the account through tx with exactly acc.ID as its
// identifier. The role is always models.RoleUser whatever the source held.
// Without password material a random one is set and the account must change
// it on first login.
func (r *Rebinder) CreateAccount(ctx context.Context, tx dbx.DBTX, acc NewAccount) (*models.User, error) {
	if strings.TrimSpace(acc.ID) == "" || strings.TrimSpace(acc.UserName) == "" {
		return nil, fmt.Errorf("%w: account id and username are required", common.ErrValidation)
	}

	user := &models.User{
		ID:        acc.ID,
		UserName:  acc.UserName,
		Email:     acc.Email,
		Role:      models.RoleUser,
		CreatedAt: r.now().UTC(),
	}

	if acc.Password != nil && len(acc.Password.Salt) > 0 && len(acc.Password.Verifier) > 0 {
		user.Salt = acc.Password.Salt
		user.Verifier = acc.Password.Verifier
	} else {
		user.Salt, user.Verifier = cryptox.RandomCredentials()
		user.RequirePasswordChange = true
	}

	created, err := r.repos.Users(tx).Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("create account %s: %w", acc.ID, err)
	}

	r.logger.Info(ctx, "account rebound", "user_id", created.ID, "username", created.UserName,
		"require_password_change", created.RequirePasswordChange)
	return created, nil
}
