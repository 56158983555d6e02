package identity

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAccount_KeepsIdentifierAndPassword(t *testing.T) {
	ctx := context.Background()
	repos := repomanager.NewInMemoryRepositoryManager()
	r := NewRebinder(repos, logging.Nop())

	u, err := r.CreateAccount(ctx, nil, NewAccount{
		ID:       "0b7c4a4e-original",
		UserName: "alice",
		Email:    "alice@example.com",
		Password: &models.Credentials{Salt: []byte("salt"), Verifier: []byte("verifier")},
	})
	require.NoError(t, err)
	assert.Equal(t, "0b7c4a4e-original", u.ID)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.False(t, u.RequirePasswordChange)
	assert.Equal(t, []byte("verifier"), u.Verifier)

	stored, err := repos.Users(nil).GetByID(ctx, "0b7c4a4e-original")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.UserName)
	assert.Equal(t, []byte("salt"), stored.Salt)
}

func TestCreateAccount_RandomPasswordWhenMissing(t *testing.T) {
	tests := []struct {
		name     string
		password *models.Credentials
	}{
		{"nil", nil},
		{"empty verifier", &models.Credentials{Salt: []byte("salt")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRebinder(repomanager.NewInMemoryRepositoryManager(), logging.Nop())
			u, err := r.CreateAccount(context.Background(), nil, NewAccount{ID: "u1", UserName: "bob", Password: tt.password})
			require.NoError(t, err)
			assert.True(t, u.RequirePasswordChange)
			assert.Len(t, u.Salt, 32)
			assert.Len(t, u.Verifier, 32)
			assert.Equal(t, models.RoleUser, u.Role)
		})
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	r := NewRebinder(repomanager.NewInMemoryRepositoryManager(), logging.Nop())
	_, err := r.CreateAccount(context.Background(), nil, NewAccount{UserName: "x"})
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = r.CreateAccount(context.Background(), nil, NewAccount{ID: "x"})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestCreateAccount_Duplicate(t *testing.T) {
	ctx := context.Background()
	r := NewRebinder(repomanager.NewInMemoryRepositoryManager(), logging.Nop())
	_, err := r.CreateAccount(ctx, nil, NewAccount{ID: "u1", UserName: "alice"})
	require.NoError(t, err)

	_, err = r.CreateAccount(ctx, nil, NewAccount{ID: "u1", UserName: "other"})
	require.ErrorIs(t, err, common.ErrAlreadyExists)
	_, err = r.CreateAccount(ctx, nil, NewAccount{ID: "u2", UserName: "alice"})
	require.ErrorIs(t, err, common.ErrAlreadyExists)
}
