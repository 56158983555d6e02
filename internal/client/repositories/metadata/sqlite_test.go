package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyToken, "tok-1"))

	v, err := r.Get(ctx, KeyToken)
	require.NoError(t, err)
	require.Equal(t, "tok-1", v)
}

func TestGet_Missing(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))

	_, err := r.Get(context.Background(), "absent")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSet_Upsert(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyOperator, "old"))
	require.NoError(t, r.Set(ctx, KeyOperator, "new"))

	v, err := r.Get(ctx, KeyOperator)
	require.NoError(t, err)
	require.Equal(t, "new", v)
}

func TestDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyToken, "tok"))
	require.NoError(t, r.Delete(ctx, KeyToken))
	require.NoError(t, r.Delete(ctx, KeyToken))

	_, err := r.Get(ctx, KeyToken)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestClosedDB(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	_, err := r.Get(context.Background(), KeyToken)
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrorNotFound)
	require.Error(t, r.Set(context.Background(), KeyToken, "x"))
}
