package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophmove/internal/dbx"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/entries"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/files"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/requests"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX so the same code runs
// against *sql.DB or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Entries(db dbx.DBTX) entries.Repository
	Files(db dbx.DBTX) files.Repository
	Requests(db dbx.DBTX) requests.Repository
}
