package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/client/client"
	"github.com/dmitrijs2005/gophmove/internal/client/config"
	"github.com/dmitrijs2005/gophmove/internal/client/repositories/journal"
	"github.com/dmitrijs2005/gophmove/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophmove/internal/common"
)

// DefaultDatabase is the local SQLite file in the working directory.
const DefaultDatabase = "gophmove-cli.db"

type App struct {
	config  *config.Config
	api     client.Client
	meta    metadata.Repository
	journal journal.Repository
	db      *sql.DB

	reader *bufio.Reader
	out    io.Writer
	now    func() time.Time

	operator string
}

// NewApp opens the local database and restores a saved operator token
// unless one was configured explicitly.
func NewApp(ctx context.Context, c *config.Config, dbPath string) (*App, error) {
	db, err := client.InitDatabase(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	a := &App{
		config:  c,
		api:     client.NewHTTPClient(c.ServerURL, c.Token, c.ConnectTimeout, c.RequestTimeout),
		meta:    metadata.NewSQLiteRepository(db),
		journal: journal.NewSQLiteRepository(db),
		db:      db,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		now:     time.Now,
	}

	if err := a.restoreSession(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) restoreSession(ctx context.Context) error {
	if op, err := a.meta.Get(ctx, metadata.KeyOperator); err == nil {
		a.operator = op
	} else if !errors.Is(err, common.ErrorNotFound) {
		return err
	}

	if a.config.Token != "" {
		return nil
	}
	token, err := a.meta.Get(ctx, metadata.KeyToken)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	a.api.SetToken(token)
	return nil
}

// Run executes args as one command, or starts the REPL when args is empty.
func (a *App) Run(ctx context.Context, args []string) error {
	defer a.db.Close()

	if len(args) > 0 {
		return a.Execute(ctx, args)
	}

	fmt.Fprintln(a.out, "gophmove operator CLI (type 'help' for commands)")
	runREPL(ctx, a, a.prompt, bufio.NewScanner(os.Stdin), a.out)
	return nil
}

func (a *App) prompt() string {
	if a.operator == "" {
		return "gophmove> "
	}
	return fmt.Sprintf("gophmove (%s)> ", a.operator)
}
