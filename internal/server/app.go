// Package server wires the migration service together: storage backends,
// the federation client, the chunk server and the HTTP API. It also runs
// startup recovery and the background janitor.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/filex"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/backup"
	"github.com/dmitrijs2005/gophmove/internal/server/blobstore"
	"github.com/dmitrijs2005/gophmove/internal/server/chunks"
	"github.com/dmitrijs2005/gophmove/internal/server/config"
	"github.com/dmitrijs2005/gophmove/internal/server/federation"
	"github.com/dmitrijs2005/gophmove/internal/server/httpapi"
	"github.com/dmitrijs2005/gophmove/internal/server/identity"
	"github.com/dmitrijs2005/gophmove/internal/server/notify"
	"github.com/dmitrijs2005/gophmove/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophmove/internal/server/services"
	"github.com/dmitrijs2005/gophmove/internal/server/transfer"
	"github.com/juju/clock"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	migration *services.MigrationService
	chunks    *chunks.Server
	http      *httpapi.Server
}

// NewApp opens the database and object store and builds every component.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	workDir, err := filex.EnsureDir(c.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("work dir: %w", err)
	}

	db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := blobstore.NewS3Store(ctx, blobstore.S3Options{
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		Region:       c.S3Region,
		BaseEndpoint: c.S3BaseEndpoint,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("object storage init error: %w", err)
	}

	peers := federation.NewClient(c.FederationScheme, c.ConnectTimeout, c.RequestTimeout)
	fetcher := transfer.NewClient(transfer.Policy{Attempts: c.ChunkAttempts, Delay: c.RetryDelay},
		workDir, clock.WallClock, logger)

	migration := services.NewMigrationService(c, services.MigrationDeps{
		DB:       db,
		Repos:    repos,
		Fetcher:  fetcher,
		Restorer: backup.NewRestorer(repos, blobs, logger),
		Rebinder: identity.NewRebinder(repos, logger),
		Notifier: notify.NewLogNotifier(nil, logger),
		Peers:    func(domain string) services.RemotePeer { return peers.Peer(domain) },
		Clock:    clock.WallClock,
		Logger:   logger,
	})

	cs := chunks.NewServer(migration, backup.NewPackager(db, repos, blobs, workDir, logger), chunks.Options{
		ChunkSize: c.ChunkSize,
		TTL:       c.ManifestTTL,
		Clock:     clock.WallClock,
	}, logger)

	// A synchronous transfer pulls every chunk, each with its own retry budget.
	writeTimeout := c.RequestTimeout * time.Duration(c.ChunkAttempts+1)
	hs := httpapi.NewServer(c.HTTPAddr, logger, migration, cs, c.SecretKey, writeTimeout)

	return &App{config: c, logger: logger, db: db, migration: migration, chunks: cs, http: hs}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runJanitor expires stale requests on every tick. Prepared archives are
// swept by the chunk server's own loop.
func (app *App) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(app.config.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.migration.ExpireStale(ctx); err != nil {
				app.logger.Error(ctx, "expire stale requests", "error", err)
			}
		}
	}
}

// Run recovers interrupted transfers, then serves until a signal arrives.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	if n, err := app.migration.RecoverInterrupted(ctx); err != nil {
		app.logger.Error(ctx, "recover interrupted transfers", "error", err)
	} else if n > 0 {
		app.logger.Warn(ctx, "marked interrupted transfers as failed", "count", n)
	}
	if _, err := app.migration.ExpireStale(ctx); err != nil {
		app.logger.Error(ctx, "expire stale requests", "error", err)
	}

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.chunks.Run(ctx, app.config.JanitorInterval)
	}()
	go func() {
		defer wg.Done()
		app.runJanitor(ctx)
	}()

	wg.Wait()

	app.chunks.Close(context.WithoutCancel(ctx))
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "close database", "error", err)
	}
	app.logger.Info(ctx, "Stopped")
}
