// Package httpapi exposes the federation endpoints other instances call and
// the management endpoints operators call, over one chi router.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/go-playground/validator/v10"
)

// Coordinator is the migration service as seen by the HTTP layer.
type Coordinator interface {
	List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error)
	Get(ctx context.Context, id string) (*models.MigrationRequest, error)
	Accept(ctx context.Context, id, operator string) (*models.MigrationRequest, error)
	Reject(ctx context.Context, id, operator, reason string) (*models.MigrationRequest, error)
	Transfer(ctx context.Context, id string) (*models.MigrationRequest, error)
	Initiate(ctx context.Context, username, targetDomain string) (*models.MigrationRequest, error)
	RegisterIncoming(ctx context.Context, ann models.Announcement) (*models.MigrationRequest, error)
	CompleteOutgoing(ctx context.Context, username, token, userID string) error
	FailOutgoing(ctx context.Context, username, token, reason string) error
}

// ChunkServer serves prepared archives to targets.
type ChunkServer interface {
	Prepare(ctx context.Context, username, token string) (*models.Manifest, error)
	FetchChunk(ctx context.Context, username, token string, index int) ([]byte, error)
	Cleanup(ctx context.Context, username, token string) error
}

type Server struct {
	address     string
	coordinator Coordinator
	chunks      ChunkServer
	validate    *validator.Validate
	jwtSecret   []byte
	logger      logging.Logger

	// writeTimeout must cover a whole synchronous transfer.
	writeTimeout time.Duration
}

func NewServer(address string, l logging.Logger, c Coordinator, cs ChunkServer, secretKey string, writeTimeout time.Duration) *Server {
	return &Server{
		address:      address,
		coordinator:  c,
		chunks:       cs,
		validate:     validator.New(),
		jwtSecret:    []byte(secretKey),
		logger:       l.With("module", "http_server"),
		writeTimeout: writeTimeout,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
