// Package chunks serves a packaged account archive to a migration target
// as a manifest of content-addressed chunks.
package chunks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/cryptox"
	"github.com/dmitrijs2005/gophmove/internal/filex"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
)

// Packager produces the archive file for an account.
type Packager interface {
	Package(ctx context.Context, userID string) (string, error)
}

// TokenAuthority decides which tokens may read which account.
type TokenAuthority interface {
	// ValidateToken returns the outgoing request token belongs to, or an
	// error wrapping common.ErrInvalidToken.
	ValidateToken(ctx context.Context, username, token string) (*models.MigrationRequest, error)
	// BeginOutgoing marks the request as transferring.
	BeginOutgoing(ctx context.Context, req *models.MigrationRequest) error
}

type Options struct {
	ChunkSize int
	// TTL bounds how long a prepared archive is kept.
	TTL   time.Duration
	Clock clock.Clock
}

// prepared is the per-token state. mu guards the archive file against
// removal while a chunk is being read.
type prepared struct {
	mu        sync.RWMutex
	username  string
	requestID string
	path      string
	manifest  *models.Manifest
	offsets   []int64
	expiresAt time.Time
	removed   bool
}

type Server struct {
	authority TokenAuthority
	packager  Packager
	chunkSize int64
	ttl       time.Duration
	clock     clock.Clock
	logger    logging.Logger

	mu     sync.Mutex
	states map[string]*prepared
}

func NewServer(authority TokenAuthority, packager Packager, opts Options, logger logging.Logger) *Server {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 1 << 20
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	return &Server{
		authority: authority,
		packager:  packager,
		chunkSize: int64(opts.ChunkSize),
		ttl:       opts.TTL,
		clock:     opts.Clock,
		logger:    logger.With("module", "chunks"),
		states:    make(map[string]*prepared),
	}
}

// stateKey keeps raw tokens out of the map.
func stateKey(token string) string {
	return cryptox.Digest([]byte(token))
}

// Prepare packages the account behind token and splits the archive into
// chunks. Preparing the same token again replaces the previous state.
func (s *Server) Prepare(ctx context.Context, username, token string) (*models.Manifest, error) {
	req, err := s.authority.ValidateToken(ctx, username, token)
	if err != nil {
		return nil, err
	}
	if err := s.authority.BeginOutgoing(ctx, req); err != nil {
		return nil, err
	}

	path, err := s.packager.Package(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	manifest, offsets, err := s.split(path)
	if err != nil {
		_ = filex.RemoveQuietly(path)
		return nil, fmt.Errorf("%w: %v", common.ErrPackaging, err)
	}

	expires := s.clock.Now().Add(s.ttl)
	if req.TokenExpiresAt.Before(expires) {
		expires = req.TokenExpiresAt
	}
	st := &prepared{
		username:  username,
		requestID: req.ID,
		path:      path,
		manifest:  manifest,
		offsets:   offsets,
		expiresAt: expires,
	}

	s.mu.Lock()
	old := s.states[stateKey(token)]
	s.states[stateKey(token)] = st
	s.mu.Unlock()

	if old != nil {
		s.discard(ctx, old)
	}

	s.logger.Info(ctx, "archive prepared", "request_id", req.ID, "chunks", manifest.TotalChunks,
		"size", humanize.Bytes(uint64(manifest.TotalSize)))
	return manifest, nil
}

func (s *Server) split(path string) (*models.Manifest, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	m := &models.Manifest{Chunks: []models.ChunkInfo{}}
	var offsets []int64
	buf := make([]byte, s.chunkSize)
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			m.Chunks = append(m.Chunks, models.ChunkInfo{
				Index: len(m.Chunks),
				Size:  int64(n),
				Hash:  cryptox.Digest(buf[:n]),
			})
			offsets = append(offsets, m.TotalSize)
			m.TotalSize += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read archive: %w", err)
		}
	}
	m.TotalChunks = len(m.Chunks)
	return m, offsets, nil
}

// FetchChunk returns the bytes of chunk index of the archive prepared for
// token.
func (s *Server) FetchChunk(ctx context.Context, username, token string, index int) ([]byte, error) {
	if _, err := s.authority.ValidateToken(ctx, username, token); err != nil {
		return nil, err
	}

	s.mu.Lock()
	st := s.states[stateKey(token)]
	s.mu.Unlock()
	if st == nil || st.username != username {
		return nil, fmt.Errorf("%w: nothing prepared", common.ErrChunkNotFound)
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.removed {
		return nil, fmt.Errorf("%w: nothing prepared", common.ErrChunkNotFound)
	}
	if index < 0 || index >= len(st.manifest.Chunks) {
		return nil, fmt.Errorf("%w: index %d of %d", common.ErrChunkNotFound, index, len(st.manifest.Chunks))
	}

	f, err := os.Open(st.path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	info := st.manifest.Chunks[index]
	data := make([]byte, info.Size)
	if _, err := io.ReadFull(io.NewSectionReader(f, st.offsets[index], info.Size), data); err != nil {
		return nil, fmt.Errorf("read chunk %d: %w", index, err)
	}
	return data, nil
}

// Cleanup drops the state prepared for token. It is idempotent. Leftover
// state is dropped even when the token is no longer valid, but the call
// then still fails with the validation error.
func (s *Server) Cleanup(ctx context.Context, username, token string) error {
	s.mu.Lock()
	st := s.states[stateKey(token)]
	if st != nil && st.username == username {
		delete(s.states, stateKey(token))
	} else {
		st = nil
	}
	s.mu.Unlock()

	if st != nil {
		s.discard(ctx, st)
	}

	if _, err := s.authority.ValidateToken(ctx, username, token); err != nil {
		return err
	}
	return nil
}

// Sweep drops every state that expired at or before now and returns how
// many were removed.
func (s *Server) Sweep(ctx context.Context, now time.Time) int {
	var stale []*prepared
	s.mu.Lock()
	for key, st := range s.states {
		if !now.Before(st.expiresAt) {
			stale = append(stale, st)
			delete(s.states, key)
		}
	}
	s.mu.Unlock()

	for _, st := range stale {
		s.logger.Info(ctx, "expired archive dropped", "request_id", st.requestID)
		s.discard(ctx, st)
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
			s.Sweep(ctx, s.clock.Now())
		}
	}
}

// Close drops all prepared state.
func (s *Server) Close(ctx context.Context) {
	s.mu.Lock()
	states := s.states
	s.states = make(map[string]*prepared)
	s.mu.Unlock()

	for _, st := range states {
		s.discard(ctx, st)
	}
}

// Prepared returns the number of tokens with live state.
func (s *Server) Prepared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *Server) discard(ctx context.Context, st *prepared) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.removed {
		return
	}
	st.removed = true
	if err := filex.RemoveQuietly(st.path); err != nil {
		s.logger.Warn(ctx, "failed to remove archive", "request_id", st.requestID, "error", err)
	}
}
