// Package transfer downloads a chunked archive from a migration source,
// verifying every chunk before it is appended to the local copy.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/cryptox"
	"github.com/dmitrijs2005/gophmove/internal/filex"
	"github.com/dmitrijs2005/gophmove/internal/logging"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Source is the source-side surface the client consumes.
type Source interface {
	Prepare(ctx context.Context, username, token string) (*models.Manifest, error)
	FetchChunk(ctx context.Context, username, token string, index int) ([]byte, error)
	Cleanup(ctx context.Context, username, token string) error
}

// Policy is the per-chunk retry budget.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

var DefaultPolicy = Policy{Attempts: 3, Delay: 2 * time.Second}

type Client struct {
	policy  Policy
	workDir string
	clock   clock.Clock
	logger  logging.Logger
}

func NewClient(policy Policy, workDir string, clk clock.Clock, logger logging.Logger) *Client {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultPolicy.Attempts
	}
	if policy.Delay <= 0 {
		policy.Delay = DefaultPolicy.Delay
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Client{policy: policy, workDir: workDir, clock: clk, logger: logger.With("module", "transfer")}
}

// Fetch prepares the archive on src and downloads it. The source is asked
// to clean up after a successful prepare whatever the outcome; that request
// is best-effort.
func (c *Client) Fetch(ctx context.Context, src Source, username, token string) (string, error) {
	manifest, err := src.Prepare(ctx, username, token)
	if err != nil {
		return "", fmt.Errorf("prepare: %w", err)
	}
	defer c.cleanup(ctx, src, username, token)

	return c.Download(ctx, src, manifest, username, token)
}

// Download reassembles the archive described by manifest into a file in the
// work directory and returns its path. On error no file is left behind.
func (c *Client) Download(ctx context.Context, src Source, manifest *models.Manifest, username, token string) (path string, err error) {
	if err := manifest.Validate(); err != nil {
		return "", err
	}

	sink, err := filex.TempFile(c.workDir, "incoming")
	if err != nil {
		return "", err
	}
	sinkPath := sink.Name()
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
		if err != nil {
			_ = filex.RemoveQuietly(sinkPath)
			path = ""
		}
	}()

	var written int64
	for _, info := range manifest.Chunks {
		data, err := c.fetchVerified(ctx, src, username, token, info)
		if err != nil {
			return "", err
		}
		n, err := sink.Write(data)
		written += int64(n)
		if err != nil {
			return "", fmt.Errorf("write chunk %d: %w", info.Index, err)
		}
		c.logger.Debug(ctx, "chunk stored", "index", info.Index, "size", n)
	}

	if written != manifest.TotalSize {
		return "", fmt.Errorf("%w: received %d bytes, manifest declares %d", common.ErrSizeMismatch, written, manifest.TotalSize)
	}
	return sinkPath, nil
}

// fetchVerified downloads one chunk, retrying transport failures and
// length or digest mismatches within the policy.
func (c *Client) fetchVerified(ctx context.Context, src Source, username, token string, info models.ChunkInfo) ([]byte, error) {
	var (
		data    []byte
		lastErr error
	)
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			buf, err := src.FetchChunk(ctx, username, token, info.Index)
			if err != nil {
				lastErr = err
				return err
			}
			if int64(len(buf)) != info.Size {
				lastErr = fmt.Errorf("got %d bytes, expected %d", len(buf), info.Size)
				return lastErr
			}
			if sum := cryptox.Digest(buf); sum != info.Hash {
				lastErr = fmt.Errorf("digest %s does not match %s", sum, info.Hash)
				return lastErr
			}
			data = buf
			return nil
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, common.ErrInvalidToken) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn(ctx, "chunk attempt failed", "index", info.Index, "attempt", attempt, "error", err)
		},
		Attempts: c.policy.Attempts,
		Delay:    c.policy.Delay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return data, nil
	}
	if errors.Is(lastErr, common.ErrInvalidToken) {
		return nil, lastErr
	}
	if cerr := ctx.Err(); cerr != nil {
		lastErr = cerr
	}
	return nil, &common.ChunkTransferFailedError{Index: info.Index, Err: lastErr}
}

func (c *Client) cleanup(ctx context.Context, src Source, username, token string) {
	if err := src.Cleanup(context.WithoutCancel(ctx), username, token); err != nil {
		c.logger.Warn(ctx, "source cleanup failed", "error", err)
	}
}
