package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/netx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

const maxChunkBytes = 256 << 20

// Client calls federation endpoints of peer instances.
type Client struct {
	http        *http.Client
	scheme      string
	callTimeout time.Duration
}

// NewClient bounds connection setup by connectTimeout and every call by
// callTimeout.
func NewClient(scheme string, connectTimeout, callTimeout time.Duration) *Client {
	if scheme == "" {
		scheme = "https"
	}
	return &Client{
		http:        netx.NewHTTPClient(connectTimeout),
		scheme:      scheme,
		callTimeout: callTimeout,
	}
}

// Peer returns a handle on the instance serving domain.
func (c *Client) Peer(domain string) *Peer {
	return &Peer{c: c, baseURL: c.scheme + "://" + domain}
}

// Peer is one remote instance. It satisfies transfer.Source.
type Peer struct {
	c       *Client
	baseURL string
}

func (p *Peer) userURL(username, endpoint string) string {
	return p.baseURL + "/" + url.PathEscape(username) + common.FederationPathPrefix + endpoint
}

func (p *Peer) Prepare(ctx context.Context, username, token string) (*models.Manifest, error) {
	var resp PrepareResponse
	if err := p.postJSON(ctx, p.userURL(username, PreparePath), TokenRequest{Token: token}, &resp); err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	if !resp.Success || resp.Manifest == nil {
		return nil, fmt.Errorf("prepare: %w: response without manifest", common.ErrInvalidManifest)
	}
	return resp.Manifest, nil
}

func (p *Peer) FetchChunk(ctx context.Context, username, token string, index int) ([]byte, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	u := p.userURL(username, ChunkPath) + "/" + strconv.Itoa(index) + "?" + url.Values{"token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", index, err)
	}
	defer netx.DrainAndClose(resp.Body)

	if err := netx.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("chunk %d: %w", index, mapStatus(err, common.ErrChunkNotFound))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChunkBytes))
	if err != nil {
		return nil, fmt.Errorf("chunk %d: read body: %w", index, err)
	}
	return data, nil
}

func (p *Peer) Cleanup(ctx context.Context, username, token string) error {
	var ack Ack
	if err := p.postJSON(ctx, p.userURL(username, CleanupPath), TokenRequest{Token: token}, &ack); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// Fail tells the source the migration failed on this side, which spends the
// token and lets the account be migrated again.
func (p *Peer) Fail(ctx context.Context, username, token, reason string) error {
	var ack Ack
	body := FailedRequest{MigrationToken: token, Reason: reason}
	if err := p.postJSON(ctx, p.userURL(username, FailedPath), body, &ack); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Complete tells the source the account arrived so it can finalize its copy.
func (p *Peer) Complete(ctx context.Context, username, token, userID string) error {
	var ack Ack
	body := CompleteRequest{MigrationToken: token, UserID: userID}
	if err := p.postJSON(ctx, p.userURL(username, CompletePath), body, &ack); err != nil {
		return fmt.Errorf("migration complete: %w", err)
	}
	return nil
}

// Announce registers an outgoing migration with the target and returns the
// id the target assigned to it.
func (p *Peer) Announce(ctx context.Context, ann models.Announcement) (string, error) {
	var resp AnnounceResponse
	u := p.baseURL + common.FederationPathPrefix + AnnouncePath
	if err := p.postJSON(ctx, u, ann, &resp); err != nil {
		var se *netx.StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			return "", fmt.Errorf("announce: %w: %v", common.ErrAlreadyExists, se)
		}
		return "", fmt.Errorf("announce: %w", err)
	}
	return resp.ID, nil
}

func (p *Peer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.c.callTimeout)
}

func (p *Peer) postJSON(ctx context.Context, u string, in, out any) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.c.http.Do(req)
	if err != nil {
		return err
	}
	defer netx.DrainAndClose(resp.Body)

	if err := netx.CheckResponse(resp); err != nil {
		return mapStatus(err, common.ErrorNotFound)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapStatus turns a peer status error into the matching sentinel.
func mapStatus(err error, notFound error) error {
	var se *netx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, se)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", notFound, se)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %v", common.ErrValidation, se)
	}
	return se
}
