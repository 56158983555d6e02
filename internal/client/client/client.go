package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/gophmove/internal/common"
	"github.com/dmitrijs2005/gophmove/internal/netx"
	"github.com/dmitrijs2005/gophmove/internal/server/models"
)

const adminPath = "/api/admin/migrations"

// Client is the management API as the CLI uses it.
type Client interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error)
	Get(ctx context.Context, id string) (*models.MigrationRequest, error)
	Accept(ctx context.Context, id string) (*models.MigrationRequest, error)
	Reject(ctx context.Context, id, reason string) (*models.MigrationRequest, error)
	Transfer(ctx context.Context, id string) (*models.MigrationRequest, error)
	Initiate(ctx context.Context, username, targetDomain string) (*models.MigrationRequest, error)
	SetToken(token string)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	token   string
	timeout time.Duration
}

func NewHTTPClient(baseURL, token string, connectTimeout, requestTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http:    netx.NewHTTPClient(connectTimeout),
		baseURL: baseURL,
		token:   token,
		timeout: requestTimeout,
	}
}

func (c *HTTPClient) SetToken(token string) { c.token = token }

type requestEnvelope struct {
	Request *models.MigrationRequest `json:"request"`
}

type listEnvelope struct {
	Requests []*models.MigrationRequest `json:"requests"`
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

func (c *HTTPClient) List(ctx context.Context, filter models.RequestFilter) ([]*models.MigrationRequest, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Direction != "" {
		q.Set("direction", string(filter.Direction))
	}
	path := adminPath + "/"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out listEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (c *HTTPClient) Get(ctx context.Context, id string) (*models.MigrationRequest, error) {
	return c.request(ctx, http.MethodGet, c.idPath(id, ""), nil)
}

func (c *HTTPClient) Accept(ctx context.Context, id string) (*models.MigrationRequest, error) {
	return c.request(ctx, http.MethodPost, c.idPath(id, "/accept"), nil)
}

func (c *HTTPClient) Reject(ctx context.Context, id, reason string) (*models.MigrationRequest, error) {
	return c.request(ctx, http.MethodPost, c.idPath(id, "/reject"), map[string]string{"reason": reason})
}

func (c *HTTPClient) Transfer(ctx context.Context, id string) (*models.MigrationRequest, error) {
	return c.request(ctx, http.MethodPost, c.idPath(id, "/transfer"), nil)
}

func (c *HTTPClient) Initiate(ctx context.Context, username, targetDomain string) (*models.MigrationRequest, error) {
	body := map[string]string{"username": username, "target_domain": targetDomain}
	return c.request(ctx, http.MethodPost, adminPath+"/outgoing", body)
}

func (c *HTTPClient) idPath(id, action string) string {
	return adminPath + "/" + url.PathEscape(id) + action
}

func (c *HTTPClient) request(ctx context.Context, method, path string, in any) (*models.MigrationRequest, error) {
	var out requestEnvelope
	if err := c.do(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	if out.Request == nil {
		return nil, fmt.Errorf("%w: empty response", common.ErrorInternal)
	}
	return out.Request, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && !netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	defer netx.DrainAndClose(resp.Body)

	if err := netx.CheckResponse(resp); err != nil {
		return mapStatus(err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapStatus(err error) error {
	var se *netx.StatusError
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrorUnauthorized, se.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrorNotFound, se.Message)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", common.ErrInvalidState, se.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", common.ErrValidation, se.Message)
	}
	return err
}
