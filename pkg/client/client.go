// Package client talks to the fanout REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	batchctrl "github.com/caesium-cloud/fanout/api/rest/controller/batch"
	"github.com/caesium-cloud/fanout/api/rest/principal"
	bsvc "github.com/caesium-cloud/fanout/api/rest/service/batch"
	"github.com/caesium-cloud/fanout/internal/batch"
	"github.com/caesium-cloud/fanout/internal/catalog"
	"github.com/caesium-cloud/fanout/internal/models"
	"github.com/caesium-cloud/fanout/internal/result"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotReady is returned by Results while no child has resolved.
var ErrNotReady = errors.New("results not ready")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed: %s", http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("request failed: %s: %s", http.StatusText(e.StatusCode), e.Message)
}

// Client wraps HTTP interaction with the fanout REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	principal  string
	header     string
}

type Option func(*Client)

// WithPrincipal sends p as the caller identity.
func WithPrincipal(p string) Option {
	return func(c *Client) { c.principal = p }
}

func WithPrincipalHeader(h string) Option {
	return func(c *Client) {
		if strings.TrimSpace(h) != "" {
			c.header = h
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func New(server string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(server), "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", server)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("server url %q needs a scheme and host", server)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		header:     principal.DefaultHeader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	raw := c.baseURL.String() + path
	if len(query) == 0 {
		return raw
	}
	return raw + "?" + query.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.principal != "" {
		req.Header.Set(c.header, c.principal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
			apiErr.Message = msg.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return errors.Wrapf(json.NewDecoder(resp.Body).Decode(out), "decode %s response", path)
}

// Submit starts a batch.
func (c *Client) Submit(ctx context.Context, req *batch.SubmitRequest) (*batchctrl.PostResponse, error) {
	out := &batchctrl.PostResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/batches", nil, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*models.Batch, error) {
	out := &models.Batch{}
	if err := c.do(ctx, http.MethodGet, "/v1/batches/"+id.String(), nil, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

type ListOptions struct {
	Owner   string
	QueryID string
	Status  string
	Limit   uint64
	Offset  uint64
}

func (c *Client) List(ctx context.Context, opts ListOptions) (*bsvc.ListResponse, error) {
	q := url.Values{}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	if opts.QueryID != "" {
		q.Set("query_id", opts.QueryID)
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		q.Set("limit", fmt.Sprint(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", fmt.Sprint(opts.Offset))
	}

	out := &bsvc.ListResponse{}
	if err := c.do(ctx, http.MethodGet, "/v1/batches", q, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel reports whether this call cancelled the batch.
func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	out := &batchctrl.CancelResponse{}
	if err := c.do(ctx, http.MethodPost, "/v1/batches/"+id.String()+"/cancel", nil, nil, out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

func (c *Client) Results(ctx context.Context, id uuid.UUID) (*result.View, error) {
	out := &result.View{}
	err := c.do(ctx, http.MethodGet, "/v1/batches/"+id.String()+"/results", nil, nil, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return nil, ErrNotReady
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyCatalog upserts queries, targets and grants.
func (c *Client) ApplyCatalog(ctx context.Context, doc *catalog.Document) (*catalog.Summary, error) {
	out := &catalog.Summary{}
	if err := c.do(ctx, http.MethodPost, "/v1/catalog/apply", nil, doc, out); err != nil {
		return nil, err
	}
	return out, nil
}
