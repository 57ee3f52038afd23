package remote

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

	"github.com/caesium-cloud/fanout/internal/execerr"
	"github.com/caesium-cloud/fanout/internal/metrics"
	"github.com/pkg/errors"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// HTTPClient implements Client over the remote JSON API.
type HTTPClient struct {
	http  *http.Client
	pacer Pacer
}

// HTTPOption tunes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithPacer makes every request wait on p first.
func WithPacer(p Pacer) HTTPOption {
	return func(h *HTTPClient) {
		h.pacer = p
	}
}

func NewHTTPClient(timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	h := &HTTPClient{http: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type submitBody struct {
	Target string `json:"target"`
	RunRequest
}

type submitResponse struct {
	RunID string `json:"run_id"`
}

func (h *HTTPClient) Submit(ctx context.Context, addr Address, req RunRequest) (string, error) {
	var resp submitResponse
	body := submitBody{Target: addr.ExternalID, RunRequest: req}
	if err := h.do(ctx, "submit", http.MethodPost, addr, "runs", body, &resp); err != nil {
		return "", err
	}
	if resp.RunID == "" {
		return "", execerr.New(execerr.KindInternal, "remote accepted run without an id")
	}
	return resp.RunID, nil
}

func (h *HTTPClient) Status(ctx context.Context, addr Address, runID string) (*RunStatus, error) {
	var status RunStatus
	if err := h.do(ctx, "status", http.MethodGet, addr, "runs/"+url.PathEscape(runID), nil, &status); err != nil {
		return nil, err
	}
	switch status.State {
	case RunPending, RunRunning, RunSucceeded, RunFailed:
		return &status, nil
	default:
		return nil, execerr.Newf(execerr.KindInternal, "remote reported unknown run status %q", status.State)
	}
}

func (h *HTTPClient) Results(ctx context.Context, addr Address, runID string) (*ResultSet, error) {
	var rs ResultSet
	if err := h.do(ctx, "results", http.MethodGet, addr, "runs/"+url.PathEscape(runID)+"/results", nil, &rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (h *HTTPClient) do(ctx context.Context, op, method string, addr Address, path string, in, out any) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(execerr.KindOf(err))
		}
		metrics.RemoteRequestsTotal.WithLabelValues(op, outcome).Inc()
	}()

	if h.pacer != nil {
		if err := h.pacer.Wait(ctx); err != nil {
			kind := execerr.KindOf(err)
			if kind == execerr.KindInternal {
				// the limiter refuses waits that would outlive the deadline
				kind = execerr.KindTimeout
			}
			return execerr.Wrap(kind, err, "waiting for remote request budget")
		}
	}

	endpoint := strings.TrimRight(strings.TrimSpace(addr.Endpoint), "/")
	if endpoint == "" {
		return execerr.New(execerr.KindInvalidInput, "target has no endpoint")
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return execerr.Wrap(execerr.KindInvalidInput, err, "encode request")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint+"/"+path, body)
	if err != nil {
		return execerr.Wrap(execerr.KindInvalidInput, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if addr.Token != "" {
		req.Header.Set("Authorization", "Bearer "+addr.Token)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return classifyStatus(resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return execerr.Wrap(execerr.KindInternal, err, "decode remote response")
	}
	return nil
}

func classifyTransport(err error) error {
	switch kind := execerr.KindOf(err); kind {
	case execerr.KindTimeout, execerr.KindCancelled:
		return execerr.Wrap(kind, err, "remote request")
	default:
		return execerr.Wrap(execerr.KindUnavailable, err, "remote request")
	}
}

func classifyStatus(code int, detail string) error {
	msg := fmt.Sprintf("remote returned %d", code)
	if detail != "" {
		msg += ": " + detail
	}

	var kind execerr.Kind
	switch {
	case code == http.StatusTooManyRequests:
		kind = execerr.KindRateLimited
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		kind = execerr.KindTimeout
	case code >= 500:
		kind = execerr.KindUnavailable
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		kind = execerr.KindAccessDenied
	case code == http.StatusNotFound:
		kind = execerr.KindNotFound
	default:
		kind = execerr.KindInvalidInput
	}
	return execerr.New(kind, msg)
}
