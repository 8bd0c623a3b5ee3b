package modelstore

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
	"strconv"
	"strings"
	"time"
)

const (
	defaultClientTimeout  = 15 * time.Second
	defaultClientAttempts = 3
)

// Client is a Store backed by a remote value-model API. Transient failures
// (network errors, 429, 5xx) are retried with backoff.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
	backoff  func(attempt int) time.Duration
}

var _ Store = (*Client)(nil)

type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

func WithAttempts(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithBackoff(fn func(attempt int) time.Duration) ClientOption {
	return func(c *Client) { c.backoff = fn }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: defaultClientTimeout},
		attempts: defaultClientAttempts,
		backoff:  clientBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func clientBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * 500 * time.Millisecond
}

type envelope struct {
	OK     bool      `json:"ok"`
	Model  *Model    `json:"model,omitempty"`
	Models []Summary `json:"models,omitempty"`
	Error  *Error    `json:"error,omitempty"`
}

// DoJSON sends one request, retrying transient failures. On a 4xx/5xx
// response the returned error is an *Error decoded from the body when
// possible.
func (c *Client) DoJSON(ctx context.Context, method, path string, payload []byte) ([]byte, http.Header, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		blob, header, err := c.do(ctx, method, path, payload)
		if err == nil {
			return blob, header, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.attempts {
			break
		}
		delay := c.backoff(attempt)
		var se *Error
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = time.Duration(se.RetryAfter) * time.Second
		}
		if werr := sleepCtx(ctx, delay); werr != nil {
			return nil, nil, werr
		}
	}
	return nil, nil, lastErr
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, http.Header, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	blob, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return blob, resp.Header, decodeError(method, path, resp, blob)
	}
	return blob, resp.Header, nil
}

func decodeError(method, path string, resp *http.Response, blob []byte) error {
	var env envelope
	if err := json.Unmarshal(blob, &env); err == nil && env.Error != nil && env.Error.Code != "" {
		env.Error.Status = resp.StatusCode
		if env.Error.RetryAfter == 0 {
			env.Error.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
		}
		return env.Error
	}
	code := CodeInternal
	switch {
	case resp.StatusCode == http.StatusNotFound:
		code = CodeNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		code = CodeRateLimited
	case resp.StatusCode >= 500:
		code = CodeUnavailable
	case resp.StatusCode >= 400:
		code = CodeValidation
	}
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf("%s %s failed status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(blob))),
		Transient: code == CodeRateLimited || code == CodeUnavailable,
		Status:    resp.StatusCode,
	}
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Transient || se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) modelCall(ctx context.Context, method, path string, m *Model) (Model, error) {
	var payload []byte
	if m != nil {
		blob, err := json.Marshal(m)
		if err != nil {
			return Model{}, err
		}
		payload = blob
	}
	out, _, err := c.DoJSON(ctx, method, path, payload)
	if err != nil {
		return Model{}, err
	}
	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return Model{}, fmt.Errorf("decode response: %w", err)
	}
	if env.Model == nil {
		return Model{}, fmt.Errorf("missing model in response")
	}
	return *env.Model, nil
}

func (c *Client) Create(ctx context.Context, m Model) (Model, error) {
	return c.modelCall(ctx, http.MethodPost, "/v1/models", &m)
}

func (c *Client) Get(ctx context.Context, id string) (Model, error) {
	return c.modelCall(ctx, http.MethodGet, "/v1/models/"+url.PathEscape(id), nil)
}

func (c *Client) Update(ctx context.Context, m Model) (Model, error) {
	if strings.TrimSpace(m.ID) == "" {
		return Model{}, NewValidationError("model id is required")
	}
	return c.modelCall(ctx, http.MethodPut, "/v1/models/"+url.PathEscape(m.ID), &m)
}

func (c *Client) List(ctx context.Context) ([]Summary, error) {
	out, _, err := c.DoJSON(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(out, &env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Models == nil {
		return []Summary{}, nil
	}
	return env.Models, nil
}

func (c *Client) Export(ctx context.Context, id string, format Format) (Export, error) {
	q := url.Values{}
	q.Set("format", string(format))
	out, header, err := c.DoJSON(ctx, http.MethodGet, "/v1/models/"+url.PathEscape(id)+"/export?"+q.Encode(), nil)
	if err != nil {
		return Export{}, err
	}
	name := ""
	if cd := header.Get("Content-Disposition"); cd != "" {
		if i := strings.Index(cd, "filename="); i >= 0 {
			name = strings.Trim(cd[i+len("filename="):], `"`)
		}
	}
	return Export{Format: format, ContentType: header.Get("Content-Type"), Filename: name, Data: out}, nil
}
