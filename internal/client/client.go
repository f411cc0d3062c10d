// Package client is the HTTP adapter for the TaskFlow API: it attaches the
// bearer credential to outbound requests, maps response statuses onto the
// error taxonomy and intercepts authentication failures globally.
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
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/taskflow/internal/errs"
)

// APIError is a non-2xx response decoded from the server's {"detail": ...} body.
type APIError struct {
	Status int
	Detail string
}

// Error complies with the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Detail)
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration // per-request bound; default 15s
	RetryAttempts     int           // total tries for GETs; default 2
	RequestsPerSecond float64       // outbound throttle; 0 = unlimited
	Logger            *zap.Logger
}

// Client dispatches requests to the TaskFlow API. The session store is the
// only component that installs or clears the credential; everything else
// just issues requests.
type Client struct {
	base    *url.URL
	http    *http.Client
	log     *zap.Logger
	lim     *rate.Limiter
	retries int

	token atomic.Value // string

	// loginInFlight gates the session-expired interceptor so a stale 401
	// from a previous session cannot clobber a login being established.
	loginInFlight atomic.Int32

	mu        sync.Mutex
	onExpired []func()
}

// New builds a Client from opts, applying defaults for the zero values.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8000"
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 2
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), int(opts.RequestsPerSecond)+1)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: opts.Timeout},
		log:     opts.Logger,
		lim:     lim,
		retries: opts.RetryAttempts,
	}
	c.token.Store("")
	return c, nil
}

// SetToken installs the bearer credential used for subsequent requests.
func (c *Client) SetToken(tok string) { c.token.Store(tok) }

// ClearToken removes the credential; subsequent requests go out unauthenticated.
func (c *Client) ClearToken() { c.token.Store("") }

// Token returns the currently installed credential ("" when absent).
func (c *Client) Token() string {
	s, _ := c.token.Load().(string)
	return s
}

// BeginLogin suppresses the session-expired interceptor until the matching
// EndLogin. A 401 received while a credential exchange is in flight belongs
// to the old session and must not wipe the new one.
func (c *Client) BeginLogin() { c.loginInFlight.Add(1) }

// EndLogin re-enables the session-expired interceptor.
func (c *Client) EndLogin() { c.loginInFlight.Add(-1) }

// OnSessionExpired registers fn to run whenever any request comes back 401.
// The registered callbacks are the "redirect to login" boundary.
func (c *Client) OnSessionExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpired = append(c.onExpired, fn)
}

func (c *Client) notifyExpired() {
	if c.loginInFlight.Load() > 0 {
		return
	}
	c.mu.Lock()
	subs := append([]func(){}, c.onExpired...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// do performs one round-trip. Network failures come back wrapped in
// errs.ErrUnavailable; any HTTP status is returned as-is for the caller
// to map, after the 401 interceptor has run.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body []byte) (int, []byte, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return 0, nil, err
	}

	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if rid, err := uuid.NewV4(); err == nil {
		req.Header.Set("X-Request-ID", rid.String())
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return 0, nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}

	c.log.Debug("http",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		c.notifyExpired()
	}
	return resp.StatusCode, respBody, nil
}

// convertError maps a non-2xx status onto the error taxonomy.
func convertError(status int, body []byte) error {
	detail := decodeDetail(body)
	switch status {
	case http.StatusUnauthorized:
		return errs.ErrUnauthorized
	case http.StatusNotFound:
		if detail == "" {
			detail = "resource missing"
		}
		return fmt.Errorf("%w: %s", errs.ErrNotFound, detail)
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	return &APIError{Status: status, Detail: detail}
}

// decodeDetail extracts the server's {"detail": ...} message; validation
// errors arrive as structured detail, which degrades to the raw body.
func decodeDetail(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != "" {
		return e.Detail
	}
	return strings.TrimSpace(string(body))
}

func (c *Client) finish(path string, status int, body []byte, err error, out any) error {
	if err != nil {
		return err
	}
	if status >= 400 {
		return convertError(status, body)
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// GetJSON performs a GET and decodes the JSON response into out. Network
// failures and 5xx are retried with backoff; GET is the only verb retried,
// mutations never are.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	backoff := retry.WithMaxRetries(uint64(c.retries-1), retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, body, err := c.do(ctx, http.MethodGet, path, query, "", nil)
		if err != nil {
			return retry.RetryableError(err)
		}
		if status >= 500 {
			return retry.RetryableError(convertError(status, body))
		}
		return c.finish(path, status, body, nil, out)
	})
}

// PostForm submits form-encoded values and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out any) error {
	status, body, err := c.do(ctx, http.MethodPost, path, nil, "application/x-www-form-urlencoded", []byte(form.Encode()))
	return c.finish(path, status, body, err, out)
}

// PostJSON submits a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	status, body, err := c.do(ctx, http.MethodPost, path, nil, "application/json", b)
	return c.finish(path, status, body, err, out)
}

// PutJSON submits a JSON body via PUT and decodes the JSON response into out.
func (c *Client) PutJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	status, body, err := c.do(ctx, http.MethodPut, path, nil, "application/json", b)
	return c.finish(path, status, body, err, out)
}

// Delete issues a DELETE; the API answers 204 on success.
func (c *Client) Delete(ctx context.Context, path string) error {
	status, body, err := c.do(ctx, http.MethodDelete, path, nil, "", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return convertError(status, body)
	}
	return nil
}
