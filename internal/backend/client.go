package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPError is returned for any response with status >= 400. The raw
// body is kept for diagnostics; callers decide whether the status means
// "absent", "unauthorized" or a real failure.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Body)
}

// ParseError is returned when a 2xx body is not valid JSON.
type ParseError struct {
	Cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse backend response: %v", e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Response carries the parsed body plus the raw bytes for typed decoding.
type Response struct {
	Status int
	Raw    []byte
	Data   any
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if len(r.Raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return &ParseError{Cause: err}
	}
	return nil
}

// Client issues JSON requests against the company backend. It holds no
// retry logic; fallback policy lives in the registry, session and
// repository layers.
type Client struct {
	baseURL        string
	hc             *http.Client
	logger         *slog.Logger
	tokenSource    func() string
	onUnauthorized func()
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SetTokenSource wires the session's current bearer token into every
// authenticated request.
func (c *Client) SetTokenSource(fn func() string) {
	c.tokenSource = fn
}

// SetUnauthorizedHook is invoked on any 401 for an authenticated request
// so the session can drop its token.
func (c *Client) SetUnauthorizedHook(fn func()) {
	c.onUnauthorized = fn
}

func (c *Client) Request(ctx context.Context, method, path string, payload any, requiresAuth bool) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requiresAuth && c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized && requiresAuth && c.onUnauthorized != nil {
			c.logger.Debug("backend rejected token, invalidating", "path", path)
			c.onUnauthorized()
		}
		return nil, &HTTPError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	parsed := &Response{Status: resp.StatusCode, Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed.Data); err != nil {
			return nil, &ParseError{Cause: err}
		}
	}
	return parsed, nil
}

func (c *Client) Get(ctx context.Context, path string, requiresAuth bool) (*Response, error) {
	return c.Request(ctx, http.MethodGet, path, nil, requiresAuth)
}

func (c *Client) Post(ctx context.Context, path string, payload any, requiresAuth bool) (*Response, error) {
	return c.Request(ctx, http.MethodPost, path, payload, requiresAuth)
}

// Ping checks reachability of the backend. Any HTTP response counts as
// reachable, including errors; only transport failures are reported.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// StatusOf extracts the HTTP status from an error, 0 when the error was
// not an HTTPError (network failure, parse failure).
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
