package pco

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/churchops/pco-connect/instrumentation"
)

const (
	// DefaultBaseURL is the fixed Planning Center API origin.
	DefaultBaseURL = "https://api.planningcenteronline.com"

	// DefaultTimeout is the per-call socket timeout. There is no overall
	// request deadline beyond the caller's context.
	DefaultTimeout = 25 * time.Second
)

// AuthSource supplies the Authorization header for upstream calls.
type AuthSource interface {
	// Authorize sets credentials on an outgoing request.
	Authorize(ctx context.Context, req *http.Request) error
}

// BasicAuth authorizes with a static application id/secret pair (personal
// access token mode).
type BasicAuth struct {
	AppID  string
	Secret string
}

// Authorize implements AuthSource.
func (a BasicAuth) Authorize(_ context.Context, req *http.Request) error {
	if a.AppID == "" || a.Secret == "" {
		return fmt.Errorf("missing application id or secret")
	}
	req.SetBasicAuth(a.AppID, a.Secret)
	return nil
}

// TokenProvider hands out a currently-valid OAuth access token.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// BearerAuth authorizes with OAuth access tokens from a TokenProvider,
// typically the connector's token manager performing lazy refresh.
type BearerAuth struct {
	Tokens TokenProvider
}

// Authorize implements AuthSource.
func (a BearerAuth) Authorize(ctx context.Context, req *http.Request) error {
	token, err := a.Tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Response is one upstream HTTP response with its body drained.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Document decodes the response body as a JSON:API document.
func (r *Response) Document() (*Document, error) {
	var doc Document
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding upstream response: %w", err)
	}
	return &doc, nil
}

// UpstreamError carries a non-2xx upstream status and body so the HTTP layer
// can pass both through to the caller.
type UpstreamError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Client is the Planning Center API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       AuthSource
	retry      RetryPolicy
	logger     *slog.Logger
	inst       *instrumentation.Instrumentation
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL overrides the API origin. Mainly for tests.
	BaseURL string

	// Auth supplies upstream credentials (required).
	Auth AuthSource

	// HTTPClient overrides the transport. Nil uses a client with
	// DefaultTimeout.
	HTTPClient *http.Client

	// Retry overrides the 429 retry policy. Zero value uses
	// DefaultRetryPolicy.
	Retry RetryPolicy

	// Logger for structured logging (optional).
	Logger *slog.Logger

	// Instrumentation records upstream call metrics (optional).
	Instrumentation *instrumentation.Instrumentation
}

// NewClient creates a Planning Center API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Auth == nil {
		return nil, fmt.Errorf("auth source is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}
	if retry.DefaultDelay == 0 {
		retry.DefaultDelay = DefaultRetryDelay
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		auth:       cfg.Auth,
		retry:      retry,
		logger:     logger,
		inst:       cfg.Instrumentation,
	}, nil
}

// Get performs an authorized GET against the API, retrying 429 responses per
// the retry policy. The returned response may still be a 429 once the attempt
// ceiling is reached; any other status is returned as-is after the first
// attempt. rawurl is either a path under the base URL or an absolute URL (the
// pagination next links are absolute).
func (c *Client) Get(ctx context.Context, rawurl string, query url.Values) (*Response, error) {
	bo := &retryAfterBackOff{defaultDelay: c.retry.DefaultDelay}

	var resp *Response
	attempts := 0

	operation := func() error {
		attempts++
		r, err := c.do(ctx, rawurl, query)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp = r

		if r.StatusCode == http.StatusTooManyRequests && attempts < c.retry.MaxAttempts {
			bo.delay = retryAfterDelay(r.Header, c.retry.DefaultDelay)
			c.logger.Warn("Upstream rate limited, backing off",
				"url", rawurl,
				"attempt", attempts,
				"delay", bo.delay)
			return errRateLimited
		}
		return nil
	}

	// errRateLimited never escapes the loop: the final attempt returns the
	// 429 response itself. Anything surfacing here is a transport failure
	// or context cancellation.
	if err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(bo, ctx), nil, c.retry.Timer); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetDocument performs Get and decodes the body as a JSON:API document,
// converting any non-200 status into an *UpstreamError.
func (c *Client) GetDocument(ctx context.Context, rawurl string, query url.Values) (*Document, error) {
	resp, err := c.Get(ctx, rawurl, query)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp.Document()
}

func (c *Client) do(ctx context.Context, rawurl string, query url.Values) (*Response, error) {
	target := rawurl
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if err := c.auth.Authorize(ctx, req); err != nil {
		return nil, fmt.Errorf("authorizing upstream request: %w", err)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upstream: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	if c.inst != nil {
		c.inst.Metrics().RecordUpstreamRequest(ctx, u.Path, httpResp.StatusCode,
			float64(time.Since(start).Milliseconds()))
	}
	c.logger.Debug("Upstream request",
		"path", u.Path,
		"status", httpResp.StatusCode,
		"duration", time.Since(start))

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}, nil
}

// AllowedExtraParams filters arbitrary inbound query parameters down to the
// sparse-fieldset keys the upstream understands. Everything outside the
// fields[...] prefix is dropped.
func AllowedExtraParams(query url.Values) url.Values {
	extra := url.Values{}
	for key, values := range query {
		if strings.HasPrefix(key, "fields[") && strings.HasSuffix(key, "]") {
			for _, v := range values {
				extra.Add(key, v)
			}
		}
	}
	return extra
}
