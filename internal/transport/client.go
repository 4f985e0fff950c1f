// Package transport issues query, mutation and action calls against the sync
// backend's HTTP API and decodes the response envelope.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkuntong/highlanderhomes-sub002/internal/wire"
	"github.com/pkuntong/highlanderhomes-sub002/pkg/logger"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
)

// Kind is one of the backend's three call kinds.
type Kind string

const (
	// KindQuery is a read-only call.
	KindQuery Kind = "query"
	// KindMutation is a transactional write.
	KindMutation Kind = "mutation"
	// KindAction runs server-side logic that may touch the outside world.
	KindAction Kind = "action"
)

// ParseKind parses a call kind name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindQuery:
		return KindQuery, nil
	case KindMutation:
		return KindMutation, nil
	case KindAction:
		return KindAction, nil
	default:
		return "", fmt.Errorf("unknown call kind %q (expected query, mutation, or action)", raw)
	}
}

func (k Kind) endpoint() string {
	return "/api/" + string(k)
}

// Client performs calls against one backend deployment.
//
// Client holds no per-call state; the only mutable field is the bearer token,
// which is swapped atomically so concurrent calls never observe a partial
// write.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	token      atomic.Pointer[string]
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the overall per-request timeout of the default client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithUserAgent sets the User-Agent header of every call.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client for the deployment at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: defaultHTTPClient(),
	}
	empty := ""
	c.token.Store(&empty)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHTTPTimeout,
	}
}

// BaseURL returns the deployment URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken replaces the bearer token. An empty string clears it.
func (c *Client) SetToken(token string) {
	token = strings.TrimSpace(token)
	c.token.Store(&token)
}

// Token returns the raw token as last set, well-formed or not.
func (c *Client) Token() string {
	return *c.token.Load()
}

// BearerToken returns the current token only when it is well-formed.
func (c *Client) BearerToken() string {
	token := c.Token()
	if !IsWellFormedToken(token) {
		return ""
	}
	return token
}

// Call performs a call of the given kind and decodes its value into T.
func Call[T any](ctx context.Context, c *Client, kind Kind, path string, args any) (T, error) {
	var zero T

	body, err := wire.EncodeRequest(path, args)
	if err != nil {
		return zero, err
	}

	respBody, status, err := c.post(ctx, kind, path, body)
	if err != nil {
		return zero, err
	}

	if status < 200 || status >= 300 {
		if msg, ok := wire.ExtractErrorMessage(respBody); ok {
			return zero, &wire.ServerError{Message: msg}
		}
		return zero, &wire.HTTPError{Status: status}
	}

	return wire.Decode[T](respBody)
}

// Query performs a read-only call.
func Query[T any](ctx context.Context, c *Client, path string, args any) (T, error) {
	return Call[T](ctx, c, KindQuery, path, args)
}

// Mutation performs a write.
func Mutation[T any](ctx context.Context, c *Client, path string, args any) (T, error) {
	return Call[T](ctx, c, KindMutation, path, args)
}

// Action runs server-side logic.
func Action[T any](ctx context.Context, c *Client, path string, args any) (T, error) {
	return Call[T](ctx, c, KindAction, path, args)
}

// MutationNoContent performs a write whose result value is ignored.
func MutationNoContent(ctx context.Context, c *Client, path string, args any) error {
	_, err := Mutation[wire.NoContent](ctx, c, path, args)
	return err
}

// post sends body to the endpoint for kind and returns the raw response.
func (c *Client) post(ctx context.Context, kind Kind, path string, body []byte) (respBody []byte, status int, err error) {
	if c.baseURL == "" {
		return nil, 0, &wire.TransportError{Cause: fmt.Errorf("server URL not set")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+kind.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, 0, &wire.TransportError{Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if auth := BearerHeader(c.Token()); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debugf("transport: %s %s failed after %v: %v", kind, path, time.Since(start), err)
		return nil, 0, &wire.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &wire.TransportError{Cause: fmt.Errorf("read response: %w", err)}
	}

	logger.Debugf("transport: %s %s -> %d (%v)", kind, path, resp.StatusCode, time.Since(start))
	logger.Tracef("transport: %s %s body=%s", kind, path, string(respBody))
	return respBody, resp.StatusCode, nil
}
