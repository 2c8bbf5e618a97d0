// Package backend is the HTTP plumbing shared by every call to the dialogue
// backend: base URL resolution, session token forwarding and error bodies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dailogi/scene-client/internal/model"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 * 1024

type contextKey string

const tokenKey contextKey = "session_token"

// WithSessionToken returns a context carrying the user's session token. The
// token is forwarded to the backend as a bearer credential.
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// SessionToken returns the session token stored in ctx, if any.
func SessionToken(ctx context.Context) string {
	if v, ok := ctx.Value(tokenKey).(string); ok {
		return v
	}
	return ""
}

// StatusError is returned when the backend answers with a non-success status.
type StatusError struct {
	StatusCode int
	Body       string
	// Response is the parsed error body, nil when it was not JSON.
	Response *model.ErrorResponse
}

func (e *StatusError) Error() string {
	if e.Response != nil && e.Response.Message != "" {
		return fmt.Sprintf("backend error (status %d, %s): %s", e.StatusCode, e.Response.Code, e.Response.Message)
	}
	body := e.Body
	if body == "" {
		body = "no details"
	}
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, body)
}

// Code returns the backend error code, or "" when unknown.
func (e *StatusError) Code() string {
	if e.Response == nil {
		return ""
	}
	return e.Response.Code
}

// TransportError is returned when no response could be obtained at all.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to reach backend at %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err is a voluntary cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// Client issues requests against the backend base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a backend client. timeout bounds connecting and waiting
// for response headers; response bodies, including event streams, are not
// subject to it.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if timeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
		transport.ResponseHeaderTimeout = timeout
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ResolveURL turns a backend-relative path into an absolute URL. Absolute
// URLs are returned unchanged.
func (c *Client) ResolveURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do sends a request and returns the response when its status is 2xx. Any
// other status is returned as *StatusError with the body consumed; network
// failures are returned as *TransportError, or as the context error when ctx
// was canceled.
func (c *Client) Do(ctx context.Context, method, path string, body any, header http.Header) (*http.Response, error) {
	url := c.ResolveURL(path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := SessionToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newStatusError(resp)
	}
	return resp, nil
}

// GetJSON performs a GET and decodes the JSON response into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func newStatusError(resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}

	var er model.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && (er.Message != "" || er.Code != "") {
		se.Response = &er
	}
	return se
}

// Ping reports whether the backend answers HTTP at all. Any status counts
// as reachable.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodHead, "/", nil, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}
