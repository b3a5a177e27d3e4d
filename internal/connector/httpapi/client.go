// Package httpapi is the authenticated JSON client shared by REST connectors.
// It classifies responses into the engine's error taxonomy and never retries.
package httpapi

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
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	reconerrors "github.com/alexisbeaulieu97/reconciler/pkg/errors"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 4 << 20
	maxErrorSnippet  = 512
)

// Options configures a Client.
type Options struct {
	System  string
	BaseURL string
	Token   string
	// Scheme prefixes the token in the Authorization header; defaults to "Bearer".
	Scheme string
	// Timeout bounds every request; defaults to 10s.
	Timeout time.Duration
	// Query is appended to every request, e.g. a team identifier.
	Query      url.Values
	Headers    map[string]string
	HTTPClient *http.Client
}

// Client issues authenticated JSON requests to one external system.
type Client struct {
	system  string
	baseURL *url.URL
	auth    string
	query   url.Values
	headers map[string]string
	timeout time.Duration
	http    *http.Client
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("%s: base url is required", opts.System)
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: parse base url: %w", opts.System, err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("%s: base url must be http(s)", opts.System)
	}

	scheme := opts.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}

	c := &Client{
		system:  opts.System,
		baseURL: base,
		query:   opts.Query,
		headers: opts.Headers,
		timeout: timeout,
		http:    client,
	}
	if opts.Token != "" {
		c.auth = scheme + " " + opts.Token
	}
	return c, nil
}

// Get fetches path and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := c.Do(ctx, http.MethodGet, path, query, nil, out)
	return err
}

// Do sends a request with an optional JSON body and decodes a JSON response
// into out when out is non-nil. Non-2xx responses are returned as errors:
// 404 wraps ErrNotFound, everything else is a TransportError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", c.system, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), reader)
	if err != nil {
		return 0, fmt.Errorf("%s: build request: %w", c.system, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.classifyNetwork(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, c.classifyNetwork(err)
	}

	if err := c.classifyStatus(method, path, resp.StatusCode, data); err != nil {
		return resp.StatusCode, err
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, reconerrors.NewTransportError(c.system, reconerrors.TransportDecode, resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}

// StatusCode extracts the HTTP status from an error returned by Do, or 0.
func StatusCode(err error) int {
	var transportErr *reconerrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.StatusCode
	}
	if errors.Is(err, reconerrors.ErrNotFound) {
		return http.StatusNotFound
	}
	return 0
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
	values := url.Values{}
	for key, vals := range c.query {
		values[key] = append([]string(nil), vals...)
	}
	for key, vals := range query {
		values[key] = append(values[key], vals...)
	}
	u.RawQuery = values.Encode()
	return u.String()
}

func (c *Client) classifyNetwork(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return reconerrors.NewTransportError(c.system, reconerrors.TransportTimeout, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reconerrors.NewTransportError(c.system, reconerrors.TransportTimeout, 0, err)
	}
	return reconerrors.NewTransportError(c.system, reconerrors.TransportNetwork, 0, err)
}

func (c *Client) classifyStatus(method, path string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s %s %s: %w", c.system, method, path, reconerrors.ErrNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return reconerrors.NewTransportError(c.system, reconerrors.TransportAuth, status, nil)
	case status == http.StatusTooManyRequests:
		return reconerrors.NewTransportError(c.system, reconerrors.TransportRateLimit, status, nil)
	default:
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		var cause error
		if snippet != "" {
			cause = errors.New(snippet)
		}
		return reconerrors.NewTransportError(c.system, reconerrors.TransportStatus, status, cause)
	}
}
