package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	appLog "hadash/internal/log"
	"hadash/internal/metrics"
	"hadash/internal/model"
)

// DefaultMaxConcurrent bounds the fan-out of TurnOffAll.
const DefaultMaxConcurrent = 10

// maxErrorBody caps how much of an error response is kept in APIError.
const maxErrorBody = 512

// Credentials supplies the connection for each call. It is consulted on
// every request so saved settings take effect without a restart.
type Credentials interface {
	Connection() model.Connection
}

// StaticCredentials is a fixed connection.
type StaticCredentials model.Connection

func (s StaticCredentials) Connection() model.Connection { return model.Connection(s) }

// Client is a thin Home Assistant REST client.
type Client struct {
	creds         Credentials
	httpClient    *http.Client
	timeout       time.Duration
	metrics       *metrics.Metrics
	maxConcurrent int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. A nil client keeps the default.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP request timeout. Zero means none. The
// timeout is applied to a copy, so a client passed to WithHTTPClient is
// left as is.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithMaxConcurrent limits concurrent commands issued by TurnOffAll.
func WithMaxConcurrent(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxConcurrent = n
		}
	}
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:         creds,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = defaultHTTPClient()
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

func defaultHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(
			http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return "hass " + r.Method + " " + r.URL.Path
			}),
		),
	}
}

// connection resolves credentials, failing fast when either half is missing.
func (c *Client) connection() (model.Connection, error) {
	if c.creds == nil {
		return model.Connection{}, ErrNotConfigured
	}
	conn := c.creds.Connection()
	conn.URL = strings.TrimRight(strings.TrimSpace(conn.URL), "/")
	conn.Token = strings.TrimSpace(conn.Token)
	if conn.URL == "" || conn.Token == "" {
		return model.Connection{}, ErrNotConfigured
	}
	return conn, nil
}

// Configured reports whether both URL and token currently resolve.
func (c *Client) Configured() bool {
	_, err := c.connection()
	return err == nil
}

// response is a successful upstream reply.
type response struct {
	body        []byte
	contentType string
}

// do performs one authenticated request. op labels metrics and logs.
func (c *Client) do(ctx context.Context, op, method, path string, body any) (*response, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.send(ctx, conn, method, path, body)
	c.metrics.ObserveUpstream(op, time.Since(start), err)
	if err != nil {
		appLog.Debug("hass call failed", "op", op, "path", path, "err", err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, conn model.Connection, method, path string, body any) (*response, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("hass: marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, conn.URL+path, reqBody)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+conn.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return &response{body: respBody, contentType: resp.Header.Get("Content-Type")}, nil
}

// getJSON decodes a successful GET into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("hass: decode %s: %w", op, err)
	}
	return nil
}
