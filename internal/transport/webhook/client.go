// Package webhook posts JSON payloads to a Slack-compatible incoming webhook.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the template a bare webhook token is appended to.
const DefaultBaseURL = "https://hooks.slack.com/services/"

// DefaultTimeout bounds both connect and response-header waits.
const DefaultTimeout = 3 * time.Second

// maxErrorBody caps how much of a failed response body is kept for diagnostics.
const maxErrorBody = 512

var ErrEmptyURL = errors.New("webhook url is empty")

// Config configures a Client.
type Config struct {
	URL     string
	Timeout time.Duration // connect and read timeout; 0 means DefaultTimeout
}

// Client performs blocking POSTs to one fixed endpoint.
// It is safe for concurrent use.
type Client struct {
	url    string
	client *http.Client
}

// ResolveURL builds the destination URL from a webhook identifier.
//
// A full http(s) URL is used as-is; anything else is treated as the token path
// and appended to base (DefaultBaseURL when base is empty).
func ResolveURL(base, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return id
	}
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(id, "/")
}

// New creates a client with fixed connect and read timeouts.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrEmptyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &Client{
		url: cfg.URL,
		client: &http.Client{
			// Upper bound for the whole exchange: connect + write + headers.
			Timeout: 3 * timeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}, nil
}

// URL returns the destination this client posts to.
func (c *Client) URL() string { return c.url }

// Post sends body as application/json. Only HTTP 200 counts as success;
// every other outcome is returned as a *DeliveryError.
func (c *Client) Post(ctx context.Context, body []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Payload: body, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(body))

	resp, err := c.client.Do(req)
	if err != nil {
		return &DeliveryError{Payload: body, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Response:   strings.TrimSpace(string(respBody)),
		Payload:    body,
	}
}

// DeliveryError reports a failed POST: transport failure, timeout, or a
// non-200 response. Payload is the original request body.
type DeliveryError struct {
	StatusCode int
	Status     string
	Response   string
	Payload    []byte
	Err        error
}

func (e *DeliveryError) Error() string {
	var b strings.Builder
	b.WriteString("webhook delivery failed")
	switch {
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	case e.Status != "":
		b.WriteString(": ")
		b.WriteString(e.Status)
	default:
		fmt.Fprintf(&b, ": HTTP %d", e.StatusCode)
	}
	if e.Response != "" {
		b.WriteString(" (")
		b.WriteString(e.Response)
		b.WriteString(")")
	}
	if len(e.Payload) > 0 {
		b.WriteString("\n\n")
		b.Write(e.Payload)
	}
	return b.String()
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a network timeout.
func (e *DeliveryError) Timeout() bool {
	var ne net.Error
	return e.Err != nil && errors.As(e.Err, &ne) && ne.Timeout()
}
