// Package upstream implements the HTTP call to Gemini/Antigravity CLI
// endpoints the dispatcher issues once a credential is acquired.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/allaspectsdev/sigproxy/internal/credential"
	"github.com/allaspectsdev/sigproxy/internal/tracing"
)

// idleTimeout is the transport's ResponseHeaderTimeout: how long the
// client waits for upstream's response headers after sending a request.
// Reads of the streaming body after the headers arrive are not bounded by
// it or by any other idle-read deadline.
const idleTimeout = 120 * time.Second

// Client forwards a normalized request body to the upstream dialect
// selected by the acquired credential, trying each base URL in the
// credential's fallback chain until one accepts the connection
// (SPEC_FULL.md domain stack: credential base-URL fallback chain).
type Client struct {
	http *http.Client
}

// NewClient builds a Client with connection pooling tuned the same way
// the teacher's upstream client was (generalized: no blanket request
// timeout, since streaming connections must stay open for the duration
// of the response).
func NewClient() *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseHeaderTimeout: idleTimeout,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

// Forward issues the upstream call using cred, trying every base URL in
// cred's fallback chain in order until one returns a response (including
// non-2xx — only transport-level failures trigger the next URL).
func (c *Client) Forward(ctx context.Context, cred *credential.Credential, path string, body []byte, headers map[string]string) (*http.Response, error) {
	urls := credential.BaseURLsFor(cred.Kind)
	if cred.BaseURL != "" {
		// A credential loaded with an explicit base URL (or one substituted
		// in tests) takes precedence over the kind-wide default chain.
		urls = append([]string{cred.BaseURL}, urls...)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("upstream: no base URL configured for credential kind %q", cred.Kind)
	}

	var lastErr error
	for _, base := range urls {
		resp, err := c.attempt(ctx, base+path, cred, body, headers)
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("upstream: all base URLs exhausted for credential %s: %w", cred.ID, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, cred *credential.Credential, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("upstream: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	tracing.InjectHeaders(ctx, req)

	ctx, span := tracing.StartUpstreamSpan(ctx, url, string(cred.Kind))
	defer span.End()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("upstream: calling %s: %w", url, err)
	}
	return resp, nil
}
