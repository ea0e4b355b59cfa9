// Package rest is the typed client for the marketplace chat REST API.
//
// It implements chat.Backend. Every request carries the bearer token from
// the configured TokenSource; 401/403 responses translate into
// chat.ErrUnauthorized so the core never retries an auth failure.
package rest

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

	"lancer/cmd/internal/chat"
)

const (
	// Bounded timeouts: short for poll-style fetches, longer for uploads
	// with attachments. A timed-out request is a failure, not a hang.
	defaultFetchTimeout  = 10 * time.Second
	defaultUploadTimeout = 60 * time.Second

	maxErrorBodyBytes = 4 << 10
)

// Client talks to the chat backend. Safe for concurrent use.
type Client struct {
	log    *slog.Logger
	base   *url.URL
	http   *http.Client
	tokens TokenSource

	fetchTimeout  time.Duration
	uploadTimeout time.Duration
}

// Option tweaks Client construction.
type Option func(*Client)

// WithHTTPClient substitutes the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithTimeouts overrides the fetch and upload timeouts.
func WithTimeouts(fetch, upload time.Duration) Option {
	return func(c *Client) {
		if fetch > 0 {
			c.fetchTimeout = fetch
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// NewClient constructs a Client for the given API base URL.
func NewClient(log *slog.Logger, baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", baseURL)
	}

	c := &Client{
		log:           log,
		base:          base,
		http:          &http.Client{},
		tokens:        tokens,
		fetchTimeout:  defaultFetchTimeout,
		uploadTimeout: defaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// endpoint joins path segments onto the base URL.
func (c *Client) endpoint(segments ...string) string {
	return c.base.JoinPath(segments...).String()
}

// do issues an authenticated request and returns the response on 2xx.
// 401/403 map to chat.ErrUnauthorized; other non-2xx statuses map to a
// transient-style error carrying the backend message.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, chat.ErrUnauthorized)
	}

	msg := strings.TrimSpace(string(body))
	var e errorDTO
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		msg = e.Message
	}
	return nil, fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, msg)
}

// getJSON issues a GET with the fetch timeout and decodes the body.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
