// Package postgrest is a small client for a PostgREST endpoint such as the one
// Supabase exposes at /rest/v1. Requests run with the caller's access token
// when one is attached to the context, so row-level security applies.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/metrics"
)

type ctxKey int

const (
	tokenKey ctxKey = iota
	serviceKey
)

// WithAccessToken attaches a user's JWT to ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// AsService marks ctx to run with the service-role key, bypassing RLS.
func AsService(ctx context.Context) context.Context {
	return context.WithValue(ctx, serviceKey, true)
}

// AccessToken returns the token attached by WithAccessToken.
func AccessToken(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}

// Client talks to one PostgREST endpoint.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	http       *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for {projectURL}/rest/v1.
func New(projectURL, anonKey, serviceRoleKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(projectURL, "/") + "/rest/v1",
		anonKey:    anonKey,
		serviceKey: serviceRoleKey,
		http:       &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{c: c, table: table}
}

func (c *Client) authorize(ctx context.Context, req *http.Request) {
	apiKey := c.anonKey
	if apiKey == "" {
		apiKey = c.serviceKey
	}
	bearer := apiKey

	if svc, _ := ctx.Value(serviceKey).(bool); svc {
		apiKey, bearer = c.serviceKey, c.serviceKey
	} else if tok, ok := AccessToken(ctx); ok {
		bearer = tok
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
}

func (c *Client) do(ctx context.Context, method, path, query string, body any, prefer []string, out any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	u := c.baseURL + "/" + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	c.authorize(ctx, req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(prefer, ","))
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveUpstream("postgrest", started, err)
	if err != nil {
		return nil, fmt.Errorf("postgrest %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("postgrest read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return resp, parseError(resp.StatusCode, data)
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("postgrest decode %s: %w", path, err)
		}
	}
	return resp, nil
}

// Ping checks that the endpoint answers with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(AsService(ctx), http.MethodGet, "", "", nil, nil, nil)
	return err
}

// parseContentRange reads the total from "0-24/3573" or "*/0".
func parseContentRange(h string) (int, error) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || h[i+1:] == "*" {
		return 0, fmt.Errorf("content-range %q has no total", h)
	}
	return strconv.Atoi(h[i+1:])
}
