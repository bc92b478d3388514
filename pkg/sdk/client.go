// Package sdk is the operator client for a running tether server. It drives
// the scheduled sweep, reads readiness and pulls admin cohort metrics.
package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/celerix-dev/tether/internal/retry"
)

// Client implements Operator over HTTP.
type Client struct {
	base   string
	cron   string
	token  string
	http   *http.Client
	policy retry.Policy
}

// New returns a Client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sdk: invalid base URL %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		// a sweep over many profiles takes a while
		timeout = 5 * time.Minute
	}
	policy := retry.Policy{Attempts: 3, Base: 200 * time.Millisecond, Factor: 2}
	if opts.Attempts > 0 {
		policy.Attempts = opts.Attempts
	}
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		fmt.Fprintf(os.Stderr, "[tether sdk] attempt %d failed: %v, retrying in %s\n", attempt, err, wait)
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		cron:   opts.CronSecret,
		token:  opts.AdminToken,
		http:   &http.Client{Timeout: timeout},
		policy: policy,
	}, nil
}

// FromEnv builds a Client from TETHER_URL, TETHER_CRON_SECRET and
// TETHER_ADMIN_TOKEN. The URL defaults to the local dev server.
func FromEnv() (*Client, error) {
	base := os.Getenv("TETHER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	return New(Options{
		BaseURL:    base,
		CronSecret: os.Getenv("TETHER_CRON_SECRET"),
		AdminToken: os.Getenv("TETHER_ADMIN_TOKEN"),
	})
}

// do sends one request with retries and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path, bearer string, out any) error {
	return retry.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode/100 != 2 {
			return decodeError(resp.StatusCode, body)
		}
		if out == nil || len(body) == 0 {
			return nil
		}
		return json.Unmarshal(body, out)
	})
}

func decodeError(status int, body []byte) error {
	ae := &APIError{Status: status}
	if err := json.Unmarshal(body, ae); err != nil || ae.Message == "" {
		ae.Message = strings.TrimSpace(string(body))
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, ae.Message)
	case status == http.StatusServiceUnavailable && ae.Code == "not_configured":
		return fmt.Errorf("%w: %s", ErrNotConfigured, ae.Message)
	}
	return ae
}

func (c *Client) Live(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil)
}

// Ready returns the readiness report. A 503 still yields the report.
func (c *Client) Ready(ctx context.Context) (*Readiness, error) {
	var r Readiness
	err := c.do(ctx, http.MethodGet, "/readyz", "", &r)
	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusServiceUnavailable {
		var unready Readiness
		if jerr := json.Unmarshal([]byte(ae.Message), &unready); jerr == nil && unready.Status != "" {
			return &unready, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) Sweep(ctx context.Context) (*SweepResult, error) {
	if c.cron == "" {
		return nil, fmt.Errorf("%w: no cron secret set", ErrUnauthorized)
	}
	var res SweepResult
	if err := c.do(ctx, http.MethodPost, "/internal/sweep", c.cron, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Cohorts(ctx context.Context, weeks int) ([]Cohort, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: no admin token set", ErrUnauthorized)
	}
	path := "/api/admin/trends/cohorts"
	if weeks > 0 {
		path += "?weeks=" + strconv.Itoa(weeks)
	}
	var out struct {
		Cohorts []Cohort `json:"cohorts"`
	}
	if err := c.do(ctx, http.MethodGet, path, c.token, &out); err != nil {
		return nil, err
	}
	return out.Cohorts, nil
}

var _ Operator = (*Client)(nil)
