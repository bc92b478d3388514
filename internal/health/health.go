// Package health runs the dependency checks behind /readyz.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Result is the outcome of one check.
type Result struct {
	Healthy   bool          `json:"healthy"`
	Message   string        `json:"message"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Checker is implemented by every dependency check.
type Checker interface {
	Check(ctx context.Context) Result
}

// FuncChecker adapts a ping function, such as Store.Ping.
type FuncChecker func(ctx context.Context) error

func (f FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f(ctx); err != nil {
		return Result{Message: err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return Result{Healthy: true, Message: "ok", CheckedAt: start, Duration: time.Since(start)}
}

// HTTPChecker treats a status in [ExpectedStatusMin, ExpectedStatusMax] as healthy.
type HTTPChecker struct {
	URL               string
	Headers           map[string]string
	ExpectedStatusMin int
	ExpectedStatusMax int
	Client            *http.Client
}

func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:               url,
		Headers:           make(map[string]string),
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client:            &http.Client{Timeout: 5 * time.Second},
	}
}

// WithHeader adds a request header.
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	fail := func(format string, args ...any) Result {
		return Result{Message: fmt.Sprintf(format, args...), CheckedAt: start, Duration: time.Since(start)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fail("failed to create request: %v", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fail("request failed: %v", err)
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax
	msg := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !healthy {
		msg = fmt.Sprintf("%s (expected %d-%d)", msg, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}
	return Result{Healthy: healthy, Message: msg, CheckedAt: start, Duration: time.Since(start)}
}

// Report aggregates named checks.
type Report struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]Result `json:"checks"`
}

// Failing lists the names of unhealthy checks in sorted order.
func (r Report) Failing() []string {
	var names []string
	for name, res := range r.Checks {
		if !res.Healthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Run executes every check concurrently, each bounded by timeout.
func Run(ctx context.Context, timeout time.Duration, checks map[string]Checker) Report {
	rep := Report{Healthy: true, Checks: make(map[string]Result, len(checks))}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, c := range checks {
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := c.Check(cctx)

			mu.Lock()
			defer mu.Unlock()
			rep.Checks[name] = res
			if !res.Healthy {
				rep.Healthy = false
			}
		}(name, c)
	}
	wg.Wait()
	return rep
}
