package sdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celerix-dev/tether/internal/health"
	"github.com/celerix-dev/tether/internal/recovery"
	"github.com/celerix-dev/tether/internal/trends"
)

var (
	// ErrUnauthorized is returned when the cron secret or admin token is rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotConfigured is returned when the server has the route disabled.
	ErrNotConfigured = errors.New("not configured on server")
)

// Wire types shared with the server.
type (
	SweepResult = recovery.SweepResult
	Cohort      = trends.Cohort
)

// Readiness is the body of /readyz.
type Readiness struct {
	Status  string                   `json:"status"`
	Failing []string                 `json:"failing,omitempty"`
	Checks  map[string]health.Result `json:"checks"`
}

// Ready reports whether every check passed.
func (r *Readiness) Ready() bool { return r != nil && r.Status == "ready" }

// APIError is a non-2xx response in the server's {error, code} shape.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// HTTPStatus lets the retry policy treat 429 and 5xx as transient.
func (e *APIError) HTTPStatus() int { return e.Status }

// --- Functional Interfaces ---

// HealthReader reads liveness and readiness.
type HealthReader interface {
	Live(ctx context.Context) error
	Ready(ctx context.Context) (*Readiness, error)
}

// Sweeper triggers the scheduled recovery sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

// TrendsReader reads admin cohort metrics.
type TrendsReader interface {
	Cohorts(ctx context.Context, weeks int) ([]Cohort, error)
}

// --- Composite ---

// Operator is everything the ops CLI needs.
type Operator interface {
	HealthReader
	Sweeper
	TrendsReader
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	CronSecret string
	AdminToken string
	Timeout    time.Duration
	// Attempts bounds retries on transient failures. Zero means 3.
	Attempts int
}
