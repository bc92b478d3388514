// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// Policy controls attempts and backoff.
type Policy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	// Retryable decides whether an error is worth another attempt.
	// Nil means Transient.
	Retryable func(error) bool
	// OnRetry is called before sleeping, with the 1-based attempt that failed.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// Default is three attempts starting at 500ms, doubling.
var Default = Policy{Attempts: 3, Base: 500 * time.Millisecond, Factor: 2}

// StatusError is implemented by upstream errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// Transient reports whether err looks like a network failure, a 429 or a 5xx.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se StatusError
	if errors.As(err, &se) {
		s := se.HTTPStatus()
		return s == http.StatusTooManyRequests || s >= 500
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Do calls fn until it succeeds, returns a non-retryable error, attempts run
// out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 2
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = Transient
	}

	wait := p.Base
	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == p.Attempts || !retryable(err) {
			return err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		wait = time.Duration(float64(wait) * p.Factor)
	}
	return err
}
