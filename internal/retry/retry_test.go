package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (s statusErr) Error() string   { return http.StatusText(int(s)) }
func (s statusErr) HTTPStatus() int { return int(s) }

func fast(attempts int) Policy {
	return Policy{Attempts: attempts, Base: time.Millisecond, Factor: 2}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return statusErr(http.StatusServiceUnavailable)
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast(3), func(context.Context) error {
		calls++
		return statusErr(http.StatusBadRequest)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	var waits []time.Duration
	p := fast(3)
	p.OnRetry = func(_ int, w time.Duration, _ error) { waits = append(waits, w) }

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return statusErr(http.StatusTooManyRequests)
	})
	assert.Equal(t, statusErr(http.StatusTooManyRequests), err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, waits)
}

func TestDo_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{Attempts: 5, Base: time.Hour}
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(context.Context) error {
			calls++
			return statusErr(http.StatusBadGateway)
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.False(t, Transient(errors.New("bad json")))
	assert.False(t, Transient(context.Canceled))
	assert.True(t, Transient(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, Transient(statusErr(http.StatusInternalServerError)))
	assert.False(t, Transient(statusErr(http.StatusUnauthorized)))
}
