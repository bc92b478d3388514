package guard

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGuard(opts Options) (*Guard, *clock) {
	g := New(opts)
	c := &clock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	g.now = c.now
	return g, c
}

func TestIdempotency_ReplayAfterComplete(t *testing.T) {
	g, _ := newTestGuard(Options{})

	out, resp := g.Begin("user-1", "k1")
	require.Equal(t, Proceed, out)
	assert.Nil(t, resp)

	out, _ = g.Begin("user-1", "k1")
	assert.Equal(t, InFlight, out)

	g.Complete("user-1", "k1", Response{Status: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"id":"a"}`)})

	out, resp = g.Begin("user-1", "k1")
	require.Equal(t, Replay, out)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.JSONEq(t, `{"id":"a"}`, string(resp.Body))

	// keys are scoped per user
	out, _ = g.Begin("user-2", "k1")
	assert.Equal(t, Proceed, out)
}

func TestIdempotency_FailureReleasesKey(t *testing.T) {
	g, _ := newTestGuard(Options{})

	g.Begin("u", "k")
	g.Complete("u", "k", Response{Status: http.StatusBadGateway})
	out, _ := g.Begin("u", "k")
	assert.Equal(t, Proceed, out)

	g.Abort("u", "k")
	out, _ = g.Begin("u", "k")
	assert.Equal(t, Proceed, out)
}

func TestIdempotency_ExpiresAfterTTL(t *testing.T) {
	g, c := newTestGuard(Options{IdempotencyTTL: time.Hour})

	g.Begin("u", "k")
	g.Complete("u", "k", Response{Status: http.StatusOK})
	c.advance(59 * time.Minute)
	out, _ := g.Begin("u", "k")
	assert.Equal(t, Replay, out)

	c.advance(2 * time.Minute)
	out, _ = g.Begin("u", "k")
	assert.Equal(t, Proceed, out)
}

func TestIdempotency_ClearedOnOverflow(t *testing.T) {
	g, _ := newTestGuard(Options{IdempotencyMaxKeys: 2})

	g.Begin("u", "a")
	g.Begin("u", "b")
	g.Begin("u", "c")

	n, _ := g.Len()
	assert.Equal(t, 1, n)
	out, _ := g.Begin("u", "a")
	assert.Equal(t, Proceed, out)
}

func TestAllow_TokenBucketWithRetryAfter(t *testing.T) {
	g, c := newTestGuard(Options{Buckets: map[string]Bucket{
		BucketAuth: {Limit: rate.Every(time.Minute / 2), Burst: 2},
	}})

	ok, _ := g.Allow(BucketAuth, "10.0.0.1")
	assert.True(t, ok)
	ok, _ = g.Allow(BucketAuth, "10.0.0.1")
	assert.True(t, ok)

	ok, wait := g.Allow(BucketAuth, "10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, 30*time.Second, wait, float64(time.Second))

	// other subjects have their own bucket
	ok, _ = g.Allow(BucketAuth, "10.0.0.2")
	assert.True(t, ok)

	c.advance(30 * time.Second)
	ok, _ = g.Allow(BucketAuth, "10.0.0.1")
	assert.True(t, ok)
}

func TestAllow_UnknownBucketAlwaysAllows(t *testing.T) {
	g, _ := newTestGuard(Options{})
	for i := 0; i < 100; i++ {
		ok, _ := g.Allow("nope", "x")
		require.True(t, ok)
	}
}

func TestAllow_ClearedOnOverflow(t *testing.T) {
	g, _ := newTestGuard(Options{
		RateLimitMaxKeys: 3,
		Buckets:          map[string]Bucket{BucketAPI: {Limit: 1, Burst: 1}},
	})
	for _, s := range []string{"a", "b", "c", "d"} {
		g.Allow(BucketAPI, s)
	}
	_, n := g.Len()
	assert.Equal(t, 1, n)
}
