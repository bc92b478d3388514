// Package guard owns the only process-local state: the idempotency-key map and
// the per-subject rate limiters. Both maps sit behind one mutex and are
// cleared wholesale when they grow past their configured bound.
package guard

import (
	"sync"
	"time"

	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"golang.org/x/time/rate"
)

// Bucket names.
const (
	BucketAPI     = "api"
	BucketAuth    = "auth"
	BucketReports = "reports"
)

// Bucket is a token-bucket shape applied per subject.
type Bucket struct {
	Limit rate.Limit
	Burst int
}

// Response is a completed response kept for replays.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Outcome of Begin.
type Outcome int

const (
	// Proceed means the caller owns the key and must Complete or Abort it.
	Proceed Outcome = iota
	// Replay means a stored response is returned.
	Replay
	// InFlight means another request holds the key.
	InFlight
)

type entry struct {
	pending bool
	resp    Response
	expires time.Time
}

// Options sizes the maps.
type Options struct {
	IdempotencyTTL     time.Duration
	IdempotencyMaxKeys int
	RateLimitMaxKeys   int
	Buckets            map[string]Bucket
}

// Guard holds both maps.
type Guard struct {
	mu       sync.Mutex
	idem     map[string]*entry
	limiters map[string]*rate.Limiter

	ttl     time.Duration
	maxIdem int
	maxRate int
	buckets map[string]Bucket
	now     func() time.Time
}

// New creates a Guard. Zero options fall back to 24h TTL and 10000 keys per map.
func New(opts Options) *Guard {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.IdempotencyMaxKeys <= 0 {
		opts.IdempotencyMaxKeys = 10000
	}
	if opts.RateLimitMaxKeys <= 0 {
		opts.RateLimitMaxKeys = 10000
	}
	buckets := make(map[string]Bucket, len(opts.Buckets))
	for k, v := range opts.Buckets {
		buckets[k] = v
	}
	return &Guard{
		idem:     make(map[string]*entry),
		limiters: make(map[string]*rate.Limiter),
		ttl:      opts.IdempotencyTTL,
		maxIdem:  opts.IdempotencyMaxKeys,
		maxRate:  opts.RateLimitMaxKeys,
		buckets:  buckets,
		now:      time.Now,
	}
}

func idemKey(scope, key string) string { return scope + "|" + key }

// Begin claims an idempotency key within scope (usually the user id).
func (g *Guard) Begin(scope, key string) (Outcome, *Response) {
	k := idemKey(scope, key)
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.idem[k]; ok {
		switch {
		case e.pending:
			return InFlight, nil
		case now.Before(e.expires):
			resp := e.resp
			resp.Body = append([]byte(nil), e.resp.Body...)
			return Replay, &resp
		}
		delete(g.idem, k)
	}

	if len(g.idem) >= g.maxIdem {
		log.Logger.Info().Int("count", len(g.idem)).Msg("Clearing idempotency keys")
		g.idem = make(map[string]*entry)
	}
	g.idem[k] = &entry{pending: true}
	metrics.GuardEntries.WithLabelValues("idempotency").Set(float64(len(g.idem)))
	return Proceed, nil
}

// Complete stores a 2xx response for replay, or releases the key otherwise.
func (g *Guard) Complete(scope, key string, resp Response) {
	k := idemKey(scope, key)
	g.mu.Lock()
	defer g.mu.Unlock()

	if resp.Status < 200 || resp.Status > 299 {
		delete(g.idem, k)
		return
	}
	g.idem[k] = &entry{
		resp:    Response{Status: resp.Status, ContentType: resp.ContentType, Body: append([]byte(nil), resp.Body...)},
		expires: g.now().Add(g.ttl),
	}
}

// Abort releases a pending key so the client may retry.
func (g *Guard) Abort(scope, key string) {
	k := idemKey(scope, key)
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.idem[k]; ok && e.pending {
		delete(g.idem, k)
	}
}

// Allow takes one token from subject's limiter in bucket. When denied it
// returns the wait before a token is available. Unknown buckets always allow.
func (g *Guard) Allow(bucket, subject string) (bool, time.Duration) {
	b, ok := g.buckets[bucket]
	if !ok {
		return true, 0
	}
	k := bucket + "|" + subject
	now := g.now()

	g.mu.Lock()
	lim, exists := g.limiters[k]
	if !exists {
		if len(g.limiters) >= g.maxRate {
			log.Logger.Info().Int("count", len(g.limiters)).Msg("Clearing rate limiters")
			g.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(b.Limit, b.Burst)
		g.limiters[k] = lim
		metrics.GuardEntries.WithLabelValues("rate_limit").Set(float64(len(g.limiters)))
	}
	g.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		log.Logger.Warn().Str("bucket", bucket).Str("subject", subject).Msg("Rate limit exceeded")
		return false, d
	}
	return true, 0
}

// Len reports the sizes of both maps.
func (g *Guard) Len() (idempotency, limiters int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.idem), len(g.limiters)
}
