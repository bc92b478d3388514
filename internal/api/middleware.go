package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/celerix-dev/tether/internal/apperr"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID   = "X-Request-ID"
	headerIdempotency = "Idempotency-Key"
	headerReplayed    = "Idempotent-Replayed"

	maxIdempotencyKey = 255
)

// RequestID propagates a caller-supplied X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Logger.Info()
		switch {
		case status >= 500:
			ev = log.Logger.Error()
		case status >= 400:
			ev = log.Logger.Warn()
		}
		ev.Str("component", "http").
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("request_id", c.GetString("request_id")).
			Str("ip", c.ClientIP()).
			Msg("request")
	}
}

// Metrics records request counts and latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// subject is the rate-limit identity: the user when authenticated, else the client IP.
func subject(c *gin.Context) string {
	if p, ok := auth.FromContext(c.Request.Context()); ok {
		return "user:" + p.UserID
	}
	return "ip:" + c.ClientIP()
}

// RateLimit takes a token from bucket for the caller or answers 429.
func (h *Handler) RateLimit(bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := h.Guard.Allow(bucket, subject(c))
		if !ok {
			secs := int(wait / time.Second)
			if wait%time.Second != 0 {
				secs++
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			apperr.Abort(c, apperr.New(http.StatusTooManyRequests, "rate_limited", "too many requests"))
			return
		}
		c.Next()
	}
}

// captureWriter keeps a copy of the body so it can be replayed.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotent replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the user and route. Requests without a key pass through.
func (h *Handler) Idempotent() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(headerIdempotency)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKey {
			apperr.Abort(c, apperr.BadRequest("Idempotency-Key is too long"))
			return
		}
		scope := auth.MustPrincipal(c).UserID + "|" + c.Request.Method + " " + c.FullPath()

		switch out, resp := h.Guard.Begin(scope, key); out {
		case guard.Replay:
			c.Header(headerReplayed, "true")
			c.Data(resp.Status, resp.ContentType, resp.Body)
			c.Abort()
			return
		case guard.InFlight:
			apperr.Abort(c, apperr.Conflict("request_in_progress", "a request with this Idempotency-Key is in progress"))
			return
		}

		done := false
		defer func() {
			if !done {
				h.Guard.Abort(scope, key)
			}
		}()

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		h.Guard.Complete(scope, key, guard.Response{
			Status:      w.Status(),
			ContentType: w.Header().Get("Content-Type"),
			Body:        w.body.Bytes(),
		})
		done = true
	}
}
