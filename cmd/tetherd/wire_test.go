package main

import (
	"testing"
	"time"

	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestBuckets(t *testing.T) {
	b := buckets(config.LimitsConfig{APIPerSecond: 5, APIBurst: 20, AuthPerMinute: 10, ReportsPerHour: 6})
	assert.Equal(t, guard.Bucket{Limit: 5, Burst: 20}, b[guard.BucketAPI])
	assert.Equal(t, rate.Every(6*time.Second), b[guard.BucketAuth].Limit)
	assert.Equal(t, 10, b[guard.BucketAuth].Burst)
	assert.Equal(t, rate.Every(10*time.Minute), b[guard.BucketReports].Limit)

	assert.Empty(t, buckets(config.LimitsConfig{}))
}

func TestWireDevConfig(t *testing.T) {
	cfg := &config.Config{
		Dev:    true,
		Server: config.ServerConfig{CookieSecret: make([]byte, 32)},
	}
	h, flush, err := wire(cfg)
	require.NoError(t, err)
	flush()
	assert.NotNil(t, h.Recovery)
	assert.Contains(t, h.Checks, "store")
	assert.NotContains(t, h.Checks, "auth")
	assert.False(t, h.Billing.Configured())

	cfg.Server.CookieSecret = []byte("short")
	_, _, err = wire(cfg)
	assert.Error(t, err)
}
