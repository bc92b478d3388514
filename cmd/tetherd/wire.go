package main

import (
	"net/http"
	"time"

	"github.com/celerix-dev/tether/internal/api"
	"github.com/celerix-dev/tether/internal/auth"
	"github.com/celerix-dev/tether/internal/billing"
	"github.com/celerix-dev/tether/internal/config"
	"github.com/celerix-dev/tether/internal/guard"
	"github.com/celerix-dev/tether/internal/health"
	"github.com/celerix-dev/tether/internal/llm"
	"github.com/celerix-dev/tether/internal/log"
	"github.com/celerix-dev/tether/internal/recovery"
	"github.com/celerix-dev/tether/internal/reports"
	"github.com/celerix-dev/tether/internal/store"
	"github.com/celerix-dev/tether/internal/trends"
	"github.com/celerix-dev/tether/internal/vault"
	"golang.org/x/time/rate"
)

// buckets turns the configured limits into token buckets.
func buckets(l config.LimitsConfig) map[string]guard.Bucket {
	b := map[string]guard.Bucket{}
	if l.APIPerSecond > 0 {
		burst := l.APIBurst
		if burst < 1 {
			burst = 1
		}
		b[guard.BucketAPI] = guard.Bucket{Limit: rate.Limit(l.APIPerSecond), Burst: burst}
	}
	if l.AuthPerMinute > 0 {
		b[guard.BucketAuth] = guard.Bucket{Limit: rate.Every(time.Minute / time.Duration(l.AuthPerMinute)), Burst: l.AuthPerMinute}
	}
	if l.ReportsPerHour > 0 {
		b[guard.BucketReports] = guard.Bucket{Limit: rate.Every(time.Hour / time.Duration(l.ReportsPerHour)), Burst: l.ReportsPerHour}
	}
	return b
}

// wire builds every service from cfg. The returned flush persists dev-mode
// state and must run on shutdown.
func wire(cfg *config.Config) (*api.Handler, func(), error) {
	st := store.New(cfg)
	flush := func() {}
	if mem, ok := st.(*store.Memory); ok && cfg.DataDir != "" {
		snaps, err := store.NewSnapshots(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		if err := snaps.Load(mem); err != nil {
			return nil, nil, err
		}
		logger := log.WithComponent("store")
		logger.Info().Str("dir", cfg.DataDir).Msg("Loaded dev snapshot")
		flush = func() {
			if err := snaps.Save(mem); err != nil {
				logger.Error().Err(err).Msg("Saving dev snapshot failed")
				return
			}
			logger.Info().Str("dir", cfg.DataDir).Msg("Saved dev snapshot")
		}
	}
	g := guard.New(guard.Options{
		IdempotencyTTL:     cfg.Limits.IdempotencyTTL,
		IdempotencyMaxKeys: cfg.Limits.IdempotencyMaxKeys,
		RateLimitMaxKeys:   cfg.Limits.MaxKeys,
		Buckets:            buckets(cfg.Limits),
	})

	timeout := cfg.Supabase.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	authClient := auth.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, &http.Client{Timeout: timeout})
	if cfg.Supabase.JWTSecret == "" {
		logger := log.WithComponent("auth")
		logger.Warn().Msg("SUPABASE_JWT_SECRET not set; validating tokens against the auth server")
	}

	sealer, err := vault.NewSealer(cfg.Server.CookieSecret)
	if err != nil {
		return nil, nil, err
	}

	llmClient := llm.New(cfg.OpenAI)
	if !llmClient.Configured() {
		logger := log.WithComponent("reports")
		logger.Warn().Msg("OPENAI_API_KEY not set; report generation disabled")
	}

	checks := map[string]health.Checker{
		"store": health.FuncChecker(st.Ping),
	}
	if cfg.Supabase.URL != "" {
		checks["auth"] = health.NewHTTPChecker(authClient.HealthURL()).WithHeader("apikey", authClient.APIKey())
	}

	return &api.Handler{
		Config:   cfg,
		Store:    st,
		Guard:    g,
		Auth:     authClient,
		Verifier: auth.NewVerifier(cfg.Supabase.JWTSecret, authClient),
		Cookies:  &auth.Cookies{Sealer: sealer, Secure: cfg.Server.CookieSecure, Domain: cfg.Server.CookieDomain},
		Recovery: recovery.NewService(st, recovery.PolicyFromConfig(cfg.Recovery)),
		Reports:  reports.NewService(st, llmClient, cfg.Reports),
		Billing:  billing.New(cfg.Stripe, cfg.Server.AppURL, st, g),
		Trends:   trends.NewService(st),
		Checks:   checks,
	}, flush, nil
}
