package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Dev      bool
	// DataDir holds dev-mode snapshots of the in-memory store. Empty disables them.
	DataDir  string
	Server   ServerConfig
	Supabase SupabaseConfig
	OpenAI   OpenAIConfig
	Stripe   StripeConfig
	Recovery RecoveryConfig
	Reports  ReportsConfig
	Limits   LimitsConfig
	Log      LogConfig
}

// ServerConfig contains HTTP listener and cookie settings.
type ServerConfig struct {
	Addr            string
	AppURL          string   // frontend origin used for Stripe redirect URLs
	CORSOrigins     []string // comma-separated in env
	CookieSecure    bool
	CookieDomain    string
	CookieSecret    []byte // 32 bytes, seals the refresh-token cookie
	CronSecret      string // bearer for POST /internal/sweep
	ShutdownTimeout time.Duration
	MaxConns        int
}

// SupabaseConfig points at the PostgREST gateway and the auth provider.
type SupabaseConfig struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	JWTSecret      string // when empty, tokens are validated remotely
	Timeout        time.Duration
}

// OpenAIConfig configures the Responses API client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Org        string
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
}

// StripeConfig configures checkout, the billing portal and webhook verification.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	PriceID       string
	APIURL        string // override for tests and stripe-mock
}

// RecoveryConfig holds the lapse and nudge thresholds.
type RecoveryConfig struct {
	LapseThresholdHours int
	LapseCooldown       time.Duration
	NudgeInterval       time.Duration
	NudgeMax            int
	SessionExpiryDays   int
}

// ReportsConfig holds report quotas.
type ReportsConfig struct {
	FreePerMonth      int
	PremiumPerMonth   int
	DefaultPeriodDays int
}

// LimitsConfig sizes the in-process idempotency and rate-limit maps.
type LimitsConfig struct {
	APIPerSecond       float64
	APIBurst           int
	AuthPerMinute      int
	ReportsPerHour     int
	MaxKeys            int
	IdempotencyTTL     time.Duration
	IdempotencyMaxKeys int
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level string
	JSON  bool
}

// LoadDotenv loads the first .env found in the working directory or its parents.
// A missing file is not an error.
func LoadDotenv() string {
	for _, p := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dev_mode", false)
	v.SetDefault("dev_data_dir", "")
	v.SetDefault("port", "8080")
	v.SetDefault("app_url", "http://localhost:5173")
	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("cookie_secure", true)
	v.SetDefault("cookie_domain", "")
	v.SetDefault("cookie_secret", "")
	v.SetDefault("cron_secret", "")
	v.SetDefault("shutdown_timeout", "10s")
	v.SetDefault("max_conns", 512)

	v.SetDefault("supabase_url", "")
	v.SetDefault("supabase_anon_key", "")
	v.SetDefault("supabase_service_role_key", "")
	v.SetDefault("supabase_jwt_secret", "")
	v.SetDefault("supabase_timeout", "10s")

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "https://api.openai.com")
	v.SetDefault("openai_model", "gpt-4.1-mini")
	v.SetDefault("openai_org", "")
	v.SetDefault("openai_timeout", "90s")
	v.SetDefault("openai_max_retries", 3)
	v.SetDefault("openai_retry_base", "500ms")

	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("stripe_price_id", "")
	v.SetDefault("stripe_api_url", "")

	v.SetDefault("lapse_threshold_hours", 72)
	v.SetDefault("lapse_cooldown", "24h")
	v.SetDefault("nudge_interval", "24h")
	v.SetDefault("nudge_max", 3)
	v.SetDefault("session_expiry_days", 14)

	v.SetDefault("free_reports_per_month", 3)
	v.SetDefault("premium_reports_per_month", 60)
	v.SetDefault("report_period_days", 7)

	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("auth_rate_per_minute", 10)
	v.SetDefault("reports_rate_per_hour", 6)
	v.SetDefault("rate_limit_max_keys", 10000)
	v.SetDefault("idempotency_ttl", "24h")
	v.SetDefault("idempotency_max_keys", 10000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Load reads .env, an optional YAML file and the environment, in increasing
// order of precedence, and validates the result.
func Load(path string) (*Config, error) {
	LoadDotenv()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Dev:     v.GetBool("dev_mode"),
		DataDir: v.GetString("dev_data_dir"),
		Server: ServerConfig{
			Addr:            ":" + strings.TrimPrefix(v.GetString("port"), ":"),
			AppURL:          strings.TrimRight(v.GetString("app_url"), "/"),
			CORSOrigins:     splitList(v.GetString("cors_origins")),
			CookieSecure:    v.GetBool("cookie_secure"),
			CookieDomain:    v.GetString("cookie_domain"),
			CronSecret:      v.GetString("cron_secret"),
			ShutdownTimeout: v.GetDuration("shutdown_timeout"),
			MaxConns:        v.GetInt("max_conns"),
		},
		Supabase: SupabaseConfig{
			URL:            strings.TrimRight(v.GetString("supabase_url"), "/"),
			AnonKey:        v.GetString("supabase_anon_key"),
			ServiceRoleKey: v.GetString("supabase_service_role_key"),
			JWTSecret:      v.GetString("supabase_jwt_secret"),
			Timeout:        v.GetDuration("supabase_timeout"),
		},
		OpenAI: OpenAIConfig{
			APIKey:     v.GetString("openai_api_key"),
			BaseURL:    strings.TrimRight(v.GetString("openai_base_url"), "/"),
			Model:      v.GetString("openai_model"),
			Org:        v.GetString("openai_org"),
			Timeout:    v.GetDuration("openai_timeout"),
			MaxRetries: v.GetInt("openai_max_retries"),
			RetryBase:  v.GetDuration("openai_retry_base"),
		},
		Stripe: StripeConfig{
			SecretKey:     v.GetString("stripe_secret_key"),
			WebhookSecret: v.GetString("stripe_webhook_secret"),
			PriceID:       v.GetString("stripe_price_id"),
			APIURL:        v.GetString("stripe_api_url"),
		},
		Recovery: RecoveryConfig{
			LapseThresholdHours: v.GetInt("lapse_threshold_hours"),
			LapseCooldown:       v.GetDuration("lapse_cooldown"),
			NudgeInterval:       v.GetDuration("nudge_interval"),
			NudgeMax:            v.GetInt("nudge_max"),
			SessionExpiryDays:   v.GetInt("session_expiry_days"),
		},
		Reports: ReportsConfig{
			FreePerMonth:      v.GetInt("free_reports_per_month"),
			PremiumPerMonth:   v.GetInt("premium_reports_per_month"),
			DefaultPeriodDays: v.GetInt("report_period_days"),
		},
		Limits: LimitsConfig{
			APIPerSecond:       v.GetFloat64("rate_limit_rps"),
			APIBurst:           v.GetInt("rate_limit_burst"),
			AuthPerMinute:      v.GetInt("auth_rate_per_minute"),
			ReportsPerHour:     v.GetInt("reports_rate_per_hour"),
			MaxKeys:            v.GetInt("rate_limit_max_keys"),
			IdempotencyTTL:     v.GetDuration("idempotency_ttl"),
			IdempotencyMaxKeys: v.GetInt("idempotency_max_keys"),
		},
		Log: LogConfig{
			Level: v.GetString("log_level"),
			JSON:  v.GetBool("log_json"),
		},
	}

	secret, err := parseCookieSecret(v.GetString("cookie_secret"))
	if err != nil {
		return nil, err
	}
	if secret == nil && cfg.Dev {
		// dev only: sessions do not survive a restart
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate cookie secret: %w", err)
		}
	}
	cfg.Server.CookieSecret = secret
	return cfg, nil
}

// Validate checks the settings the process cannot run without.
func (c *Config) Validate() error {
	if len(c.Server.CookieSecret) != 32 {
		return fmt.Errorf("COOKIE_SECRET must be 32 bytes (or 64 hex characters)")
	}
	if c.Dev {
		return nil
	}
	if c.Supabase.URL == "" {
		return fmt.Errorf("SUPABASE_URL is not set; required outside dev mode")
	}
	if c.Supabase.ServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is not set; required outside dev mode")
	}
	if c.Recovery.NudgeMax < 0 || c.Reports.FreePerMonth < 0 {
		return fmt.Errorf("quota and nudge limits must not be negative")
	}
	return nil
}

func parseCookieSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if len(s) == 64 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex in COOKIE_SECRET: %w", err)
		}
		return b, nil
	}
	if len(s) == 32 {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("COOKIE_SECRET must be 32 bytes (or 64 hex characters), got %d", len(s))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if o := strings.TrimRight(strings.TrimSpace(p), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// String returns a string representation of the config (sensitive values are masked).
func (c *Config) String() string {
	return fmt.Sprintf("Config{Addr: %s, Dev: %t, Supabase: %s, OpenAI: %s (%s), Stripe: %t, Secrets: *** (masked) ***}",
		c.Server.Addr, c.Dev, c.Supabase.URL, c.OpenAI.BaseURL, c.OpenAI.Model, c.Stripe.SecretKey != "")
}
