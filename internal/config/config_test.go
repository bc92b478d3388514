package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hexSecret = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestLoad_DevModeDefaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("COOKIE_SECRET", "")
	t.Setenv("SUPABASE_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Dev)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Len(t, cfg.Server.CookieSecret, 32)
	assert.Equal(t, 72, cfg.Recovery.LapseThresholdHours)
	assert.Equal(t, 24*time.Hour, cfg.Recovery.NudgeInterval)
	assert.Equal(t, 3, cfg.Reports.FreePerMonth)
	assert.Equal(t, "https://api.openai.com", cfg.OpenAI.BaseURL)
}

func TestLoad_RequiresSupabaseOutsideDev(t *testing.T) {
	t.Setenv("DEV_MODE", "false")
	t.Setenv("COOKIE_SECRET", hexSecret)
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUPABASE_URL")

	t.Setenv("SUPABASE_URL", "https://proj.supabase.co/")
	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://proj.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, byte(0x1f), cfg.Server.CookieSecret[31])
}

func TestLoad_RejectsShortCookieSecret(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("COOKIE_SECRET", "too-short")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_YAMLFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tether.yaml")
	body := "dev_mode: true\nport: \"9090\"\nnudge_max: 5\ncors_origins: \"https://a.example, https://b.example/\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("COOKIE_SECRET", hexSecret)
	t.Setenv("NUDGE_MAX", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 7, cfg.Recovery.NudgeMax)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Supabase.ServiceRoleKey = "super-secret"
	cfg.OpenAI.APIKey = "sk-live"
	s := cfg.String()
	assert.False(t, strings.Contains(s, "super-secret"))
	assert.False(t, strings.Contains(s, "sk-live"))
}
