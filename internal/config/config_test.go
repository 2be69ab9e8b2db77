package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GITHUB_ACTIONS", "APP_ENV", "LOG_LEVEL", "WORKERS", "SYNC_MODE", "DATA_DIR",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "RESEND_API_KEY", "EMAIL_FROM", "EMAIL_TO",
		"GDRIVE_SERVICE_ACCOUNT", "GDRIVE_FOLDER_ID", "BACKUP_PROVIDER", "HTTPS_PROXY", "CRON_DAILY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "hot", cfg.Sync.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Sync.CacheExpiry)
	assert.Equal(t, 252, cfg.Analysis.MinBars)
	assert.Equal(t, "none", cfg.Backup.Provider)
	assert.Len(t, cfg.Markets, 4)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
environment: local
workers: 3
sync:
  mode: full
  cache_expiry: 2h
markets:
  - id: hk-share
    name: Hong Kong
    enabled: true
  - id: us-share
    name: US
    enabled: false
`)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("EMAIL_TO", "a@example.com, b@example.com")
	t.Setenv("GITHUB_ACTIONS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cloud", cfg.Environment)
	assert.Equal(t, "full", cfg.Sync.Mode)
	assert.Equal(t, 2*time.Hour, cfg.Sync.CacheExpiry)
	assert.Equal(t, "tok", cfg.Telegram.BotToken)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Email.To)

	enabled := cfg.EnabledMarkets()
	require.Len(t, enabled, 1)
	assert.Equal(t, "hk-share", enabled[0].ID)

	rt := cfg.Runtime()
	assert.True(t, rt.Cloud)
	assert.False(t, rt.CacheEnabled)
	assert.True(t, rt.AlwaysOptimize)
	assert.Equal(t, 3, rt.WorkerPoolSize)
}

func TestPolicyFor(t *testing.T) {
	local := PolicyFor(false)
	assert.True(t, local.CacheEnabled)
	assert.False(t, local.AlwaysOptimize)
	assert.Equal(t, 6, local.WorkerPoolSize)

	cloud := PolicyFor(true)
	assert.False(t, cloud.CacheEnabled)
	assert.True(t, cloud.AlwaysOptimize)
	assert.Equal(t, 2, cloud.WorkerPoolSize)
}

func TestValidate_Rejects(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad mode", func(c *Config) { c.Sync.Mode = "warm" }},
		{"bad empty policy", func(c *Config) { c.Sync.EmptyPolicy = "forget" }},
		{"unknown market", func(c *Config) { c.Markets[0].ID = "jp-share" }},
		{"duplicate market", func(c *Config) { c.Markets[1].ID = c.Markets[0].ID }},
		{"drive without folder", func(c *Config) { c.Backup.Provider = "drive"; c.Backup.CredentialsFile = "key.json" }},
		{"drive without credentials", func(c *Config) { c.Backup.Provider = "drive"; c.Backup.FolderID = "folder" }},
		{"file without dir", func(c *Config) { c.Backup.Provider = "file" }},
		{"bad recipient", func(c *Config) { c.Email.To = []string{"not-an-email"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMarketLookup(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	m, ok := cfg.Market("kr-share")
	require.True(t, ok)
	assert.Equal(t, "Korea", m.Name)

	_, ok = cfg.Market("jp-share")
	assert.False(t, ok)
}
