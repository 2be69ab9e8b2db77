package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"MarketWarehouse/internal/model"
)

// Config holds all application configuration.
type Config struct {
	Environment string `yaml:"environment" validate:"oneof=local cloud"`
	LogLevel    string `yaml:"log_level"`
	Workers     int    `yaml:"workers" validate:"gte=0"` // overrides the environment's pool size when set

	Paths struct {
		DataDir   string `yaml:"data_dir" validate:"required"`
		OutputDir string `yaml:"output_dir" validate:"required"`
	} `yaml:"paths"`

	Sync SyncConfig `yaml:"sync"`

	Analysis struct {
		MinBars int `yaml:"min_bars" validate:"gt=0"`
		TopN    int `yaml:"top_n" validate:"gt=0"`
	} `yaml:"analysis"`

	Markets []model.Market `yaml:"markets" validate:"required,min=1,dive"`

	Backup BackupConfig `yaml:"backup"`

	Email struct {
		APIKey  string   `yaml:"api_key"`
		BaseURL string   `yaml:"base_url"`
		From    string   `yaml:"from"`
		To      []string `yaml:"to" validate:"dive,email"`
	} `yaml:"email"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`

	Schedule struct {
		DailyCron string `yaml:"daily_cron" validate:"required"`
	} `yaml:"schedule"`

	Proxy string `yaml:"proxy"`
}

// SyncConfig tunes the downloader.
type SyncConfig struct {
	Mode                string        `yaml:"mode" validate:"oneof=hot full"`
	HotLookbackDays     int           `yaml:"hot_lookback_days" validate:"gt=0"`
	FullStart           string        `yaml:"full_start" validate:"datetime=2006-01-02"`
	CacheExpiry         time.Duration `yaml:"cache_expiry" validate:"gt=0"`
	JitterMin           time.Duration `yaml:"jitter_min"`
	JitterMax           time.Duration `yaml:"jitter_max" validate:"gtefield=JitterMin"`
	RequestTimeout      time.Duration `yaml:"request_timeout" validate:"gt=0"`
	RequestsPerSecond   float64       `yaml:"requests_per_second" validate:"gt=0"`
	RateLimitAttempts   int           `yaml:"rate_limit_attempts" validate:"gt=0"`
	RateLimitBackoffMin time.Duration `yaml:"rate_limit_backoff_min"`
	RateLimitBackoffMax time.Duration `yaml:"rate_limit_backoff_max" validate:"gtefield=RateLimitBackoffMin"`
	EmptyPolicy         string        `yaml:"empty_policy" validate:"oneof=retry exclude"`
	EmptyExcludeDays    int           `yaml:"empty_exclude_days" validate:"gte=0"`
	ListingTimeout      time.Duration `yaml:"listing_timeout" validate:"gt=0"`
}

// FullStartDate is the first day requested in full mode.
func (s SyncConfig) FullStartDate() time.Time {
	t, err := time.Parse("2006-01-02", s.FullStart)
	if err != nil {
		return time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// BackupConfig selects and configures the remote store backup.
type BackupConfig struct {
	Provider        string        `yaml:"provider" validate:"oneof=none file drive"`
	FolderID        string        `yaml:"folder_id" validate:"required_if=Provider drive"`
	CredentialsJSON string        `yaml:"-"`
	CredentialsFile string        `yaml:"credentials_file"`
	LocalDir        string        `yaml:"local_dir" validate:"required_if=Provider file"`
	Attempts        int           `yaml:"attempts" validate:"gt=0"`
	Delay           time.Duration `yaml:"delay"`
}

// Runtime is the execution-environment policy resolved once at startup.
type Runtime struct {
	Cloud          bool
	CacheEnabled   bool
	WorkerPoolSize int
	AlwaysOptimize bool
}

// PolicyFor returns the default policy of the cloud (CI) or local environment.
func PolicyFor(cloud bool) Runtime {
	if cloud {
		return Runtime{Cloud: true, CacheEnabled: false, WorkerPoolSize: 2, AlwaysOptimize: true}
	}
	return Runtime{Cloud: false, CacheEnabled: true, WorkerPoolSize: 6, AlwaysOptimize: false}
}

// Runtime resolves the policy for this configuration.
func (c *Config) Runtime() Runtime {
	rt := PolicyFor(c.Environment == "cloud")
	if c.Workers > 0 {
		rt.WorkerPoolSize = c.Workers
	}
	return rt
}

// Load reads config from a YAML file, then applies .env and environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal in CI.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		cfg.Environment = "cloud"
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := os.Getenv("SYNC_MODE"); v != "" {
		cfg.Sync.Mode = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Email.APIKey = v
	}
	if v := os.Getenv("EMAIL_FROM"); v != "" {
		cfg.Email.From = v
	}
	if v := os.Getenv("EMAIL_TO"); v != "" {
		cfg.Email.To = splitList(v)
	}
	if v := os.Getenv("GDRIVE_SERVICE_ACCOUNT"); v != "" {
		cfg.Backup.CredentialsJSON = v
	}
	if v := os.Getenv("GDRIVE_FOLDER_ID"); v != "" {
		cfg.Backup.FolderID = v
	}
	if v := os.Getenv("BACKUP_PROVIDER"); v != "" {
		cfg.Backup.Provider = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("CRON_DAILY"); v != "" {
		cfg.Schedule.DailyCron = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "local"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = "data"
	}
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = "output"
	}

	s := &cfg.Sync
	if s.Mode == "" {
		s.Mode = string(model.ModeHot)
	}
	if s.HotLookbackDays == 0 {
		s.HotLookbackDays = 730
	}
	if s.FullStart == "" {
		s.FullStart = "1990-01-01"
	}
	if s.CacheExpiry == 0 {
		s.CacheExpiry = 24 * time.Hour
	}
	if s.JitterMin == 0 && s.JitterMax == 0 {
		s.JitterMin, s.JitterMax = 200*time.Millisecond, 700*time.Millisecond
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = 20 * time.Second
	}
	if s.RequestsPerSecond == 0 {
		s.RequestsPerSecond = 5
	}
	if s.RateLimitAttempts == 0 {
		s.RateLimitAttempts = 2
	}
	if s.RateLimitBackoffMin == 0 && s.RateLimitBackoffMax == 0 {
		s.RateLimitBackoffMin, s.RateLimitBackoffMax = 20*time.Second, 40*time.Second
	}
	if s.EmptyPolicy == "" {
		s.EmptyPolicy = "retry"
	}
	if s.EmptyExcludeDays == 0 {
		s.EmptyExcludeDays = 30
	}
	if s.ListingTimeout == 0 {
		s.ListingTimeout = 30 * time.Second
	}

	if cfg.Analysis.MinBars == 0 {
		cfg.Analysis.MinBars = 252
	}
	if cfg.Analysis.TopN == 0 {
		cfg.Analysis.TopN = 50
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = DefaultMarkets()
	}

	if cfg.Backup.Provider == "" {
		cfg.Backup.Provider = "none"
		if cfg.Backup.CredentialsJSON != "" || cfg.Backup.CredentialsFile != "" {
			cfg.Backup.Provider = "drive"
		}
	}
	if cfg.Backup.Attempts == 0 {
		cfg.Backup.Attempts = 3
	}
	if cfg.Backup.Delay == 0 {
		cfg.Backup.Delay = 5 * time.Second
	}

	if cfg.Email.BaseURL == "" {
		cfg.Email.BaseURL = "https://api.resend.com"
	}
	if cfg.Email.From == "" {
		cfg.Email.From = "onboarding@resend.dev"
	}
	if cfg.Schedule.DailyCron == "" {
		cfg.Schedule.DailyCron = "0 30 18 * * 1-5"
	}
}

// DefaultMarkets is the market set used when the config file lists none.
func DefaultMarkets() []model.Market {
	return []model.Market{
		{ID: "tw-share", Name: "Taiwan", Emoji: "🇹🇼", Enabled: true, QuoteURL: "https://www.wantgoo.com/stock/{code}", MinListing: 1000},
		{ID: "us-share", Name: "United States", Emoji: "🇺🇸", Enabled: true, QuoteURL: "https://finance.yahoo.com/quote/{code}", MinListing: 3000},
		{ID: "hk-share", Name: "Hong Kong", Emoji: "🇭🇰", Enabled: true, QuoteURL: "https://www.aastocks.com/en/stocks/quote/detail-quote.aspx?symbol={code}", MinListing: 1000},
		{ID: "kr-share", Name: "Korea", Emoji: "🇰🇷", Enabled: true, QuoteURL: "https://finance.naver.com/item/main.naver?code={code}", MinListing: 1000},
	}
}

// EnabledMarkets returns the markets to process, in config order.
func (c *Config) EnabledMarkets() []model.Market {
	var out []model.Market
	for _, m := range c.Markets {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// Market looks up a configured market by id.
func (c *Config) Market(id string) (model.Market, bool) {
	for _, m := range c.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return model.Market{}, false
}

// Validate checks struct constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Backup.Provider == "drive" && c.Backup.CredentialsJSON == "" && c.Backup.CredentialsFile == "" {
		return fmt.Errorf("backup.provider drive requires GDRIVE_SERVICE_ACCOUNT or backup.credentials_file")
	}
	seen := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if seen[m.ID] {
			return fmt.Errorf("markets: duplicate id %q", m.ID)
		}
		seen[m.ID] = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
