package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptopulse/internal/model"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		ListenAddr  string `yaml:"listen_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"server"`

	Feed struct {
		DefaultPair       string        `yaml:"default_pair"` // SYMBOL@interval
		HistoryLimit      int           `yaml:"history_limit"`
		RESTBaseURL       string        `yaml:"rest_base_url"`
		WSBaseURL         string        `yaml:"ws_base_url"`
		SyntheticInterval time.Duration `yaml:"synthetic_interval"`
		StaleAfter        time.Duration `yaml:"stale_after"`
	} `yaml:"feed"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`

	Analysis struct {
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		QuickModel string `yaml:"quick_model"`
		UltraModel string `yaml:"ultra_model"`
	} `yaml:"analysis"`

	Notify struct {
		WebhookURL       string `yaml:"webhook_url"`
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id"`
	} `yaml:"notify"`

	Retention struct {
		Keep      time.Duration `yaml:"keep"`
		PruneCron string        `yaml:"prune_cron"`
	} `yaml:"retention"`

	LogLevel       string `yaml:"log_level"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

// Load reads config from an optional YAML file, then applies environment
// variable overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	overrideString(&c.Server.ListenAddr, "LISTEN_ADDR")
	overrideString(&c.Server.MetricsAddr, "METRICS_ADDR")

	overrideString(&c.Feed.DefaultPair, "DEFAULT_PAIR")
	overrideString(&c.Feed.RESTBaseURL, "BINANCE_REST_URL")
	overrideString(&c.Feed.WSBaseURL, "BINANCE_WS_URL")

	overrideString(&c.Redis.Addr, "REDIS_ADDR")
	overrideString(&c.Redis.Password, "REDIS_PASSWORD")
	overrideString(&c.Database.SQLitePath, "SQLITE_PATH")

	overrideString(&c.Analysis.APIKey, "GEMINI_API_KEY")
	overrideString(&c.Analysis.BaseURL, "GEMINI_BASE_URL")
	overrideString(&c.Analysis.QuickModel, "GEMINI_QUICK_MODEL")
	overrideString(&c.Analysis.UltraModel, "GEMINI_ULTRA_MODEL")

	overrideString(&c.Notify.WebhookURL, "WEBHOOK_URL")
	overrideString(&c.Notify.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	overrideString(&c.Notify.TelegramChatID, "TELEGRAM_CHAT_ID")

	overrideString(&c.Retention.PruneCron, "PRUNE_CRON")
	overrideString(&c.LogLevel, "LOG_LEVEL")

	for _, err := range []error{
		overrideInt(&c.Feed.HistoryLimit, "HISTORY_LIMIT"),
		overrideInt(&c.Redis.DB, "REDIS_DB"),
		overrideDuration(&c.Feed.SyntheticInterval, "SYNTHETIC_INTERVAL"),
		overrideDuration(&c.Feed.StaleAfter, "STREAM_STALE_AFTER"),
		overrideDuration(&c.Retention.Keep, "RETENTION"),
		overrideBool(&c.TracingEnabled, "TRACING_ENABLED"),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.ListenAddr, ":8080")
	setDefault(&c.Server.MetricsAddr, ":9090")
	setDefault(&c.Feed.DefaultPair, model.DefaultPair.Key())
	setDefault(&c.Feed.RESTBaseURL, "https://api.binance.com")
	setDefault(&c.Feed.WSBaseURL, "wss://stream.binance.com:9443/ws")
	setDefault(&c.Redis.Addr, "localhost:6379")
	setDefault(&c.Database.SQLitePath, "data/chartd.db")
	setDefault(&c.Analysis.QuickModel, "gemini-2.5-flash")
	setDefault(&c.Analysis.UltraModel, "gemini-2.5-pro")
	setDefault(&c.Retention.PruneCron, "0 0 3 * * *")
	setDefault(&c.LogLevel, "info")

	if c.Feed.HistoryLimit == 0 {
		c.Feed.HistoryLimit = 300
	}
	if c.Feed.SyntheticInterval == 0 {
		c.Feed.SyntheticInterval = 5 * time.Second
	}
	if c.Feed.StaleAfter == 0 {
		c.Feed.StaleAfter = 30 * time.Second
	}
	if c.Retention.Keep == 0 {
		c.Retention.Keep = 30 * 24 * time.Hour
	}
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if _, err := model.ParsePair(c.Feed.DefaultPair); err != nil {
		return fmt.Errorf("feed.default_pair: %w", err)
	}
	if c.Feed.HistoryLimit < 1 || c.Feed.HistoryLimit > 1000 {
		return fmt.Errorf("feed.history_limit must be in [1, 1000], got %d", c.Feed.HistoryLimit)
	}
	if c.Feed.SyntheticInterval <= 0 {
		return fmt.Errorf("feed.synthetic_interval must be positive")
	}
	if c.Retention.Keep > 0 && strings.TrimSpace(c.Retention.PruneCron) == "" {
		return fmt.Errorf("retention.prune_cron is required when retention.keep is set")
	}
	return nil
}

// DefaultPair returns the parsed default pair, falling back to BTCUSDT@1h.
func (c *Config) DefaultPair() model.Pair {
	p, err := model.ParsePair(c.Feed.DefaultPair)
	if err != nil {
		return model.DefaultPair
	}
	return p
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = d
	return nil
}

func overrideBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("env %s: %w", key, err)
	}
	*dst = b
	return nil
}
