package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ksred/klear-gateway/internal/exchange"
)

const (
	ModeCoinbase = "coinbase"
	ModePaper    = "paper"

	DefaultWebsocketURL = "wss://advanced-trade-ws.coinbase.com"
	DefaultDSN          = "file::memory:?cache=shared"
)

// Config is the full process configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Exchange ExchangeConfig `yaml:"exchange"`
	Stream   StreamConfig   `yaml:"stream"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Env             string        `yaml:"env"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	UIFile          string        `yaml:"ui_file"`
	JWTSecret       string        `yaml:"jwt_secret"`
	RateLimit       int           `yaml:"rate_limit_per_minute"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ExchangeConfig selects and configures the upstream exchange
type ExchangeConfig struct {
	Mode      string               `yaml:"mode"`
	BaseURL   string               `yaml:"base_url"`
	WSURL     string               `yaml:"ws_url"`
	APIKey    string               `yaml:"api_key"`
	APISecret string               `yaml:"api_secret"`
	Timeout   time.Duration        `yaml:"timeout"`
	Paper     exchange.PaperConfig `yaml:"paper"`
}

// StreamConfig holds the subscription limits. Zero values mean unlimited.
type StreamConfig struct {
	DefaultChannel   string        `yaml:"default_channel"`
	MaxSubscriptions int           `yaml:"max_subscriptions"`
	RecentMessages   int           `yaml:"recent_messages"`
	Heartbeats       bool          `yaml:"heartbeats"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// StorageConfig points at the idempotency ledger database
type StorageConfig struct {
	DSN string `yaml:"dsn"`
}

// LogConfig controls the log level and file rotation
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5432,
			Env:             "development",
			CORSOrigins:     []string{"*"},
			RateLimit:       600,
			ShutdownTimeout: 5 * time.Second,
		},
		Exchange: ExchangeConfig{
			Mode:    ModeCoinbase,
			BaseURL: exchange.DefaultBaseURL,
			WSURL:   DefaultWebsocketURL,
			Timeout: 30 * time.Second,
			Paper:   exchange.DefaultPaperConfig(),
		},
		Stream: StreamConfig{
			DefaultChannel:   "ticker",
			RecentMessages:   100,
			Heartbeats:       true,
			HandshakeTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{DSN: DefaultDSN},
		Log:     LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load reads .env (best effort), then the YAML file at path (if it exists),
// then environment overrides, and validates the result
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for _, key := range []string{"FLASK_PORT", "PORT"} {
		if v := os.Getenv(key); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			c.Server.Port = port
		}
	}
	setString(&c.Server.Env, "ENV")
	setString(&c.Server.JWTSecret, "GATEWAY_JWT_SECRET")
	setString(&c.Exchange.Mode, "EXCHANGE_MODE")
	setString(&c.Exchange.APIKey, "COINBASE_API_KEY")
	setString(&c.Exchange.APISecret, "COINBASE_API_SECRET")
	setString(&c.Exchange.BaseURL, "COINBASE_BASE_URL")
	setString(&c.Exchange.WSURL, "COINBASE_WS_URL")
	setString(&c.Storage.DSN, "DATABASE_DSN")
	setString(&c.Log.File, "LOG_FILE")
	if os.Getenv("DEBUG") == "true" {
		c.Log.Level = "debug"
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects configurations the gateway cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Exchange.Mode {
	case ModeCoinbase:
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			return errors.New("coinbase mode requires COINBASE_API_KEY and COINBASE_API_SECRET")
		}
	case ModePaper:
	default:
		return fmt.Errorf("unknown exchange mode %q", c.Exchange.Mode)
	}
	if c.Stream.MaxSubscriptions < 0 {
		return fmt.Errorf("stream.max_subscriptions must not be negative")
	}
	return nil
}

// Production reports whether the gateway runs in production mode
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// Redacted is a copy safe to log: credentials are masked
func (c *Config) Redacted() Config {
	out := *c
	out.Exchange.APIKey = mask(c.Exchange.APIKey)
	out.Exchange.APISecret = mask(c.Exchange.APISecret)
	out.Server.JWTSecret = mask(c.Server.JWTSecret)
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
