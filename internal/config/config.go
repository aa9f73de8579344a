// Package config provides configuration management for the grid trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "grid-trader/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Strategy      StrategyConfig     `mapstructure:"strategy"`
	Data          DataConfig         `mapstructure:"data"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// StrategyConfig holds grid strategy parameters.
type StrategyConfig struct {
	Symbol         string  `mapstructure:"symbol"`
	Mode           string  `mapstructure:"mode"` // "live", "paper"
	Leverage       int     `mapstructure:"leverage"`
	GridSize       int     `mapstructure:"grid_size"`       // N, even positive
	AdjustInterval int     `mapstructure:"adjust_interval"` // minutes between rebuilds
	ATRWindow      int     `mapstructure:"atr_window"`
	TakeProfit     float64 `mapstructure:"take_profit"` // fraction, e.g. 0.02
	StopLoss       float64 `mapstructure:"stop_loss"`   // fraction, reserved
	Budget         float64 `mapstructure:"budget"`      // quote-currency notional
	PollInterval   int     `mapstructure:"poll_interval"` // seconds between fill polls
	FeedMode       string  `mapstructure:"feed_mode"`     // "poll", "push"
}

// DataConfig holds data directory and history backend configuration.
type DataConfig struct {
	Dir            string `mapstructure:"dir"`
	HistoryBackend string `mapstructure:"history_backend"` // "json", "sqlite"
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Level    string         `mapstructure:"level"` // debug, info, error
	Telegram TelegramConfig `mapstructure:"telegram"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Terminal TerminalConfig `mapstructure:"terminal"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Commands bool   `mapstructure:"commands"` // answer /pnl queries
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TerminalConfig holds terminal notification configuration.
type TerminalConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Credentials holds API credentials.
type Credentials struct {
	KuCoin KuCoinCredentials `mapstructure:"kucoin"`
}

// KuCoinCredentials holds KuCoin Futures API credentials.
type KuCoinCredentials struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	Sandbox    bool   `mapstructure:"sandbox"`
}

// AdjustIntervalDuration returns the rebuild interval as a duration.
func (s StrategyConfig) AdjustIntervalDuration() time.Duration {
	return time.Duration(s.AdjustInterval) * time.Minute
}

// PollIntervalDuration returns the fill poll interval as a duration.
func (s StrategyConfig) PollIntervalDuration() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/grid-trader"
	}
	return filepath.Join(home, ".config", "grid-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyDefaults(cfg *Config) {
	if cfg.Strategy.Symbol == "" {
		cfg.Strategy.Symbol = "BTCUSDT"
	}
	if cfg.Strategy.Mode == "" {
		cfg.Strategy.Mode = "paper"
	}
	if cfg.Strategy.Leverage == 0 {
		cfg.Strategy.Leverage = 10
	}
	if cfg.Strategy.GridSize == 0 {
		cfg.Strategy.GridSize = 10
	}
	if cfg.Strategy.AdjustInterval == 0 {
		cfg.Strategy.AdjustInterval = 15
	}
	if cfg.Strategy.ATRWindow == 0 {
		cfg.Strategy.ATRWindow = 14
	}
	if cfg.Strategy.TakeProfit == 0 {
		cfg.Strategy.TakeProfit = 0.02
	}
	if cfg.Strategy.StopLoss == 0 {
		cfg.Strategy.StopLoss = 0.01
	}
	if cfg.Strategy.Budget == 0 {
		cfg.Strategy.Budget = 1000.0
	}
	if cfg.Strategy.PollInterval == 0 {
		cfg.Strategy.PollInterval = 5
	}
	if cfg.Strategy.FeedMode == "" {
		cfg.Strategy.FeedMode = "poll"
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "./data"
	}
	if cfg.Data.HistoryBackend == "" {
		cfg.Data.HistoryBackend = "json"
	}
	if cfg.Notifications.Level == "" {
		cfg.Notifications.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	// KuCoin credentials
	if v := os.Getenv("KUCOIN_API_KEY"); v != "" {
		cfg.Credentials.KuCoin.APIKey = v
	}
	if v := os.Getenv("KUCOIN_API_SECRET"); v != "" {
		cfg.Credentials.KuCoin.APISecret = v
	}
	if v := os.Getenv("KUCOIN_API_PASSPHRASE"); v != "" {
		cfg.Credentials.KuCoin.Passphrase = v
	}
	if v := os.Getenv("SANDBOX"); v != "" {
		cfg.Credentials.KuCoin.Sandbox = strings.EqualFold(v, "true")
	}

	// Telegram
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Notifications.Telegram.BotToken = v
	}
	if v := os.Getenv("TG_CHAT_ID"); v != "" {
		cfg.Notifications.Telegram.ChatID = v
	}

	// Strategy overrides
	if v := os.Getenv("SYMBOL"); v != "" {
		cfg.Strategy.Symbol = v
	}
	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Strategy.Mode = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Notifications.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for invalid values. A bad grid
// configuration is fatal at startup.
func (c *Config) Validate() error {
	s := c.Strategy

	if s.GridSize <= 0 {
		return apperrors.NewValidationError("strategy.grid_size", s.GridSize, "must be positive")
	}
	if s.GridSize%2 != 0 {
		return apperrors.NewValidationError("strategy.grid_size", s.GridSize, "must be even")
	}
	if s.Budget <= 0 {
		return apperrors.NewValidationError("strategy.budget", s.Budget, "must be positive")
	}
	if s.TakeProfit <= 0 {
		return apperrors.NewValidationError("strategy.take_profit", s.TakeProfit, "must be positive")
	}
	if s.AdjustInterval <= 0 {
		return apperrors.NewValidationError("strategy.adjust_interval", s.AdjustInterval, "must be positive")
	}
	if s.ATRWindow <= 0 {
		return apperrors.NewValidationError("strategy.atr_window", s.ATRWindow, "must be positive")
	}
	if s.Leverage <= 0 {
		return apperrors.NewValidationError("strategy.leverage", s.Leverage, "must be positive")
	}
	if s.Mode != "live" && s.Mode != "paper" {
		return apperrors.NewValidationError("strategy.mode", s.Mode, "must be live or paper")
	}
	if s.FeedMode != "poll" && s.FeedMode != "push" {
		return apperrors.NewValidationError("strategy.feed_mode", s.FeedMode, "must be poll or push")
	}

	switch c.Data.HistoryBackend {
	case "json", "sqlite":
	default:
		return apperrors.NewValidationError("data.history_backend", c.Data.HistoryBackend, "must be json or sqlite")
	}

	if s.Mode == "live" {
		k := c.Credentials.KuCoin
		if k.APIKey == "" || k.APISecret == "" || k.Passphrase == "" {
			return apperrors.Wrap(apperrors.ErrConfigInvalid, "live mode requires KuCoin credentials")
		}
	}

	return nil
}
