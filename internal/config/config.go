package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Twitter  TwitterConfig  `mapstructure:"twitter"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	Signals  SignalsConfig  `mapstructure:"signals"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TwitterConfig holds upstream polling and rate-budget configuration
type TwitterConfig struct {
	APIURL            string        `mapstructure:"api_url"`
	BearerToken       string        `mapstructure:"bearer_token"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	RateCapacity      int           `mapstructure:"rate_capacity"`
	PerFetchCost      int           `mapstructure:"per_fetch_cost"`
	Workers           int           `mapstructure:"workers"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling    time.Duration `mapstructure:"backoff_ceiling"`
	MaxResultsPerPoll int           `mapstructure:"max_results_per_poll"`
}

// AnalysisConfig holds the analysis oracle configuration
type AnalysisConfig struct {
	APIURL         string        `mapstructure:"api_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// SignalsConfig holds the validation pipeline thresholds
type SignalsConfig struct {
	MinConfidence           float64       `mapstructure:"min_confidence"`
	MinRiskRewardRatio      float64       `mapstructure:"min_risk_reward_ratio"`
	PriceDeviationThreshold float64       `mapstructure:"price_deviation_threshold"`
	MaxDailySignals         int           `mapstructure:"max_daily_signals"`
	CapScope                string        `mapstructure:"cap_scope"`
	Expiry                  time.Duration `mapstructure:"expiry"`
}

// TelegramConfig holds Telegram delivery configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         int64         `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	MessagesPerSec float64       `mapstructure:"messages_per_sec"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	setDefaults(v)

	v.SetEnvPrefix("SIGNALSCOUT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Twitter defaults
	v.SetDefault("twitter.api_url", "https://api.twitter.com/2")
	v.SetDefault("twitter.tick_interval", "60s")
	v.SetDefault("twitter.rate_window", "15m")
	v.SetDefault("twitter.rate_capacity", 450)
	v.SetDefault("twitter.per_fetch_cost", 1)
	v.SetDefault("twitter.workers", 4)
	v.SetDefault("twitter.fetch_timeout", "15s")
	v.SetDefault("twitter.max_retries", 3)
	v.SetDefault("twitter.retry_delay_base", "1s")
	v.SetDefault("twitter.backoff_base", "60s")
	v.SetDefault("twitter.backoff_ceiling", "15m")
	v.SetDefault("twitter.max_results_per_poll", 20)

	// Analysis defaults
	v.SetDefault("analysis.api_url", "https://api.openai.com/v1")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.timeout", "30s")
	v.SetDefault("analysis.max_retries", 3)
	v.SetDefault("analysis.retry_delay_base", "1s")

	// Signals defaults
	v.SetDefault("signals.min_confidence", 0.75)
	v.SetDefault("signals.min_risk_reward_ratio", 2.0)
	v.SetDefault("signals.price_deviation_threshold", 0.05)
	v.SetDefault("signals.max_daily_signals", 10)
	v.SetDefault("signals.cap_scope", "account")
	v.SetDefault("signals.expiry", "24h")

	// Telegram defaults
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.send_timeout", "10s")
	v.SetDefault("telegram.retry_attempts", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.messages_per_sec", 1.0)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/signalscout.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Twitter config
	if c.Twitter.APIURL == "" {
		return fmt.Errorf("twitter.api_url is required")
	}
	if c.Twitter.BearerToken == "" {
		return fmt.Errorf("twitter.bearer_token is required")
	}
	if c.Twitter.TickInterval < 1*time.Second {
		return fmt.Errorf("twitter.tick_interval must be at least 1 second")
	}
	if c.Twitter.RateWindow < 1*time.Second {
		return fmt.Errorf("twitter.rate_window must be at least 1 second")
	}
	if c.Twitter.RateCapacity < 1 {
		return fmt.Errorf("twitter.rate_capacity must be at least 1")
	}
	if c.Twitter.PerFetchCost < 1 {
		return fmt.Errorf("twitter.per_fetch_cost must be at least 1")
	}
	if c.Twitter.PerFetchCost > c.Twitter.RateCapacity {
		return fmt.Errorf("twitter.per_fetch_cost must not exceed twitter.rate_capacity")
	}
	if c.Twitter.Workers < 1 {
		return fmt.Errorf("twitter.workers must be at least 1")
	}
	if c.Twitter.FetchTimeout < 1*time.Second {
		return fmt.Errorf("twitter.fetch_timeout must be at least 1 second")
	}
	if c.Twitter.MaxRetries < 1 {
		return fmt.Errorf("twitter.max_retries must be at least 1")
	}
	if c.Twitter.RetryDelayBase <= 0 {
		return fmt.Errorf("twitter.retry_delay_base must be positive")
	}
	if c.Twitter.BackoffBase < 1*time.Second {
		return fmt.Errorf("twitter.backoff_base must be at least 1 second")
	}
	if c.Twitter.BackoffCeiling < c.Twitter.BackoffBase {
		return fmt.Errorf("twitter.backoff_ceiling must be at least twitter.backoff_base")
	}
	if c.Twitter.MaxResultsPerPoll < 5 || c.Twitter.MaxResultsPerPoll > 100 {
		return fmt.Errorf("twitter.max_results_per_poll must be between 5 and 100")
	}

	// Validate Analysis config
	if c.Analysis.APIURL == "" {
		return fmt.Errorf("analysis.api_url is required")
	}
	if c.Analysis.APIKey == "" {
		return fmt.Errorf("analysis.api_key is required")
	}
	if c.Analysis.Model == "" {
		return fmt.Errorf("analysis.model is required")
	}
	if c.Analysis.Timeout < 1*time.Second {
		return fmt.Errorf("analysis.timeout must be at least 1 second")
	}
	if c.Analysis.MaxRetries < 1 {
		return fmt.Errorf("analysis.max_retries must be at least 1")
	}
	if c.Analysis.RetryDelayBase <= 0 {
		return fmt.Errorf("analysis.retry_delay_base must be positive")
	}

	// Validate Signals config
	if c.Signals.MinConfidence < 0.0 || c.Signals.MinConfidence > 1.0 {
		return fmt.Errorf("signals.min_confidence must be between 0.0 and 1.0")
	}
	if c.Signals.MinRiskRewardRatio <= 0 {
		return fmt.Errorf("signals.min_risk_reward_ratio must be positive")
	}
	if c.Signals.PriceDeviationThreshold <= 0 {
		return fmt.Errorf("signals.price_deviation_threshold must be positive")
	}
	if c.Signals.MaxDailySignals < 1 {
		return fmt.Errorf("signals.max_daily_signals must be at least 1")
	}
	if c.Signals.CapScope != "account" && c.Signals.CapScope != "global" {
		return fmt.Errorf("signals.cap_scope must be one of: account, global")
	}
	if c.Signals.Expiry < 1*time.Hour {
		return fmt.Errorf("signals.expiry must be at least 1 hour")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Telegram.SendTimeout < 1*time.Second {
		return fmt.Errorf("telegram.send_timeout must be at least 1 second")
	}
	if c.Telegram.RetryAttempts < 1 {
		return fmt.Errorf("telegram.retry_attempts must be at least 1")
	}
	if c.Telegram.RetryDelayBase <= 0 {
		return fmt.Errorf("telegram.retry_delay_base must be positive")
	}
	if c.Telegram.MessagesPerSec <= 0 {
		return fmt.Errorf("telegram.messages_per_sec must be positive")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
