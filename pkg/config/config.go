package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Database    DatabaseConfig `mapstructure:"database"`
	Voting      VotingConfig   `mapstructure:"voting"`
	Fraud       FraudConfig    `mapstructure:"fraud"`
	Scheduler   SchedConfig    `mapstructure:"scheduler"`
	Security    SecurityConfig `mapstructure:"security"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

// VotingConfig holds voting flow related configuration
type VotingConfig struct {
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	RecentVoteWindow  time.Duration `mapstructure:"recent_vote_window"`
	RecentVoteLimit   int           `mapstructure:"recent_vote_limit"`
	BlockOnFraud      bool          `mapstructure:"block_on_fraud"`
	TallyDebounce     time.Duration `mapstructure:"tally_debounce"`
	TallyPollInterval time.Duration `mapstructure:"tally_poll_interval"`
}

// FraudConfig holds fraud detection thresholds
type FraudConfig struct {
	MaxVotesPerIP    int           `mapstructure:"max_votes_per_ip"`
	MaxVotesPerAgent int           `mapstructure:"max_votes_per_agent"`
	MinVoteGap       time.Duration `mapstructure:"min_vote_gap"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	AttemptWindow    time.Duration `mapstructure:"attempt_window"`
}

// SchedConfig holds election lifecycle scheduler configuration
type SchedConfig struct {
	SweepSchedule string        `mapstructure:"sweep_schedule"`
	SweepTimeout  time.Duration `mapstructure:"sweep_timeout"`
	PreviewHours  int           `mapstructure:"preview_hours"`
}

// SecurityConfig holds hashing and token settings
type SecurityConfig struct {
	HashSecret  string        `mapstructure:"hash_secret"`
	TokenSecret string        `mapstructure:"token_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	// Read the config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	// Override with environment variables
	v.SetEnvPrefix("VOTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Database defaults
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.ssl_mode", "disable")

	// Voting defaults
	v.SetDefault("voting.session_timeout", "30m")
	v.SetDefault("voting.recent_vote_window", "10m")
	v.SetDefault("voting.recent_vote_limit", 500)
	v.SetDefault("voting.block_on_fraud", true)
	v.SetDefault("voting.tally_debounce", "2s")
	v.SetDefault("voting.tally_poll_interval", "30s")

	// Fraud defaults
	v.SetDefault("fraud.max_votes_per_ip", 5)
	v.SetDefault("fraud.max_votes_per_agent", 10)
	v.SetDefault("fraud.min_vote_gap", "30s")
	v.SetDefault("fraud.max_attempts", 3)
	v.SetDefault("fraud.attempt_window", "10m")

	// Scheduler defaults (sweep every 60 seconds)
	v.SetDefault("scheduler.sweep_schedule", "0 * * * * *")
	v.SetDefault("scheduler.sweep_timeout", "45s")
	v.SetDefault("scheduler.preview_hours", 24)

	// Security defaults
	v.SetDefault("security.token_expiry", "1h")
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("unknown environment: %s", c.Environment)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("database.max_conns must be >= database.min_conns")
	}
	if c.Voting.SessionTimeout <= 0 {
		return fmt.Errorf("voting.session_timeout must be positive")
	}
	if c.Voting.RecentVoteWindow <= 0 {
		return fmt.Errorf("voting.recent_vote_window must be positive")
	}
	if c.Fraud.MaxVotesPerIP <= 0 || c.Fraud.MaxVotesPerAgent <= 0 {
		return fmt.Errorf("fraud thresholds must be positive")
	}
	if c.Fraud.MinVoteGap <= 0 {
		return fmt.Errorf("fraud.min_vote_gap must be positive")
	}
	if c.Fraud.MaxAttempts <= 0 || c.Fraud.AttemptWindow <= 0 {
		return fmt.Errorf("fraud rate limit settings must be positive")
	}
	if c.Scheduler.SweepSchedule == "" {
		return fmt.Errorf("scheduler.sweep_schedule is required")
	}
	if c.Security.HashSecret == "" {
		return fmt.Errorf("security.hash_secret is required")
	}
	if c.Security.TokenSecret == "" {
		return fmt.Errorf("security.token_secret is required")
	}
	return nil
}
