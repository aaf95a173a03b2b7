// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via KIWOOM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun  bool          `mapstructure:"dry_run"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Quote   QuoteConfig   `mapstructure:"quote"`
	Store   StoreConfig   `mapstructure:"store"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BrokerConfig holds the Kiwoom REST API client settings. Base URLs are
// only needed when pointing at a non-default host (tests, proxies); the
// app key and secret live in the credentials document managed at runtime,
// not here.
type BrokerConfig struct {
	MockBaseURL      string        `mapstructure:"mock_base_url"`
	LiveBaseURL      string        `mapstructure:"live_base_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	QuoteMinInterval time.Duration `mapstructure:"quote_min_interval"`
}

// QuoteConfig tunes the quote monitoring loop.
//
//   - PollInterval: gap between poll cycles.
//   - PollTimeout: per-cycle budget for the batch quote fetch.
//   - ErrorThreshold: consecutive failed cycles before DEGRADED.
//   - RecoveryThreshold: consecutive good cycles before RUNNING again.
//   - ReferenceCaptureTime: HH:MM wall time (KST) at which the per-symbol
//     reference price is captured.
type QuoteConfig struct {
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	ErrorThreshold       int           `mapstructure:"error_threshold"`
	RecoveryThreshold    int           `mapstructure:"recovery_threshold"`
	ReferenceCaptureTime string        `mapstructure:"reference_capture_time"`
}

// StoreConfig sets where runtime documents and the event database live.
type StoreConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	EventDBPath  string `mapstructure:"event_db_path"`
	ConfigDir    string `mapstructure:"config_dir"`
	MonitorState string `mapstructure:"monitor_state"`
}

// RuntimeConfig covers engine lifecycle jobs.
type RuntimeConfig struct {
	// MidnightJobs enables the cron jobs that rotate the log file and
	// roll the strategy contexts over at 00:00 KST.
	MidnightJobs bool   `mapstructure:"midnight_jobs"`
	LogDir       string `mapstructure:"log_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive or deploy-specific fields use env vars: KIWOOM_MOCK_BASE_URL,
// KIWOOM_LIVE_BASE_URL, KIWOOM_DATA_DIR, KIWOOM_DRY_RUN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KIWOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override deploy-specific fields from env
	if url := os.Getenv("KIWOOM_MOCK_BASE_URL"); url != "" {
		cfg.Broker.MockBaseURL = url
	}
	if url := os.Getenv("KIWOOM_LIVE_BASE_URL"); url != "" {
		cfg.Broker.LiveBaseURL = url
	}
	if dir := os.Getenv("KIWOOM_DATA_DIR"); dir != "" {
		cfg.Store.DataDir = dir
	}
	if os.Getenv("KIWOOM_DRY_RUN") == "true" || os.Getenv("KIWOOM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.DataDir == "" {
		c.Store.DataDir = "runtime"
	}
	if c.Store.EventDBPath == "" {
		c.Store.EventDBPath = c.Store.DataDir + "/events.db"
	}
	if c.Store.ConfigDir == "" {
		c.Store.ConfigDir = c.Store.DataDir + "/config"
	}
	if c.Store.MonitorState == "" {
		c.Store.MonitorState = c.Store.DataDir + "/state/uag_monitoring_state.json"
	}
	if c.Runtime.LogDir == "" {
		c.Runtime.LogDir = c.Store.DataDir + "/logs"
	}
	if c.Quote.ReferenceCaptureTime == "" {
		c.Quote.ReferenceCaptureTime = "09:03"
	}
}

// ReferenceCapture parses the HH:MM capture time.
func (c *Config) ReferenceCapture() (hour, minute int, err error) {
	if _, err = fmt.Sscanf(c.Quote.ReferenceCaptureTime, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("parse quote.reference_capture_time %q: %w", c.Quote.ReferenceCaptureTime, err)
	}
	return hour, minute, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Quote.PollInterval < 0 {
		return fmt.Errorf("quote.poll_interval must be >= 0")
	}
	if c.Quote.PollTimeout < 0 {
		return fmt.Errorf("quote.poll_timeout must be >= 0")
	}
	if c.Quote.ErrorThreshold < 0 || c.Quote.RecoveryThreshold < 0 {
		return fmt.Errorf("quote thresholds must be >= 0")
	}
	hour, minute, err := c.ReferenceCapture()
	if err != nil {
		return err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("quote.reference_capture_time %q out of range", c.Quote.ReferenceCaptureTime)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}
	return nil
}
