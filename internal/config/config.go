package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration. Values come from an
// optional YAML file, DEVWATCH_-prefixed environment variables, and a
// .env file; credentials come from the environment only.
type Config struct {
	EventLog EventLogConfig
	LLM      LLMConfig
	Telegram TelegramConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// EventLogConfig selects what the scanner reads and matches.
type EventLogConfig struct {
	LogName         string
	MaxEventsToRead int
	TargetSources   []string
	TargetEventIDs  []uint16
}

// LLMConfig drives the escalation decision and the model call.
type LLMConfig struct {
	Enabled               bool
	CheckThreshold        int
	APIURL                string
	Model                 string
	APIKey                string // from GROK_API_KEY, never the config file
	RequestTimeoutSeconds int
	Temperature           float64
	MaxDigestLines        int
	AbnormalKeywords      []string
}

// RequestTimeout returns the model call deadline.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TelegramConfig configures optional abnormal-verdict alerts.
type TelegramConfig struct {
	BotToken      string // from TELEGRAM_BOT_TOKEN
	AlertsChannel int64  // from TELEGRAM_ALERTS_CHANNEL_ID
}

// Configured reports whether alerting can be wired up.
func (c TelegramConfig) Configured() bool {
	return c.BotToken != "" && c.AlertsChannel != 0
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path          string
	RetentionDays int // 0 disables cleanup after a scan
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level   string
	Dir     string
	Console bool
}

// Load reads configuration and validates it.
// Priority: environment variables > config file > defaults.
// An explicit path must exist; with an empty path the default
// locations (./config, .) are searched and a missing file just means
// defaults plus environment.
func Load(path string) (*Config, error) {
	// godotenv sets OS env vars from .env, which viper then reads
	_ = godotenv.Load()

	viper.SetEnvPrefix("DEVWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	config := &Config{
		EventLog: EventLogConfig{
			LogName:         viper.GetString("event_log.log_name"),
			MaxEventsToRead: viper.GetInt("event_log.max_events_to_read"),
			TargetSources:   stringList("event_log.target_sources"),
		},
		LLM: LLMConfig{
			Enabled:               viper.GetBool("llm.enabled"),
			CheckThreshold:        viper.GetInt("llm.check_threshold"),
			APIURL:                viper.GetString("llm.api_url"),
			Model:                 viper.GetString("llm.model"),
			RequestTimeoutSeconds: viper.GetInt("llm.request_timeout_seconds"),
			Temperature:           viper.GetFloat64("llm.temperature"),
			MaxDigestLines:        viper.GetInt("llm.max_digest_lines"),
			AbnormalKeywords:      stringList("llm.abnormal_keywords"),
		},
		Database: DatabaseConfig{
			Path:          viper.GetString("database.path"),
			RetentionDays: viper.GetInt("database.retention_days"),
		},
		Logging: LoggingConfig{
			Level:   viper.GetString("logging.level"),
			Dir:     viper.GetString("logging.dir"),
			Console: viper.GetBool("logging.console"),
		},
	}

	ids, err := eventIDList("event_log.target_event_ids")
	if err != nil {
		return nil, err
	}
	config.EventLog.TargetEventIDs = ids

	// Credentials are supplied out-of-band, never through the file
	config.LLM.APIKey = os.Getenv("GROK_API_KEY")
	config.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if raw := os.Getenv("TELEGRAM_ALERTS_CHANNEL_ID"); raw != "" {
		channel, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALERTS_CHANNEL_ID must be an integer: %w", err)
		}
		config.Telegram.AlertsChannel = channel
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("event_log.log_name", "System")
	viper.SetDefault("event_log.max_events_to_read", 1000)
	viper.SetDefault("event_log.target_sources", []string{
		"Microsoft-Windows-DriverFrameworks-UserMode",
		"Microsoft-Windows-Kernel-PnP",
	})
	viper.SetDefault("event_log.target_event_ids", []string{})

	viper.SetDefault("llm.enabled", true)
	viper.SetDefault("llm.check_threshold", 5)
	viper.SetDefault("llm.api_url", "https://api.x.ai/v1/chat/completions")
	viper.SetDefault("llm.model", "grok-3-mini")
	viper.SetDefault("llm.request_timeout_seconds", 60)
	viper.SetDefault("llm.temperature", 0.5)
	viper.SetDefault("llm.max_digest_lines", 20)
	viper.SetDefault("llm.abnormal_keywords", []string{"abnormal", "disconnect", "failure"})

	viper.SetDefault("database.path", "./data/devwatch.db")
	viper.SetDefault("database.retention_days", 90)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.dir", "./logs")
	viper.SetDefault("logging.console", true)
}

// stringList reads a list key, accepting both native YAML lists and
// comma-separated environment strings. Entries are trimmed; empties
// are dropped.
func stringList(key string) []string {
	var out []string
	for _, value := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// eventIDList parses a list key into 16-bit event IDs.
func eventIDList(key string) ([]uint16, error) {
	var ids []uint16
	for _, raw := range stringList(key) {
		id, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("event_log.target_event_ids entry %q is not a 16-bit event ID", raw)
		}
		ids = append(ids, uint16(id))
	}
	return ids, nil
}

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateEventLog(); err != nil {
		return err
	}
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateEventLog checks the scan settings. Criteria lists may both
// be empty here; the scanner refuses such a scan per run, and the run
// still closes its session.
func (c *Config) validateEventLog() error {
	if c.EventLog.LogName == "" {
		return fmt.Errorf("event_log.log_name is required")
	}
	if c.EventLog.MaxEventsToRead < 1 || c.EventLog.MaxEventsToRead > 100000 {
		return fmt.Errorf("event_log.max_events_to_read must be between 1 and 100000")
	}
	return nil
}

// validateLLM checks analysis settings. A missing API key is not an
// error: scanning works without a credential, escalation is skipped.
func (c *Config) validateLLM() error {
	if !c.LLM.Enabled {
		return nil
	}
	if c.LLM.APIURL == "" {
		return fmt.Errorf("llm.api_url is required when llm.enabled=true")
	}
	if !strings.HasPrefix(c.LLM.APIURL, "http://") && !strings.HasPrefix(c.LLM.APIURL, "https://") {
		return fmt.Errorf("llm.api_url must start with 'http://' or 'https://'")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required when llm.enabled=true")
	}
	if c.LLM.CheckThreshold < 1 {
		return fmt.Errorf("llm.check_threshold must be at least 1")
	}
	if c.LLM.RequestTimeoutSeconds < 1 || c.LLM.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("llm.request_timeout_seconds must be between 1 and 600")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.MaxDigestLines < 1 {
		return fmt.Errorf("llm.max_digest_lines must be at least 1")
	}
	return nil
}

// validateTelegram checks the optional alerting settings. Token and
// channel must be configured together.
func (c *Config) validateTelegram() error {
	if c.Telegram.BotToken == "" {
		if c.Telegram.AlertsChannel != 0 {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ALERTS_CHANNEL_ID is set")
		}
		return nil
	}
	if !telegramTokenRegex.MatchString(c.Telegram.BotToken) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
	}
	if c.Telegram.AlertsChannel == 0 {
		return fmt.Errorf("TELEGRAM_ALERTS_CHANNEL_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.Telegram.AlertsChannel > -100 {
		return fmt.Errorf("TELEGRAM_ALERTS_CHANNEL_ID must be a supergroup/channel ID (starts with -100)")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
