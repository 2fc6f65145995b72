// Package config loads the application configuration from an optional YAML
// file, RECONCILER_* environment variables and bound command flags, and turns
// it into the configurations of the individual components.
package config

import (
	"fmt"
	"strings"
	"time"

	"reconciliation-engine/internal/api"
	"reconciliation-engine/internal/audit"
	"reconciliation-engine/internal/extraction"
	"reconciliation-engine/internal/locking"
	"reconciliation-engine/internal/matcher"
	"reconciliation-engine/internal/reconciler"
	"reconciliation-engine/internal/store"
	"reconciliation-engine/pkg/errors"
	"reconciliation-engine/pkg/logger"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "RECONCILER"

// AppConfig is the root of the configuration tree
type AppConfig struct {
	Server     ServerConfig      `mapstructure:"server"`
	Database   store.Config      `mapstructure:"database"`
	Redis      RedisConfig       `mapstructure:"redis"`
	Kafka      audit.KafkaConfig `mapstructure:"kafka"`
	Locking    locking.Config    `mapstructure:"locking"`
	Matching   MatchingSettings  `mapstructure:"matching"`
	Extraction extraction.Config `mapstructure:"extraction"`
	Classifier ClassifierConfig  `mapstructure:"classifier"`
	Log        logger.Config     `mapstructure:"log"`
	Reconciler reconciler.Config `mapstructure:"reconciler"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	AllowOrigin     string        `mapstructure:"allow_origin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig enables the distributed statement lock
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MatchingSettings selects a scoring profile and overrides single values of it
type MatchingSettings struct {
	// Profile is default, strict or relaxed
	Profile string `mapstructure:"profile"`

	DateWindowDays   *int     `mapstructure:"date_window_days"`
	AmountDecayRatio *float64 `mapstructure:"amount_decay_ratio"`
	HighThreshold    *float64 `mapstructure:"high_threshold"`
	LowThreshold     *float64 `mapstructure:"low_threshold"`
	MaxCandidates    *int     `mapstructure:"max_candidates"`
	Workers          *int     `mapstructure:"workers"`
	Weights          struct {
		Amount *float64 `mapstructure:"amount"`
		Date   *float64 `mapstructure:"date"`
		Text   *float64 `mapstructure:"text"`
	} `mapstructure:"weights"`
}

// ClassifierConfig points at a rules file replacing the embedded rules
type ClassifierConfig struct {
	RulesFile string `mapstructure:"rules_file"`
}

// Default returns the configuration used when nothing is set
func Default() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:            8080,
			Mode:            "release",
			MaxUploadBytes:  api.DefaultConfig().MaxUploadBytes,
			AllowOrigin:     "*",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: store.Config{
			Driver:       store.DriverSQLite,
			DSN:          "reconciler.db",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Kafka: audit.KafkaConfig{
			Brokers:    []string{"localhost:9092"},
			AuditTopic: "reconciliation.audit",
		},
		Locking:    locking.DefaultConfig(),
		Matching:   MatchingSettings{Profile: "default"},
		Extraction: extraction.DefaultConfig(),
		Log: logger.Config{
			Level:  logger.InfoLevel,
			Format: logger.TextFormat,
			Output: logger.StderrOutput,
		},
		Reconciler: *reconciler.DefaultConfig(),
	}
}

// keys lists every setting that can come from the environment
var keys = []string{
	"server.port", "server.mode", "server.max_upload_bytes", "server.allow_origin", "server.shutdown_timeout",
	"database.driver", "database.dsn", "database.max_open_conns", "database.max_idle_conns", "database.log_queries",
	"redis.enabled", "redis.addr", "redis.password", "redis.db",
	"kafka.enabled", "kafka.brokers", "kafka.audit_topic",
	"locking.wait_timeout", "locking.retry_interval", "locking.ttl",
	"matching.profile", "matching.date_window_days", "matching.amount_decay_ratio",
	"matching.high_threshold", "matching.low_threshold", "matching.max_candidates", "matching.workers",
	"matching.weights.amount", "matching.weights.date", "matching.weights.text",
	"extraction.base_url", "extraction.timeout", "extraction.retry_max",
	"extraction.retry_wait_min", "extraction.retry_wait_max",
	"classifier.rules_file",
	"log.level", "log.format", "log.output", "log.file",
	"reconciler.auto_commit", "reconciler.progress_interval",
}

// BindEnv maps each setting onto RECONCILER_<SECTION>_<KEY>
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// ReadFile reads a YAML config file into v
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "config", path, err).
			WithSuggestion("check that the file exists and is valid YAML")
	}
	return nil
}

// Load overlays the settings held by v onto Default and validates the result
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "config", "", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port", c.Server.Port, fmt.Errorf("port must be between 1 and 65535"))
	}
	apiConfig := c.APIConfig()
	if err := apiConfig.Validate(); err != nil {
		return invalid("server", c.Server.Mode, err)
	}
	if c.Server.ShutdownTimeout < 0 {
		return invalid("server.shutdown_timeout", c.Server.ShutdownTimeout, fmt.Errorf("cannot be negative"))
	}

	switch c.Database.Driver {
	case store.DriverMemory, store.DriverSQLite:
	case store.DriverMySQL:
		if c.Database.DSN == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "database.dsn", "", nil)
		}
	default:
		return invalid("database.driver", c.Database.Driver, fmt.Errorf("use memory, sqlite or mysql"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "redis.addr", "", nil)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.ConfigurationError(errors.CodeMissingConfig, "kafka.brokers", "", nil)
		}
		if c.Kafka.AuditTopic == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, "kafka.audit_topic", "", nil)
		}
	}

	if err := c.Locking.Validate(); err != nil {
		return invalid("locking", c.Locking.WaitTimeout, err)
	}
	if _, err := c.MatchingConfig(); err != nil {
		return err
	}
	if err := c.Extraction.Validate(); err != nil {
		return invalid("extraction", c.Extraction.BaseURL, err)
	}
	if err := c.Log.Validate(); err != nil {
		return invalid("log", c.Log.Level, err)
	}
	if err := c.Reconciler.Validate(); err != nil {
		return invalid("reconciler", c.Reconciler.ProgressInterval, err)
	}
	return nil
}

func invalid(setting string, value interface{}, err error) error {
	return errors.ConfigurationError(errors.CodeInvalidConfig, setting, value, err)
}

// MatchingProfile returns the scoring configuration registered under name
func MatchingProfile(name string) (*matcher.MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return matcher.DefaultMatchingConfig(), nil
	case "strict":
		return matcher.StrictMatchingConfig(), nil
	case "relaxed":
		return matcher.RelaxedMatchingConfig(), nil
	default:
		return nil, invalid("matching.profile", name, fmt.Errorf("use default, strict or relaxed"))
	}
}

// MatchingConfig resolves the profile, applies the overrides and validates
func (c *AppConfig) MatchingConfig() (*matcher.MatchingConfig, error) {
	mc, err := MatchingProfile(c.Matching.Profile)
	if err != nil {
		return nil, err
	}

	m := c.Matching
	if m.DateWindowDays != nil {
		mc.DateWindowDays = *m.DateWindowDays
	}
	if m.AmountDecayRatio != nil {
		mc.AmountDecayRatio = *m.AmountDecayRatio
	}
	if m.HighThreshold != nil {
		mc.HighThreshold = *m.HighThreshold
	}
	if m.LowThreshold != nil {
		mc.LowThreshold = *m.LowThreshold
	}
	if m.MaxCandidates != nil {
		mc.MaxCandidates = *m.MaxCandidates
	}
	if m.Workers != nil {
		mc.Workers = *m.Workers
	}
	if m.Weights.Amount != nil {
		mc.Weights.AmountWeight = *m.Weights.Amount
	}
	if m.Weights.Date != nil {
		mc.Weights.DateWeight = *m.Weights.Date
	}
	if m.Weights.Text != nil {
		mc.Weights.TextWeight = *m.Weights.Text
	}

	if err := mc.Validate(); err != nil {
		return nil, invalid("matching", c.Matching.Profile, err)
	}
	return mc, nil
}

// APIConfig returns the router configuration
func (c *AppConfig) APIConfig() api.Config {
	return api.Config{
		Mode:           c.Server.Mode,
		MaxUploadBytes: c.Server.MaxUploadBytes,
		AllowOrigin:    c.Server.AllowOrigin,
	}
}

// Addr is the listen address of the HTTP server
func (c *AppConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
