package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	CRM          CRMConfig          `yaml:"crm"`
	Sync         SyncConfig         `yaml:"sync"`
	MediaArchive MediaArchiveConfig `yaml:"media_archive"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CRMConfig contains external system connection settings.
// AppKey and AppSecret are tenant credentials and never appear in YAML.
type CRMConfig struct {
	BaseURL   string `yaml:"base_url"`
	CorpID    string `yaml:"corp_id"`
	UserID    string `yaml:"user_id"`
	AppKey    string `yaml:"-"` // env-only, never in YAML
	AppSecret string `yaml:"-"` // env-only, never in YAML
}

// SyncConfig contains sync orchestration settings.
type SyncConfig struct {
	PageSize   int      `yaml:"page_size"`
	Interval   Duration `yaml:"interval"`
	RunTimeout Duration `yaml:"run_timeout"`
	MaxRetries int      `yaml:"max_retries"`
}

// MediaArchiveConfig contains optional S3-compatible archive settings for
// uploaded media binaries. An empty bucket disables archiving.
type MediaArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    *bool  `yaml:"use_ssl"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("TRESTLE_CONFIG_PATH", "config/trestle.yaml")

	// Missing file is not an error; defaults apply.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/trestle.db",
		},
		Sync: SyncConfig{
			PageSize:   100,
			Interval:   Duration(15 * time.Minute),
			RunTimeout: Duration(10 * time.Minute),
			MaxRetries: 3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("TRESTLE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRESTLE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRESTLE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRESTLE_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("TRESTLE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// CRM
	if v := os.Getenv("TRESTLE_CRM_BASE_URL"); v != "" {
		cfg.CRM.BaseURL = v
	}
	if v := os.Getenv("TRESTLE_CRM_CORP_ID"); v != "" {
		cfg.CRM.CorpID = v
	}
	if v := os.Getenv("TRESTLE_CRM_USER_ID"); v != "" {
		cfg.CRM.UserID = v
	}
	if v := os.Getenv("TRESTLE_CRM_APP_KEY"); v != "" {
		cfg.CRM.AppKey = v
	}
	if v := os.Getenv("TRESTLE_CRM_APP_SECRET"); v != "" {
		cfg.CRM.AppSecret = v
	}

	// Sync
	if v := os.Getenv("TRESTLE_SYNC_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PageSize = n
		}
	}
	if v := os.Getenv("TRESTLE_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("TRESTLE_SYNC_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RunTimeout = Duration(d)
		}
	}
	if v := os.Getenv("TRESTLE_SYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.MaxRetries = n
		}
	}

	// Media archive
	if v := os.Getenv("TRESTLE_ARCHIVE_ENDPOINT"); v != "" {
		cfg.MediaArchive.Endpoint = v
	}
	if v := os.Getenv("TRESTLE_ARCHIVE_BUCKET"); v != "" {
		cfg.MediaArchive.Bucket = v
	}
	if v := os.Getenv("TRESTLE_ARCHIVE_REGION"); v != "" {
		cfg.MediaArchive.Region = v
	}
	if v := os.Getenv("TRESTLE_ARCHIVE_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.MediaArchive.UseSSL = &useSSL
	}
	if v := os.Getenv("TRESTLE_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.MediaArchive.AccessKey = v
	}
	if v := os.Getenv("TRESTLE_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.MediaArchive.SecretKey = v
	}

	// Auth
	if v := os.Getenv("TRESTLE_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("TRESTLE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRESTLE_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (TRESTLE_DEV_MODE=true), credential validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("TRESTLE_DEV_MODE") == "true" {
		return nil
	}

	if c.CRM.BaseURL == "" {
		return errors.New("crm.base_url is required")
	}
	if c.CRM.CorpID == "" {
		return errors.New("crm.corp_id is required")
	}
	if c.CRM.AppKey == "" {
		return errors.New("TRESTLE_CRM_APP_KEY is required")
	}
	if c.CRM.AppSecret == "" {
		return errors.New("TRESTLE_CRM_APP_SECRET is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("TRESTLE_API_KEY is required")
	}
	if c.Sync.PageSize <= 0 {
		return errors.New("sync.page_size must be positive")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
