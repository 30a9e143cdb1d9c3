// Package config loads the audiostream service configuration.
//
// Settings are read, in increasing order of precedence, from built-in
// defaults, a YAML file, a .env file and AUDIOSTREAM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // zone database for session.location

	"gopkg.in/yaml.v3"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/validation"
	"github.com/voxtrail/audiostream/store"
)

// Store backends.
const (
	BackendS3     = "s3"
	BackendMinIO  = "minio"
	BackendMemory = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Retry   RetryConfig   `yaml:"retry"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// StoreConfig selects and configures the object store.
type StoreConfig struct {
	Backend        string        `yaml:"backend"`
	Bucket         string        `yaml:"bucket"`
	Region         string        `yaml:"region"`
	Endpoint       string        `yaml:"endpoint"`
	ForcePathStyle bool          `yaml:"force_path_style"`
	Secure         bool          `yaml:"secure"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`

	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`

	// CredentialsSecret names a Secrets Manager secret holding the keys.
	CredentialsSecret  string        `yaml:"credentials_secret"`
	CredentialsRefresh time.Duration `yaml:"credentials_refresh"`
}

// SessionConfig controls how recordings are named and uploaded.
type SessionConfig struct {
	BasePath     string            `yaml:"base_path"`
	ContentType  string            `yaml:"content_type"`
	Extension    string            `yaml:"extension"`
	StorageClass string            `yaml:"storage_class"`
	Location     string            `yaml:"location"`
	MaxParts     int               `yaml:"max_parts"`
	MaxPartSize  int64             `yaml:"max_part_size"`
	QueueSize    int               `yaml:"queue_size"`
	Metadata     map[string]string `yaml:"metadata"`

	// MirrorDir, when set, keeps a local copy of every recording under its
	// object key.
	MirrorDir         string `yaml:"mirror_dir"`
	MirrorKeepAborted bool   `yaml:"mirror_keep_aborted"`
}

// RetryConfig is the part retry policy.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ServerConfig configures the HTTP ingest server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxChunkBytes   int64         `yaml:"max_chunk_bytes"`
	Mode            string        `yaml:"mode"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:            BackendS3,
			Secure:             true,
			Timeout:            30 * time.Second,
			MaxRetries:         3,
			CredentialsRefresh: time.Hour,
		},
		Session: SessionConfig{
			ContentType: "audio/flac",
			Location:    "UTC",
			MaxParts:    store.MaxParts,
			MaxPartSize: 64 << 20,
			QueueSize:   64,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxChunkBytes:   64 << 20,
			Mode:            "release",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewError("loadConfig", err).
				WithCode(errors.CodeInvalidConfig).
				WithMessage(fmt.Sprintf("failed to read config file %s", path))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError("loadConfig", err).
				WithCode(errors.CodeInvalidConfig).
				WithMessage(fmt.Sprintf("failed to parse config file %s", path))
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, errors.NewError("loadConfig", err).WithCode(errors.CodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewError("loadConfig", err).
			WithCode(errors.CodeInvalidConfig).
			WithMessage("config validation failed")
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

// Validate validates the store section.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case BackendS3, BackendMemory:
	case BackendMinIO:
		if s.Endpoint == "" {
			return fmt.Errorf("endpoint is required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown backend %q, want %s, %s or %s", s.Backend, BackendS3, BackendMinIO, BackendMemory)
	}

	if err := validation.ValidateBucketName(s.Bucket); err != nil {
		return err
	}
	if (s.AccessKeyID == "") != (s.SecretAccessKey == "") {
		return fmt.Errorf("access_key_id and secret_access_key must be set together")
	}
	if s.CredentialsSecret != "" && s.AccessKeyID != "" {
		return fmt.Errorf("credentials_secret and static keys are mutually exclusive")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %s", s.Timeout)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", s.MaxRetries)
	}
	if s.CredentialsRefresh < 0 {
		return fmt.Errorf("credentials_refresh cannot be negative, got %s", s.CredentialsRefresh)
	}
	return nil
}

// Validate validates the session section.
func (s *SessionConfig) Validate() error {
	if err := validation.ValidateContentType(s.ContentType); err != nil {
		return err
	}
	if _, err := time.LoadLocation(s.Location); err != nil {
		return fmt.Errorf("unknown location %q", s.Location)
	}
	if s.MaxParts < 1 || s.MaxParts > store.MaxParts {
		return fmt.Errorf("max_parts must be between 1 and %d, got %d", store.MaxParts, s.MaxParts)
	}
	if s.MaxPartSize < 1 || s.MaxPartSize > store.MaxPartSize {
		return fmt.Errorf("max_part_size must be between 1 and %d, got %d", int64(store.MaxPartSize), s.MaxPartSize)
	}
	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}
	if strings.Contains(s.Extension, "/") {
		return fmt.Errorf("extension %q cannot contain '/'", s.Extension)
	}
	return validation.ValidateMetadata(s.Metadata)
}

// TimeLocation returns the time zone of key timestamps.
func (s *SessionConfig) TimeLocation() *time.Location {
	loc, err := time.LoadLocation(s.Location)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate validates the retry section.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.BaseDelay < 0 {
		return fmt.Errorf("base_delay cannot be negative, got %s", r.BaseDelay)
	}
	if r.MaxDelay > 0 && r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("max_delay (%s) must not be less than base_delay (%s)", r.MaxDelay, r.BaseDelay)
	}
	return nil
}

// Validate validates the server section.
func (s *ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if s.MaxChunkBytes < 1 {
		return fmt.Errorf("max_chunk_bytes must be positive, got %d", s.MaxChunkBytes)
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative, got %s", s.ShutdownTimeout)
	}
	switch s.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("mode must be debug, release or test, got %q", s.Mode)
	}
	return nil
}

// Validate validates the logging section.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown level %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("format must be json or text, got %q", l.Format)
	}
	return nil
}

// Validate validates the metrics section.
func (m *MetricsConfig) Validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", m.Path)
	}
	return nil
}
