package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxtrail/audiostream/errors"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Store.Bucket = "recordings"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, BackendS3, cfg.Store.Backend)
	assert.Equal(t, "audio/flac", cfg.Session.ContentType)
	assert.Equal(t, 10000, cfg.Session.MaxParts)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	// The bucket has no default.
	assert.Error(t, cfg.Validate())
	assert.NoError(t, validConfig().Validate())
}

func TestLoad_YAML(t *testing.T) {
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "")

	path := writeFile(t, "audiostream.yaml", `
store:
  backend: minio
  bucket: meetings
  endpoint: localhost:9000
  secure: false
  access_key_id: minio
  secret_access_key: minio123
session:
  base_path: transcripts
  content_type: audio/mpeg
  location: Europe/Paris
  metadata:
    service: jigasi
retry:
  max_attempts: 5
  base_delay: 100ms
  max_delay: 2s
server:
  address: 127.0.0.1:9090
logging:
  level: debug
  format: text
metrics:
  enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendMinIO, cfg.Store.Backend)
	assert.Equal(t, "meetings", cfg.Store.Bucket)
	assert.Equal(t, "localhost:9000", cfg.Store.Endpoint)
	assert.False(t, cfg.Store.Secure)
	assert.Equal(t, "transcripts", cfg.Session.BasePath)
	assert.Equal(t, "audio/mpeg", cfg.Session.ContentType)
	assert.Equal(t, "jigasi", cfg.Session.Metadata["service"])
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)

	// Unset keys keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 64, cfg.Session.QueueSize)
	assert.Equal(t, "Europe/Paris", cfg.Session.TimeLocation().String())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "missing file",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
		},
		{
			name: "malformed yaml",
			path: func(t *testing.T) string { return writeFile(t, "bad.yaml", "store: [unterminated") },
		},
		{
			name: "invalid values",
			path: func(t *testing.T) string {
				return writeFile(t, "invalid.yaml", "store:\n  bucket: recordings\nretry:\n  max_attempts: 0\n")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path(t))

			require.Error(t, err)
			assert.True(t, errors.IsInvalidConfig(err))
		})
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "audiostream.yaml", "store:\n  bucket: from-file\n")
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "from-env")
	t.Setenv("AUDIOSTREAM_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Store.Bucket)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyEnv(env(map[string]string{
		"AUDIOSTREAM_STORE_BACKEND":            "memory",
		"AUDIOSTREAM_STORE_BUCKET":             "recordings",
		"AUDIOSTREAM_STORE_FORCE_PATH_STYLE":   "true",
		"AUDIOSTREAM_STORE_TIMEOUT":            "10s",
		"AUDIOSTREAM_STORE_CREDENTIALS_SECRET": "audiostream/s3",
		"AUDIOSTREAM_SESSION_BASE_PATH":        "transcripts",
		"AUDIOSTREAM_SESSION_MAX_PART_SIZE":    "1048576",
		"AUDIOSTREAM_SERVER_ADDRESS":           ":9000",
		"AUDIOSTREAM_LOG_LEVEL":                "warn",
		"AUDIOSTREAM_METRICS_ENABLED":          "false",
		"AUDIOSTREAM_SESSION_EXTENSION":        "",
		"AUDIOSTREAM_SESSION_MIRROR_DIR":       "/var/lib/audiostream",
		"UNRELATED":                            "x",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "recordings", cfg.Store.Bucket)
	assert.True(t, cfg.Store.ForcePathStyle)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, "audiostream/s3", cfg.Store.CredentialsSecret)
	assert.Equal(t, "transcripts", cfg.Session.BasePath)
	assert.Equal(t, int64(1<<20), cfg.Session.MaxPartSize)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Empty(t, cfg.Session.Extension)
	assert.Equal(t, "/var/lib/audiostream", cfg.Session.MirrorDir)
	assert.False(t, cfg.Session.MirrorKeepAborted)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_ReportsEveryBadValue(t *testing.T) {
	cfg := Default()

	err := cfg.ApplyEnv(env(map[string]string{
		"AUDIOSTREAM_STORE_TIMEOUT":      "soon",
		"AUDIOSTREAM_RETRY_MAX_ATTEMPTS": "three",
		"AUDIOSTREAM_METRICS_ENABLED":    "maybe",
	}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUDIOSTREAM_STORE_TIMEOUT")
	assert.Contains(t, err.Error(), "AUDIOSTREAM_RETRY_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "AUDIOSTREAM_METRICS_ENABLED")
	assert.Equal(t, 30*time.Second, cfg.Store.Timeout, "bad values leave the setting unchanged")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory backend", mutate: func(c *Config) { c.Store.Backend = BackendMemory }},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "gcs" },
			wantErr: "unknown backend",
		},
		{
			name:    "minio without endpoint",
			mutate:  func(c *Config) { c.Store.Backend = BackendMinIO },
			wantErr: "endpoint is required",
		},
		{
			name:    "invalid bucket",
			mutate:  func(c *Config) { c.Store.Bucket = "Bad_Bucket" },
			wantErr: "store config",
		},
		{
			name:    "half static keys",
			mutate:  func(c *Config) { c.Store.AccessKeyID = "AKID" },
			wantErr: "must be set together",
		},
		{
			name: "secret and static keys",
			mutate: func(c *Config) {
				c.Store.AccessKeyID, c.Store.SecretAccessKey = "AKID", "SECRET"
				c.Store.CredentialsSecret = "audiostream/s3"
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad content type",
			mutate:  func(c *Config) { c.Session.ContentType = "flac" },
			wantErr: "session config",
		},
		{
			name:    "unknown location",
			mutate:  func(c *Config) { c.Session.Location = "Mars/Olympus" },
			wantErr: "unknown location",
		},
		{
			name:    "too many parts",
			mutate:  func(c *Config) { c.Session.MaxParts = 10001 },
			wantErr: "max_parts",
		},
		{
			name:    "part size too large",
			mutate:  func(c *Config) { c.Session.MaxPartSize = 6 << 30 },
			wantErr: "max_part_size",
		},
		{
			name:    "extension with slash",
			mutate:  func(c *Config) { c.Session.Extension = "a/b" },
			wantErr: "extension",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Retry.MaxAttempts = 0 },
			wantErr: "max_attempts",
		},
		{
			name:    "max delay below base",
			mutate:  func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
			wantErr: "max_delay",
		},
		{
			name:    "empty address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: "address",
		},
		{
			name:    "unknown gin mode",
			mutate:  func(c *Config) { c.Server.Mode = "prod" },
			wantErr: "mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "unknown level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "format",
		},
		{
			name:    "relative metrics path",
			mutate:  func(c *Config) { c.Metrics.Path = "metrics" },
			wantErr: "path must start",
		},
		{
			name: "relative path with metrics disabled",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Path = "metrics"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "AUDIOSTREAM_TEST_DOTENV=loaded\n")
	t.Setenv("AUDIOSTREAM_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("AUDIOSTREAM_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))

	assert.Equal(t, "loaded", os.Getenv("AUDIOSTREAM_TEST_DOTENV"))
}
