package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "AUDIOSTREAM_"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments it reads ".env".
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides settings from AUDIOSTREAM_* variables found by lookup.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("STORE_BACKEND", &c.Store.Backend)
	e.str("STORE_BUCKET", &c.Store.Bucket)
	e.str("STORE_REGION", &c.Store.Region)
	e.str("STORE_ENDPOINT", &c.Store.Endpoint)
	e.boolean("STORE_FORCE_PATH_STYLE", &c.Store.ForcePathStyle)
	e.boolean("STORE_SECURE", &c.Store.Secure)
	e.duration("STORE_TIMEOUT", &c.Store.Timeout)
	e.integer("STORE_MAX_RETRIES", &c.Store.MaxRetries)
	e.str("STORE_ACCESS_KEY_ID", &c.Store.AccessKeyID)
	e.str("STORE_SECRET_ACCESS_KEY", &c.Store.SecretAccessKey)
	e.str("STORE_SESSION_TOKEN", &c.Store.SessionToken)
	e.str("STORE_CREDENTIALS_SECRET", &c.Store.CredentialsSecret)
	e.duration("STORE_CREDENTIALS_REFRESH", &c.Store.CredentialsRefresh)

	e.str("SESSION_BASE_PATH", &c.Session.BasePath)
	e.str("SESSION_CONTENT_TYPE", &c.Session.ContentType)
	e.str("SESSION_EXTENSION", &c.Session.Extension)
	e.str("SESSION_STORAGE_CLASS", &c.Session.StorageClass)
	e.str("SESSION_LOCATION", &c.Session.Location)
	e.integer("SESSION_MAX_PARTS", &c.Session.MaxParts)
	e.int64("SESSION_MAX_PART_SIZE", &c.Session.MaxPartSize)
	e.integer("SESSION_QUEUE_SIZE", &c.Session.QueueSize)
	e.str("SESSION_MIRROR_DIR", &c.Session.MirrorDir)
	e.boolean("SESSION_MIRROR_KEEP_ABORTED", &c.Session.MirrorKeepAborted)

	e.integer("RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	e.duration("RETRY_BASE_DELAY", &c.Retry.BaseDelay)
	e.duration("RETRY_MAX_DELAY", &c.Retry.MaxDelay)

	e.str("SERVER_ADDRESS", &c.Server.Address)
	e.duration("SERVER_READ_TIMEOUT", &c.Server.ReadTimeout)
	e.duration("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeout)
	e.duration("SERVER_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	e.int64("SERVER_MAX_CHUNK_BYTES", &c.Server.MaxChunkBytes)
	e.str("SERVER_MODE", &c.Server.Mode)

	e.str("LOG_LEVEL", &c.Logging.Level)
	e.str("LOG_FORMAT", &c.Logging.Format)

	e.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	e.str("METRICS_PATH", &c.Metrics.Path)

	return errors.Join(e.errs...)
}

// envReader collects parse errors so that every bad variable is reported.
type envReader struct {
	lookup LookupFunc
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (e *envReader) fail(name, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, name, v, err))
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) int64(name string, dst *int64) {
	if v, ok := e.get(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}
