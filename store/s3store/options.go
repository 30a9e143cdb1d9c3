package s3store

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Config holds the settings used to build an S3 handle.
type Config struct {
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	Timeout         time.Duration
	MaxRetries      int
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Credentials     aws.CredentialsProvider
	CustomAWSConfig *aws.Config
}

// Option configures an S3 handle.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
	}
}

// WithRegion sets the AWS region.
// If not specified, uses the region from the default credential chain.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithEndpoint sets a custom S3 endpoint URL, for LocalStack or
// S3-compatible services.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithForcePathStyle forces path-style URLs instead of virtual-hosted style.
func WithForcePathStyle(forcePathStyle bool) Option {
	return func(c *Config) {
		c.ForcePathStyle = forcePathStyle
	}
}

// WithTimeout sets the HTTP timeout for individual requests.
// Default is no timeout (0).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxRetries sets the SDK-level retry attempts for each request.
// Default is 3. Session-level part retries are configured separately.
func WithMaxRetries(maxRetries int) Option {
	return func(c *Config) {
		if maxRetries >= 0 {
			c.MaxRetries = maxRetries
		}
	}
}

// WithStaticCredentials uses fixed keys instead of the default credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// WithCredentialsProvider resolves credentials from p, for example keys
// kept in Secrets Manager. Retrieved credentials are cached and shared by
// every handle built with this option until they expire.
func WithCredentialsProvider(p aws.CredentialsProvider) Option {
	var cached aws.CredentialsProvider
	if p != nil {
		cached = aws.NewCredentialsCache(p)
	}
	return func(c *Config) {
		c.Credentials = cached
	}
}

// WithAWSConfig provides a fully built AWS configuration, bypassing the
// default configuration loading.
func WithAWSConfig(config *aws.Config) Option {
	return func(c *Config) {
		c.CustomAWSConfig = config
	}
}
