// Package secrets reads object-store credentials from AWS Secrets Manager.
//
// Secret values are never logged; only secret names and operation metadata
// are. Values can be cached in memory for a configurable TTL so that opening
// many sessions does not hit Secrets Manager every time.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/jonboulle/clockwork"
)

// AWS error codes with a dedicated sentinel.
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

// ManagerAPI is the subset of the Secrets Manager client used here.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

var _ ManagerAPI = (*secretsmanager.Client)(nil)

// Client retrieves secret values. It is safe for concurrent use.
type Client struct {
	api    ManagerAPI
	logger *slog.Logger
	cache  *Cache
	clock  clockwork.Clock
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	cacheTTL time.Duration
	clock    clockwork.Clock
	region   string
	endpoint string
}

// WithLogger sets the logger. If logger is nil, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithCacheTTL caches retrieved values for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *clientOptions) {
		if ttl >= 0 {
			o.cacheTTL = ttl
		}
	}
}

// WithClock sets the clock used for cache expiry and credential expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(o *clientOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRegion sets the AWS region of the Secrets Manager endpoint.
func WithRegion(region string) Option {
	return func(o *clientOptions) {
		o.region = region
	}
}

// WithEndpoint sets a custom Secrets Manager endpoint, for LocalStack.
func WithEndpoint(endpoint string) Option {
	return func(o *clientOptions) {
		o.endpoint = endpoint
	}
}

// NewClient creates a client using the default AWS credential chain.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	options := applyOptions(opts)

	var loadOpts []func(*config.LoadOptions) error
	if options.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(options.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if options.endpoint != "" {
			o.BaseEndpoint = aws.String(options.endpoint)
		}
	})
	return newClient(api, options), nil
}

// NewClientWithAPI creates a client around an existing API implementation.
// This is primarily used for testing with mocked clients.
func NewClientWithAPI(api ManagerAPI, opts ...Option) *Client {
	return newClient(api, applyOptions(opts))
}

func applyOptions(opts []Option) *clientOptions {
	options := &clientOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.New(slog.DiscardHandler)
	}
	return options
}

func newClient(api ManagerAPI, options *clientOptions) *Client {
	c := &Client{
		api:    api,
		logger: options.logger,
		clock:  options.clock,
	}
	if options.cacheTTL > 0 {
		c.cache = NewCache(options.cacheTTL, options.clock)
	}
	return c
}

// GetSecret returns the value of secretName, from the cache when enabled.
// Binary secrets are returned as their raw bytes.
func (c *Client) GetSecret(ctx context.Context, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}

	if c.cache != nil {
		if v, ok := c.cache.Get(secretName); ok {
			c.logger.DebugContext(ctx, "cache hit for secret", "secret_name", secretName)
			return v, nil
		}
	}

	c.logger.InfoContext(ctx, "retrieving secret", "secret_name", secretName)

	output, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case ResourceNotFoundException:
				return "", fmt.Errorf("getSecret %s: %w", secretName, ErrSecretNotFound)
			case AccessDeniedException:
				return "", fmt.Errorf("getSecret %s: %w", secretName, ErrAccessDenied)
			}
		}
		c.logger.ErrorContext(ctx, "failed to retrieve secret",
			"secret_name", secretName,
			"error", err)
		return "", fmt.Errorf("getSecret %s: %w", secretName, err)
	}

	var value string
	switch {
	case output.SecretString != nil:
		value = *output.SecretString
	case output.SecretBinary != nil:
		value = string(output.SecretBinary)
	}
	if value == "" {
		return "", fmt.Errorf("getSecret %s: %w", secretName, ErrSecretEmpty)
	}

	if c.cache != nil {
		c.cache.Set(secretName, value)
	}
	return value, nil
}

// Invalidate drops secretName from the cache.
func (c *Client) Invalidate(secretName string) {
	if c.cache != nil {
		c.cache.Delete(secretName)
	}
}

// Sentinel errors. They never carry secret values.
var (
	// ErrSecretNotFound is returned when the secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretEmpty is returned when the secret has no value.
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrAccessDenied is returned when the caller may not read the secret.
	ErrAccessDenied = errors.New("access denied to secret")

	// ErrMalformedSecret is returned when a secret does not hold credentials.
	ErrMalformedSecret = errors.New("secret does not contain store credentials")
)
