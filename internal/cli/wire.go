package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxtrail/audiostream/config"
	"github.com/voxtrail/audiostream/internal/secrets"
	"github.com/voxtrail/audiostream/mirror"
	"github.com/voxtrail/audiostream/session"
	"github.com/voxtrail/audiostream/store"
	"github.com/voxtrail/audiostream/store/memstore"
	"github.com/voxtrail/audiostream/store/miniostore"
	"github.com/voxtrail/audiostream/store/s3store"
)

// newOpener builds the store.Opener for the configured backend.
func newOpener(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Opener, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using the in-memory store, recordings are lost on exit")
		return memstore.New(memstore.WithBuckets(cfg.Bucket)).Opener(), nil

	case config.BackendS3:
		opts := []s3store.Option{
			s3store.WithRegion(cfg.Region),
			s3store.WithEndpoint(cfg.Endpoint),
			s3store.WithForcePathStyle(cfg.ForcePathStyle),
			s3store.WithTimeout(cfg.Timeout),
			s3store.WithMaxRetries(cfg.MaxRetries),
		}
		switch {
		case cfg.CredentialsSecret != "":
			client, err := secrets.NewClient(ctx,
				secrets.WithRegion(cfg.Region),
				secrets.WithLogger(logger),
			)
			if err != nil {
				return nil, err
			}
			opts = append(opts, s3store.WithCredentialsProvider(
				client.CredentialsProvider(cfg.CredentialsSecret, cfg.CredentialsRefresh),
			))
		case cfg.AccessKeyID != "":
			opts = append(opts, s3store.WithStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken))
		}
		return s3store.Opener(opts...), nil

	case config.BackendMinIO:
		accessKey, secretKey, token := cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken
		if cfg.CredentialsSecret != "" {
			client, err := secrets.NewClient(ctx,
				secrets.WithRegion(cfg.Region),
				secrets.WithLogger(logger),
			)
			if err != nil {
				return nil, err
			}
			creds, err := client.StoreCredentials(ctx, cfg.CredentialsSecret)
			if err != nil {
				return nil, err
			}
			accessKey, secretKey, token = creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken
		}
		return miniostore.Opener(cfg.Endpoint,
			miniostore.WithCredentials(accessKey, secretKey, token),
			miniostore.WithRegion(cfg.Region),
			miniostore.WithSecure(cfg.Secure),
			miniostore.WithPathStyle(cfg.ForcePathStyle),
		), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// factoryOptions translates the session and retry sections.
func factoryOptions(cfg *config.Config, logger *slog.Logger) []session.Option {
	opts := []session.Option{
		session.WithBasePath(cfg.Session.BasePath),
		session.WithContentType(cfg.Session.ContentType),
		session.WithStorageClass(cfg.Session.StorageClass),
		session.WithMetadata(cfg.Session.Metadata),
		session.WithLocation(cfg.Session.TimeLocation()),
		session.WithMaxParts(cfg.Session.MaxParts),
		session.WithMaxPartSize(cfg.Session.MaxPartSize),
		session.WithRetryPolicy(session.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		session.WithLogger(logger),
	}
	if cfg.Session.Extension != "" {
		opts = append(opts, session.WithExtension(cfg.Session.Extension))
	}
	return opts
}

// newMirror returns the local copy writer, or nil when no mirror directory
// is configured.
func newMirror(cfg config.SessionConfig, logger *slog.Logger) *mirror.Mirror {
	if cfg.MirrorDir == "" {
		return nil
	}
	return mirror.NewDir(cfg.MirrorDir,
		mirror.WithLogger(logger),
		mirror.WithKeepAborted(cfg.MirrorKeepAborted),
	)
}
