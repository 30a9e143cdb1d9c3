// Package s3store implements the multipart object-store capability on
// Amazon S3 using AWS SDK v2.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/s3api"
	"github.com/voxtrail/audiostream/store"
)

// Store is a per-session S3 handle. Each handle owns its own HTTP transport,
// which is released on Close.
type Store struct {
	// api is the S3 multipart API (the SDK client, or a mock in tests)
	api s3api.MultipartAPI

	// httpClient is the transport owned by this handle, nil for injected clients
	httpClient *http.Client

	mu     sync.Mutex
	closed bool
}

// New creates an S3 handle with the provided options. Credentials come from
// the provider or static keys in the options when set, otherwise from the
// default AWS credential chain.
//
// Example:
//
//	st, err := s3store.New(ctx,
//	    s3store.WithRegion("eu-west-1"),
//	    s3store.WithTimeout(30*time.Second),
//	)
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.HTTPClient = httpClient
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Store{
		api:        client,
		httpClient: httpClient,
	}, nil
}

// NewWithClient creates a handle around an existing S3 API implementation.
// This is primarily used for testing with mocked clients.
func NewWithClient(api s3api.MultipartAPI) *Store {
	return &Store{api: api}
}

// Opener returns a store.Opener that creates one S3 handle per session.
func Opener(opts ...Option) store.Opener {
	return func(ctx context.Context) (store.ObjectStore, error) {
		return New(ctx, opts...)
	}
}

func loadAWSConfig(ctx context.Context, cfg *Config) (aws.Config, error) {
	if cfg.CustomAWSConfig != nil {
		awsCfg := cfg.CustomAWSConfig.Copy()
		if cfg.Region != "" {
			awsCfg.Region = cfg.Region
		}
		return awsCfg, nil
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	switch {
	case cfg.Credentials != nil:
		loadOpts = append(loadOpts, config.WithCredentialsProvider(cfg.Credentials))
	case cfg.AccessKeyID != "":
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = "us-east-1" // AWS default region
	}
	return awsCfg, nil
}

// Begin creates a new multipart upload.
func (s *Store) Begin(ctx context.Context, bucket, key string, opts store.BeginOptions) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, err)
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.StorageClass != "" {
		input.StorageClass = awstypes.StorageClass(opts.StorageClass)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	output, err := s.api.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, err)
	}

	uploadID := aws.ToString(output.UploadId)
	if uploadID == "" {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, errors.ErrInvalidInput).
			WithMessage("store returned an empty upload ID")
	}
	return uploadID, nil
}

// UploadPart uploads a single part.
func (s *Store) UploadPart(ctx context.Context, part store.Part) (store.Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return store.Receipt{}, errors.NewObjectError("uploadPart", part.Bucket, part.Key, err).WithPart(part.PartNumber)
	}

	input := &s3.UploadPartInput{
		Bucket:        aws.String(part.Bucket),
		Key:           aws.String(part.Key),
		UploadId:      aws.String(part.UploadID),
		PartNumber:    aws.Int32(part.PartNumber),
		ContentLength: aws.Int64(int64(len(part.Data))),
		Body:          bytes.NewReader(part.Data),
	}

	output, err := s.api.UploadPart(ctx, input)
	if err != nil {
		return store.Receipt{}, errors.NewObjectError("uploadPart", part.Bucket, part.Key, err).WithPart(part.PartNumber)
	}

	etag := aws.ToString(output.ETag)
	if etag == "" {
		return store.Receipt{}, errors.NewObjectError("uploadPart", part.Bucket, part.Key, errors.ErrInvalidInput).
			WithPart(part.PartNumber).
			WithMessage("store returned an empty ETag")
	}

	return store.Receipt{
		PartNumber: part.PartNumber,
		ETag:       etag,
		Size:       int64(len(part.Data)),
	}, nil
}

// Complete completes the multipart upload from the ordered receipts.
func (s *Store) Complete(ctx context.Context, bucket, key, uploadID string, receipts []store.Receipt) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewObjectError("completeMultipartUpload", bucket, key, err)
	}

	parts := make([]awstypes.CompletedPart, len(receipts))
	for i, r := range receipts {
		parts[i] = awstypes.CompletedPart{
			ETag:       aws.String(r.ETag),
			PartNumber: aws.Int32(r.PartNumber),
		}
	}

	input := &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &awstypes.CompletedMultipartUpload{
			Parts: parts,
		},
	}

	if _, err := s.api.CompleteMultipartUpload(ctx, input); err != nil {
		return errors.NewObjectError("completeMultipartUpload", bucket, key, err)
	}
	return nil
}

// Abort aborts the multipart upload, discarding stored parts.
func (s *Store) Abort(ctx context.Context, bucket, key, uploadID string) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewObjectError("abortMultipartUpload", bucket, key, err)
	}

	input := &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	}
	if _, err := s.api.AbortMultipartUpload(ctx, input); err != nil {
		return errors.NewObjectError("abortMultipartUpload", bucket, key, err)
	}
	return nil
}

// Close releases the handle's idle connections. Calling Close more than once
// returns store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.closed = true
	if s.httpClient != nil {
		s.httpClient.CloseIdleConnections()
	}
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

var _ store.ObjectStore = (*Store)(nil)
