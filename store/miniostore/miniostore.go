// Package miniostore implements the multipart object-store capability on
// MinIO and other S3-compatible servers using the minio-go low-level API.
package miniostore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/store"
)

// Core is the subset of minio.Core used by the store.
type Core interface {
	NewMultipartUpload(ctx context.Context, bucket, object string, opts minio.PutObjectOptions) (string, error)
	PutObjectPart(
		ctx context.Context,
		bucket, object, uploadID string,
		partID int,
		data io.Reader,
		size int64,
		opts minio.PutObjectPartOptions,
	) (minio.ObjectPart, error)
	CompleteMultipartUpload(
		ctx context.Context,
		bucket, object, uploadID string,
		parts []minio.CompletePart,
		opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	AbortMultipartUpload(ctx context.Context, bucket, object, uploadID string) error
}

var _ Core = (*minio.Core)(nil)

// Config holds the connection settings for a MinIO handle.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
	Secure          bool
	PathStyle       bool
}

// Option configures a MinIO handle.
type Option func(*Config)

// WithCredentials sets static access keys.
func WithCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Config) {
		c.AccessKeyID = accessKeyID
		c.SecretAccessKey = secretAccessKey
		c.SessionToken = sessionToken
	}
}

// WithRegion sets the region sent in signed requests.
func WithRegion(region string) Option {
	return func(c *Config) {
		c.Region = region
	}
}

// WithSecure enables TLS.
func WithSecure(secure bool) Option {
	return func(c *Config) {
		c.Secure = secure
	}
}

// WithPathStyle forces path-style bucket lookup.
func WithPathStyle(pathStyle bool) Option {
	return func(c *Config) {
		c.PathStyle = pathStyle
	}
}

// Store is a per-session MinIO handle.
type Store struct {
	core      Core
	transport *http.Transport

	mu     sync.Mutex
	closed bool
}

// New connects to the server at endpoint, given as host:port or a URL.
func New(endpoint string, opts ...Option) (*Store, error) {
	cfg := &Config{Endpoint: endpoint}
	for _, opt := range opts {
		opt(cfg)
	}

	host, secure := splitEndpoint(cfg.Endpoint, cfg.Secure)
	transport := http.DefaultTransport.(*http.Transport).Clone()

	minioOpts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		Secure:    secure,
		Region:    cfg.Region,
		Transport: transport,
	}
	if cfg.PathStyle {
		minioOpts.BucketLookup = minio.BucketLookupPath
	}

	core, err := minio.NewCore(host, minioOpts)
	if err != nil {
		return nil, errors.NewError("client initialization", err)
	}

	return &Store{core: core, transport: transport}, nil
}

// NewWithCore creates a handle around an existing Core implementation.
// This is primarily used for testing.
func NewWithCore(core Core) *Store {
	return &Store{core: core}
}

// Opener returns a store.Opener that creates one MinIO handle per session.
func Opener(endpoint string, opts ...Option) store.Opener {
	return func(context.Context) (store.ObjectStore, error) {
		return New(endpoint, opts...)
	}
}

// Begin creates a new multipart upload.
func (s *Store) Begin(ctx context.Context, bucket, key string, opts store.BeginOptions) (string, error) {
	if err := s.checkOpen(); err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, err)
	}

	uploadID, err := s.core.NewMultipartUpload(ctx, bucket, key, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		StorageClass: opts.StorageClass,
	})
	if err != nil {
		return "", errors.NewObjectError("createMultipartUpload", bucket, key, translateError(err))
	}
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

	size := int64(len(part.Data))
	objPart, err := s.core.PutObjectPart(ctx, part.Bucket, part.Key, part.UploadID,
		int(part.PartNumber), bytes.NewReader(part.Data), size, minio.PutObjectPartOptions{})
	if err != nil {
		return store.Receipt{}, errors.NewObjectError("uploadPart", part.Bucket, part.Key, translateError(err)).
			WithPart(part.PartNumber)
	}
	if objPart.ETag == "" {
		return store.Receipt{}, errors.NewObjectError("uploadPart", part.Bucket, part.Key, errors.ErrInvalidInput).
			WithPart(part.PartNumber).
			WithMessage("store returned an empty ETag")
	}

	return store.Receipt{
		PartNumber: part.PartNumber,
		ETag:       objPart.ETag,
		Size:       size,
	}, nil
}

// Complete completes the multipart upload from the ordered receipts.
func (s *Store) Complete(ctx context.Context, bucket, key, uploadID string, receipts []store.Receipt) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewObjectError("completeMultipartUpload", bucket, key, err)
	}

	parts := make([]minio.CompletePart, len(receipts))
	for i, r := range receipts {
		parts[i] = minio.CompletePart{PartNumber: int(r.PartNumber), ETag: r.ETag}
	}

	if _, err := s.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts, minio.PutObjectOptions{}); err != nil {
		return errors.NewObjectError("completeMultipartUpload", bucket, key, translateError(err))
	}
	return nil
}

// Abort aborts the multipart upload.
func (s *Store) Abort(ctx context.Context, bucket, key, uploadID string) error {
	if err := s.checkOpen(); err != nil {
		return errors.NewObjectError("abortMultipartUpload", bucket, key, err)
	}
	if err := s.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		return errors.NewObjectError("abortMultipartUpload", bucket, key, translateError(err))
	}
	return nil
}

// Close releases idle connections of the handle's transport.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.closed = true
	if s.transport != nil {
		s.transport.CloseIdleConnections()
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

// apiError exposes a MinIO error response as a smithy.APIError so the shared
// error classification applies to both backends.
type apiError struct {
	resp minio.ErrorResponse
	err  error
}

func (e *apiError) Error() string        { return e.err.Error() }
func (e *apiError) Unwrap() error        { return e.err }
func (e *apiError) ErrorCode() string    { return e.resp.Code }
func (e *apiError) ErrorMessage() string { return e.resp.Message }

func (e *apiError) ErrorFault() smithy.ErrorFault {
	if e.resp.StatusCode >= http.StatusInternalServerError {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

func (e *apiError) HTTPStatusCode() int { return e.resp.StatusCode }

func translateError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		return err
	}
	return &apiError{resp: resp, err: err}
}

func splitEndpoint(endpoint string, secure bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), false
	}
	return endpoint, secure
}

var _ store.ObjectStore = (*Store)(nil)
