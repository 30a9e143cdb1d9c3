// Package store defines the object-store capability consumed by upload
// sessions: opening a multipart transfer, storing numbered parts, and
// committing or discarding the transfer.
//
// Backends live in subpackages: s3store (AWS SDK v2), miniostore (MinIO and
// other S3-compatible stores through minio-go) and memstore (in-process, for
// tests and local runs).
package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by a handle that has already been closed.
var ErrClosed = errors.New("store: handle closed")

const (
	// MaxParts is the highest part number an S3 multipart upload accepts.
	MaxParts = 10000

	// MaxPartSize is the largest single part S3 accepts (5 GiB).
	MaxPartSize int64 = 5 << 30
)

// BeginOptions carries object attributes fixed when a transfer is initiated.
type BeginOptions struct {
	// ContentType is the MIME type of the final object
	ContentType string

	// Metadata is stored as user metadata on the final object
	Metadata map[string]string

	// StorageClass selects the storage class (backend specific, optional)
	StorageClass string
}

// Part is one chunk of a multipart transfer.
type Part struct {
	Bucket     string
	Key        string
	UploadID   string
	PartNumber int32
	Data       []byte
}

// Receipt is the store's acknowledgement of one stored part. The ETag is
// required to reference the part in the commit manifest.
type Receipt struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// ObjectStore is the multipart upload capability of an object store.
// A handle is owned by exactly one session and closed once it ends.
type ObjectStore interface {
	// Begin initiates a multipart transfer and returns its upload ID.
	Begin(ctx context.Context, bucket, key string, opts BeginOptions) (string, error)

	// UploadPart stores one part and returns its receipt.
	UploadPart(ctx context.Context, part Part) (Receipt, error)

	// Complete commits the transfer from receipts, which must be in
	// ascending part-number order.
	Complete(ctx context.Context, bucket, key, uploadID string, receipts []Receipt) error

	// Abort discards the transfer and any parts stored for it.
	Abort(ctx context.Context, bucket, key, uploadID string) error

	// Close releases the handle. The handle must not be used afterwards.
	Close() error
}

// Opener yields a fresh store handle for a new session.
type Opener func(ctx context.Context) (ObjectStore, error)
