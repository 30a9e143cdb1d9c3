// Package testutil provides test utilities and mocks for store backends and
// upload sessions.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/voxtrail/audiostream/internal/s3api"
	"github.com/voxtrail/audiostream/store"
)

// MockS3Client is a mock implementation of the MultipartAPI interface for testing.
// It allows customization of each S3 operation through function fields.
type MockS3Client struct {
	CreateMultipartUploadFunc   func(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartFunc              func(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUploadFunc func(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUploadFunc    func(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// CreateMultipartUpload mocks the S3 CreateMultipartUpload operation.
func (m *MockS3Client) CreateMultipartUpload(
	ctx context.Context,
	params *s3.CreateMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CreateMultipartUploadOutput, error) {
	if m.CreateMultipartUploadFunc != nil {
		return m.CreateMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CreateMultipartUploadOutput{}, nil
}

// UploadPart mocks the S3 UploadPart operation.
func (m *MockS3Client) UploadPart(
	ctx context.Context,
	params *s3.UploadPartInput,
	optFns ...func(*s3.Options),
) (*s3.UploadPartOutput, error) {
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, params, optFns...)
	}
	return &s3.UploadPartOutput{}, nil
}

// CompleteMultipartUpload mocks the S3 CompleteMultipartUpload operation.
func (m *MockS3Client) CompleteMultipartUpload(
	ctx context.Context,
	params *s3.CompleteMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.CompleteMultipartUploadOutput, error) {
	if m.CompleteMultipartUploadFunc != nil {
		return m.CompleteMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.CompleteMultipartUploadOutput{}, nil
}

// AbortMultipartUpload mocks the S3 AbortMultipartUpload operation.
func (m *MockS3Client) AbortMultipartUpload(
	ctx context.Context,
	params *s3.AbortMultipartUploadInput,
	optFns ...func(*s3.Options),
) (*s3.AbortMultipartUploadOutput, error) {
	if m.AbortMultipartUploadFunc != nil {
		return m.AbortMultipartUploadFunc(ctx, params, optFns...)
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

var _ s3api.MultipartAPI = (*MockS3Client)(nil)

// MockObjectStore is a recording store.ObjectStore. Each operation can be
// overridden through a function field; by default every call succeeds.
// Recorded calls are safe to inspect after the session under test is done.
type MockObjectStore struct {
	BeginFunc      func(ctx context.Context, bucket, key string, opts store.BeginOptions) (string, error)
	UploadPartFunc func(ctx context.Context, part store.Part) (store.Receipt, error)
	CompleteFunc   func(ctx context.Context, bucket, key, uploadID string, receipts []store.Receipt) error
	AbortFunc      func(ctx context.Context, bucket, key, uploadID string) error
	CloseFunc      func() error

	mu        sync.Mutex
	calls     []string
	parts     []store.Part
	manifests [][]store.Receipt
	begins    []store.BeginOptions
	closes    int
}

// Begin records the call and returns "upload-1" unless BeginFunc is set.
func (m *MockObjectStore) Begin(ctx context.Context, bucket, key string, opts store.BeginOptions) (string, error) {
	m.record("begin", func() { m.begins = append(m.begins, opts) })
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, bucket, key, opts)
	}
	return "upload-1", nil
}

// UploadPart records the part and returns an "etag-N" receipt unless UploadPartFunc is set.
func (m *MockObjectStore) UploadPart(ctx context.Context, part store.Part) (store.Receipt, error) {
	m.record("uploadPart", func() { m.parts = append(m.parts, part) })
	if m.UploadPartFunc != nil {
		return m.UploadPartFunc(ctx, part)
	}
	return store.Receipt{
		PartNumber: part.PartNumber,
		ETag:       fmt.Sprintf("etag-%d", part.PartNumber),
		Size:       int64(len(part.Data)),
	}, nil
}

// Complete records the manifest.
func (m *MockObjectStore) Complete(ctx context.Context, bucket, key, uploadID string, receipts []store.Receipt) error {
	manifest := append([]store.Receipt(nil), receipts...)
	m.record("complete", func() { m.manifests = append(m.manifests, manifest) })
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, bucket, key, uploadID, receipts)
	}
	return nil
}

// Abort records the call.
func (m *MockObjectStore) Abort(ctx context.Context, bucket, key, uploadID string) error {
	m.record("abort", nil)
	if m.AbortFunc != nil {
		return m.AbortFunc(ctx, bucket, key, uploadID)
	}
	return nil
}

// Close records the call.
func (m *MockObjectStore) Close() error {
	m.record("close", func() { m.closes++ })
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns the operation names in call order.
func (m *MockObjectStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Count returns how many times op was called.
func (m *MockObjectStore) Count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Parts returns every part passed to UploadPart, including failed attempts.
func (m *MockObjectStore) Parts() []store.Part {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Part(nil), m.parts...)
}

// Manifests returns the receipts passed to each Complete call.
func (m *MockObjectStore) Manifests() [][]store.Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]store.Receipt(nil), m.manifests...)
}

// BeginOptions returns the options passed to each Begin call.
func (m *MockObjectStore) BeginOptions() []store.BeginOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.BeginOptions(nil), m.begins...)
}

// Closes returns how many times Close was called.
func (m *MockObjectStore) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Opener returns a store.Opener that always yields m.
func (m *MockObjectStore) Opener() store.Opener {
	return func(context.Context) (store.ObjectStore, error) {
		return m, nil
	}
}

func (m *MockObjectStore) record(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	if fn != nil {
		fn()
	}
}

var _ store.ObjectStore = (*MockObjectStore)(nil)
