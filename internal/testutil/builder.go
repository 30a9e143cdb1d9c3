package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// MockUploadID is the transfer ID returned by WithMultipartUpload.
const MockUploadID = "test-upload-id"

// MockBuilder assembles a MockS3Client one operation at a time.
type MockBuilder struct {
	client *MockS3Client
}

// NewMockBuilder starts from a client whose operations all succeed with
// empty outputs.
func NewMockBuilder() *MockBuilder {
	return &MockBuilder{client: &MockS3Client{}}
}

// Build returns the client.
func (b *MockBuilder) Build() *MockS3Client {
	return b.client
}

// WithCreateMultipartUpload sets CreateMultipartUpload.
func (b *MockBuilder) WithCreateMultipartUpload(
	fn func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error),
) *MockBuilder {
	b.client.CreateMultipartUploadFunc = func(
		ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.CreateMultipartUploadOutput, error) {
		return fn(ctx, in)
	}
	return b
}

// WithUploadPart sets UploadPart.
func (b *MockBuilder) WithUploadPart(
	fn func(context.Context, *s3.UploadPartInput) (*s3.UploadPartOutput, error),
) *MockBuilder {
	b.client.UploadPartFunc = func(
		ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options),
	) (*s3.UploadPartOutput, error) {
		return fn(ctx, in)
	}
	return b
}

// WithCompleteMultipartUpload sets CompleteMultipartUpload.
func (b *MockBuilder) WithCompleteMultipartUpload(
	fn func(context.Context, *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error),
) *MockBuilder {
	b.client.CompleteMultipartUploadFunc = func(
		ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.CompleteMultipartUploadOutput, error) {
		return fn(ctx, in)
	}
	return b
}

// WithAbortMultipartUpload sets AbortMultipartUpload.
func (b *MockBuilder) WithAbortMultipartUpload(
	fn func(context.Context, *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error),
) *MockBuilder {
	b.client.AbortMultipartUploadFunc = func(
		ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options),
	) (*s3.AbortMultipartUploadOutput, error) {
		return fn(ctx, in)
	}
	return b
}

// WithMultipartUpload makes every operation succeed the way S3 would:
// transfers get MockUploadID, part bodies are consumed and part N is
// acknowledged with PartETag(N).
func (b *MockBuilder) WithMultipartUpload() *MockBuilder {
	return b.
		WithCreateMultipartUpload(func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			return &s3.CreateMultipartUploadOutput{UploadId: StringPtr(MockUploadID), Bucket: in.Bucket, Key: in.Key}, nil
		}).
		WithUploadPart(acknowledgePart).
		WithCompleteMultipartUpload(func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			return &s3.CompleteMultipartUploadOutput{ETag: StringPtr(`"multipart-etag"`), Bucket: in.Bucket, Key: in.Key}, nil
		}).
		WithAbortMultipartUpload(func(context.Context, *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			return &s3.AbortMultipartUploadOutput{}, nil
		})
}

// WithFailingPart fails the first failures attempts of one part number with
// err. Every other call goes to the UploadPart configured before it.
func (b *MockBuilder) WithFailingPart(partNumber int32, failures int, err error) *MockBuilder {
	var mu sync.Mutex
	remaining := failures
	next := b.client.UploadPartFunc

	return b.WithUploadPart(func(ctx context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
		mu.Lock()
		fail := *in.PartNumber == partNumber && remaining > 0
		if fail {
			remaining--
		}
		mu.Unlock()

		switch {
		case fail:
			return nil, err
		case next != nil:
			return next(ctx, in)
		default:
			return acknowledgePart(ctx, in)
		}
	})
}

// WithError makes every operation fail with err.
func (b *MockBuilder) WithError(err error) *MockBuilder {
	return b.
		WithCreateMultipartUpload(func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
			return nil, err
		}).
		WithUploadPart(func(context.Context, *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
			return nil, err
		}).
		WithCompleteMultipartUpload(func(context.Context, *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			return nil, err
		}).
		WithAbortMultipartUpload(func(context.Context, *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			return nil, err
		})
}

// WithAccessDenied makes every operation fail with an AccessDenied API error.
func (b *MockBuilder) WithAccessDenied() *MockBuilder {
	return b.WithError(&smithy.GenericAPIError{Code: "AccessDenied", Message: "Access Denied"})
}

func acknowledgePart(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
	if in.Body != nil {
		_, _ = io.Copy(io.Discard, in.Body)
	}
	return &s3.UploadPartOutput{ETag: StringPtr(PartETag(*in.PartNumber))}, nil
}
