package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/testutil"
	"github.com/voxtrail/audiostream/store"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "default configuration"},
		{name: "with region", opts: []Option{WithRegion("eu-west-1")}},
		{
			name: "localstack style",
			opts: []Option{
				WithRegion("us-east-1"),
				WithEndpoint("http://localhost:4566"),
				WithForcePathStyle(true),
				WithStaticCredentials("test", "test", ""),
				WithTimeout(5 * time.Second),
				WithMaxRetries(0),
			},
		},
		{name: "custom aws config", opts: []Option{WithAWSConfig(&aws.Config{Region: "ap-south-1"})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := New(context.Background(), tt.opts...)
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.NotNil(t, st.api)
			assert.NotNil(t, st.httpClient)
			assert.NoError(t, st.Close())
		})
	}
}

func TestOptions(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)

	WithMaxRetries(-1)(cfg)
	assert.Equal(t, 3, cfg.MaxRetries, "negative retries are ignored")

	WithStaticCredentials("AKID", "SECRET", "TOKEN")(cfg)
	assert.Equal(t, "AKID", cfg.AccessKeyID)
	assert.Equal(t, "SECRET", cfg.SecretAccessKey)
	assert.Equal(t, "TOKEN", cfg.SessionToken)

	WithCredentialsProvider(nil)(cfg)
	assert.Nil(t, cfg.Credentials)

	provider := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "FROM-SECRET", SecretAccessKey: "s"}, nil
	})
	WithCredentialsProvider(provider)(cfg)
	require.NotNil(t, cfg.Credentials)

	creds, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FROM-SECRET", creds.AccessKeyID)
}

func TestLoadAWSConfig_CredentialsProvider(t *testing.T) {
	cfg := defaultConfig()
	WithRegion("eu-west-1")(cfg)
	WithStaticCredentials("STATIC", "s", "")(cfg)
	WithCredentialsProvider(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "PROVIDED", SecretAccessKey: "s"}, nil
	}))(cfg)

	awsCfg, err := loadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PROVIDED", creds.AccessKeyID, "a provider takes precedence over static keys")
}

func TestOpener(t *testing.T) {
	open := Opener(WithRegion("us-east-1"), WithStaticCredentials("test", "test", ""))

	a, err := open(context.Background())
	require.NoError(t, err)
	b, err := open(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, a, b, "each session gets its own handle")
	assert.NoError(t, a.Close())
	assert.NoError(t, b.Close())
}

func TestStore_Begin(t *testing.T) {
	ctx := context.Background()

	t.Run("passes object attributes", func(t *testing.T) {
		var got *s3.CreateMultipartUploadInput
		mock := testutil.NewMockBuilder().
			WithCreateMultipartUpload(func(_ context.Context, in *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
				got = in
				return &s3.CreateMultipartUploadOutput{UploadId: aws.String("u-1")}, nil
			}).Build()

		id, err := NewWithClient(mock).Begin(ctx, "audio", "standup/a.flac", store.BeginOptions{
			ContentType:  "audio/flac",
			Metadata:     map[string]string{"participant": "alice"},
			StorageClass: "STANDARD_IA",
		})

		require.NoError(t, err)
		assert.Equal(t, "u-1", id)
		assert.Equal(t, "audio", aws.ToString(got.Bucket))
		assert.Equal(t, "standup/a.flac", aws.ToString(got.Key))
		assert.Equal(t, "audio/flac", aws.ToString(got.ContentType))
		assert.Equal(t, awstypes.StorageClassStandardIa, got.StorageClass)
		assert.Equal(t, "alice", got.Metadata["participant"])
	})

	t.Run("api error", func(t *testing.T) {
		mock := testutil.NewMockBuilder().WithAccessDenied().Build()

		_, err := NewWithClient(mock).Begin(ctx, "audio", "k", store.BeginOptions{})

		require.Error(t, err)
		var e *serrors.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "createMultipartUpload", e.Op)
		assert.Equal(t, serrors.CodeForbidden, e.Code)
	})

	t.Run("missing upload id", func(t *testing.T) {
		mock := testutil.NewMockBuilder().
			WithCreateMultipartUpload(func(context.Context, *s3.CreateMultipartUploadInput) (*s3.CreateMultipartUploadOutput, error) {
				return &s3.CreateMultipartUploadOutput{}, nil
			}).Build()

		_, err := NewWithClient(mock).Begin(ctx, "audio", "k", store.BeginOptions{})
		assert.ErrorContains(t, err, "empty upload ID")
	})
}

func TestStore_UploadPart(t *testing.T) {
	ctx := context.Background()

	t.Run("returns receipt", func(t *testing.T) {
		var body []byte
		mock := testutil.NewMockBuilder().
			WithUploadPart(func(_ context.Context, in *s3.UploadPartInput) (*s3.UploadPartOutput, error) {
				assert.Equal(t, "u-1", aws.ToString(in.UploadId))
				assert.Equal(t, int64(5), aws.ToInt64(in.ContentLength))
				body, _ = io.ReadAll(in.Body)
				return &s3.UploadPartOutput{ETag: aws.String(testutil.PartETag(*in.PartNumber))}, nil
			}).Build()

		r, err := NewWithClient(mock).UploadPart(ctx, store.Part{
			Bucket: "audio", Key: "k", UploadID: "u-1", PartNumber: 4, Data: []byte("hello"),
		})

		require.NoError(t, err)
		assert.Equal(t, store.Receipt{PartNumber: 4, ETag: testutil.PartETag(4), Size: 5}, r)
		assert.True(t, bytes.Equal([]byte("hello"), body))
	})

	t.Run("error carries part number", func(t *testing.T) {
		mock := testutil.NewMockBuilder().
			WithFailingPart(2, 1, &smithy.GenericAPIError{Code: "SlowDown"}).Build()

		_, err := NewWithClient(mock).UploadPart(ctx, store.Part{Bucket: "audio", Key: "k", PartNumber: 2, Data: []byte("x")})

		var e *serrors.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, int32(2), e.PartNumber)
		assert.Equal(t, serrors.CodeRateLimit, e.Code)
	})

	t.Run("missing etag", func(t *testing.T) {
		mock := &testutil.MockS3Client{}

		_, err := NewWithClient(mock).UploadPart(ctx, store.Part{PartNumber: 1, Data: []byte("x")})
		assert.ErrorContains(t, err, "empty ETag")
	})
}

func TestStore_Complete(t *testing.T) {
	var got *s3.CompleteMultipartUploadInput
	mock := testutil.NewMockBuilder().
		WithCompleteMultipartUpload(func(_ context.Context, in *s3.CompleteMultipartUploadInput) (*s3.CompleteMultipartUploadOutput, error) {
			got = in
			return &s3.CompleteMultipartUploadOutput{}, nil
		}).Build()

	receipts := []store.Receipt{
		{PartNumber: 1, ETag: "e1"},
		{PartNumber: 2, ETag: "e2"},
	}
	err := NewWithClient(mock).Complete(context.Background(), "audio", "k", "u-1", receipts)

	require.NoError(t, err)
	require.Len(t, got.MultipartUpload.Parts, 2)
	for i, p := range got.MultipartUpload.Parts {
		assert.Equal(t, receipts[i].PartNumber, aws.ToInt32(p.PartNumber))
		assert.Equal(t, receipts[i].ETag, aws.ToString(p.ETag))
	}
}

func TestStore_Abort(t *testing.T) {
	aborted := false
	mock := testutil.NewMockBuilder().
		WithAbortMultipartUpload(func(_ context.Context, in *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			aborted = aws.ToString(in.UploadId) == "u-1"
			return &s3.AbortMultipartUploadOutput{}, nil
		}).Build()

	require.NoError(t, NewWithClient(mock).Abort(context.Background(), "audio", "k", "u-1"))
	assert.True(t, aborted)

	failing := testutil.NewMockBuilder().
		WithAbortMultipartUpload(func(context.Context, *s3.AbortMultipartUploadInput) (*s3.AbortMultipartUploadOutput, error) {
			return nil, &smithy.GenericAPIError{Code: "NoSuchUpload"}
		}).Build()

	err := NewWithClient(failing).Abort(context.Background(), "audio", "k", "u-1")
	assert.Equal(t, serrors.CodeNotFound, serrors.Code(err))
}

func TestStore_Close(t *testing.T) {
	st := NewWithClient(testutil.NewMockBuilder().WithMultipartUpload().Build())

	require.NoError(t, st.Close())
	assert.True(t, errors.Is(st.Close(), store.ErrClosed))

	_, err := st.Begin(context.Background(), "audio", "k", store.BeginOptions{})
	assert.ErrorIs(t, err, store.ErrClosed)
	_, err = st.UploadPart(context.Background(), store.Part{PartNumber: 1, Data: []byte("x")})
	assert.ErrorIs(t, err, store.ErrClosed)
}
