package testutil

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	localStackImage  = "localstack/localstack:latest"
	localStackPort   = "4566"
	localStackRegion = "us-east-1"

	// LocalStackAccessKey and LocalStackSecretKey are accepted by LocalStack
	// for every request.
	LocalStackAccessKey = "test"
	LocalStackSecretKey = "test"
)

// LocalStack is a running LocalStack container with one empty bucket.
// Everything it creates is removed when the test ends.
type LocalStack struct {
	Endpoint string
	Region   string
	Bucket   string

	S3      *s3.Client
	Secrets *secretsmanager.Client
}

// StartLocalStack starts LocalStack for an integration test, creates a fresh
// bucket and registers cleanup with t. It skips the test in short mode.
func StartLocalStack(t *testing.T) *LocalStack {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping LocalStack test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx, localStackImage,
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort(localStackPort).
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("start LocalStack: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate LocalStack: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("LocalStack host: %v", err)
	}
	port, err := container.MappedPort(ctx, localStackPort)
	if err != nil {
		t.Fatalf("LocalStack port: %v", err)
	}

	ls := &LocalStack{
		Endpoint: fmt.Sprintf("http://%s:%s", host, port.Port()),
		Region:   localStackRegion,
		Bucket:   GenerateTestBucketName("audiostream"),
	}
	ls.S3 = s3.New(s3.Options{
		Region:       ls.Region,
		Credentials:  ls.Credentials(),
		BaseEndpoint: aws.String(ls.Endpoint),
		UsePathStyle: true,
	})
	ls.Secrets = secretsmanager.New(secretsmanager.Options{
		Region:       ls.Region,
		Credentials:  ls.Credentials(),
		BaseEndpoint: aws.String(ls.Endpoint),
	})

	if _, err := ls.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(ls.Bucket)}); err != nil {
		t.Fatalf("create bucket %s: %v", ls.Bucket, err)
	}
	t.Cleanup(func() {
		if err := ls.emptyBucket(context.Background()); err != nil {
			t.Logf("empty bucket %s: %v", ls.Bucket, err)
		}
	})
	return ls
}

// Credentials returns the static credentials LocalStack accepts.
func (ls *LocalStack) Credentials() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(LocalStackAccessKey, LocalStackSecretKey, "")
}

// ReadObject returns the content of a committed object.
func (ls *LocalStack) ReadObject(ctx context.Context, key string) ([]byte, error) {
	out, err := ls.S3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ls.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

// PendingUploads counts multipart transfers that were neither completed nor
// aborted.
func (ls *LocalStack) PendingUploads(ctx context.Context) (int, error) {
	out, err := ls.S3.ListMultipartUploads(ctx, &s3.ListMultipartUploadsInput{
		Bucket: aws.String(ls.Bucket),
	})
	if err != nil {
		return 0, fmt.Errorf("list multipart uploads: %w", err)
	}
	return len(out.Uploads), nil
}

// PutSecret stores a string secret.
func (ls *LocalStack) PutSecret(ctx context.Context, name, value string) error {
	_, err := ls.Secrets.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("create secret %s: %w", name, err)
	}
	return nil
}

func (ls *LocalStack) emptyBucket(ctx context.Context) error {
	pages := s3.NewListObjectsV2Paginator(ls.S3, &s3.ListObjectsV2Input{Bucket: aws.String(ls.Bucket)})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return err
		}
		if len(page.Contents) == 0 {
			continue
		}
		ids := make([]types.ObjectIdentifier, 0, len(page.Contents))
		for _, obj := range page.Contents {
			ids = append(ids, types.ObjectIdentifier{Key: obj.Key})
		}
		if _, err := ls.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(ls.Bucket),
			Delete: &types.Delete{Objects: ids},
		}); err != nil {
			return err
		}
	}
	_, err := ls.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(ls.Bucket)})
	return err
}
