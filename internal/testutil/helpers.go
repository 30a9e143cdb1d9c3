package testutil

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"
)

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return aws.String(s) }

// Int32Ptr returns a pointer to i.
func Int32Ptr(i int32) *int32 { return aws.Int32(i) }

// PartETag returns the ETag the mocks assign to a part number.
func PartETag(partNumber int32) string {
	return fmt.Sprintf(`"etag-%d"`, partNumber)
}

// CalculateETag returns the single-part ETag S3 computes for data.
func CalculateETag(data []byte) string {
	return fmt.Sprintf(`"%x"`, md5.Sum(data))
}

// GenerateRandomData returns size bytes of noise standing in for audio.
func GenerateRandomData(size int) []byte {
	data := make([]byte, size)
	_, _ = rand.Read(data)
	return data
}

// GenerateChunks returns one random chunk per size.
func GenerateChunks(sizes ...int) [][]byte {
	chunks := make([][]byte, len(sizes))
	for i, size := range sizes {
		chunks[i] = GenerateRandomData(size)
	}
	return chunks
}

// Concat joins chunks in order, the expected content of the final object.
func Concat(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// GenerateTestKey returns a unique recording key under prefix.
func GenerateTestKey(prefix string) string {
	return path.Join(prefix, "recording-"+uuid.NewString()+".flac")
}

// GenerateTestBucketName returns a unique, DNS-compliant bucket name.
func GenerateTestBucketName(prefix string) string {
	name := strings.ReplaceAll(strings.ToLower(prefix), "_", "-") + "-" + uuid.NewString()
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-")
	}
	return name
}
