package validation

import (
	"fmt"
	"mime"
	"net/netip"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/voxtrail/audiostream/errors"
)

// MaxKeyLength is the longest object key S3 accepts, in bytes.
const MaxKeyLength = 1024

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

var mimePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-+.]*\/[a-zA-Z0-9][a-zA-Z0-9\-+.]*(\s*;.*)?$`)

// ValidateBucketName validates that a bucket name is DNS-compliant according to AWS S3 rules.
// Returns ErrInvalidBucketName if the bucket name is invalid.
func ValidateBucketName(bucket string) error {
	if bucket == "" {
		return bucketError(bucket, "bucket name cannot be empty")
	}

	// Bucket names must be between 3 and 63 characters long
	if len(bucket) < 3 || len(bucket) > 63 {
		return bucketError(bucket, "bucket name must be between 3 and 63 characters long")
	}

	for _, char := range bucket {
		if !isValidBucketChar(char) {
			return bucketError(bucket, "bucket name can only contain lowercase letters, numbers, dots, and hyphens")
		}
	}

	first, last := bucket[0], bucket[len(bucket)-1]
	if first == '-' || first == '.' || last == '-' || last == '.' {
		return bucketError(bucket, "bucket name cannot start or end with a hyphen or dot")
	}

	if isIPAddress(bucket) {
		return bucketError(bucket, "bucket name cannot be formatted as an IP address")
	}

	if strings.Contains(bucket, "..") || strings.Contains(bucket, "--") {
		return bucketError(bucket, "bucket name cannot contain two adjacent periods or hyphens")
	}

	return nil
}

// ValidateObjectKey validates that an object key is valid according to AWS S3 rules.
// This includes preventing path traversal and control characters.
func ValidateObjectKey(key string) error {
	if key == "" {
		return keyError(key, "object key cannot be empty")
	}

	if hasPathTraversal(key) {
		return keyError(key, "object key cannot contain path traversal sequences")
	}

	if len(key) > MaxKeyLength {
		return keyError(key, fmt.Sprintf("object key cannot exceed %d bytes", MaxKeyLength))
	}

	if hasControlCharacters(key) {
		return keyError(key, "object key cannot contain control characters")
	}

	return nil
}

// ValidateKeySegment validates a single path segment that is interpolated into
// an object key, such as a room or participant name. Segments cannot be empty
// and cannot contain a path separator, so the key layout stays fixed.
func ValidateKeySegment(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.NewError("validateKeySegment", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("%s cannot be empty", name))
	}
	if strings.ContainsAny(value, `/\`) {
		return errors.NewError("validateKeySegment", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("%s cannot contain path separators", name))
	}
	if value == "." || value == ".." {
		return errors.NewError("validateKeySegment", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("%s cannot be a relative path element", name))
	}
	if hasControlCharacters(value) {
		return errors.NewError("validateKeySegment", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("%s cannot contain control characters", name))
	}
	return nil
}

// ValidateContentType validates that a content type is a well-formed MIME type.
// An empty content type is allowed.
func ValidateContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	if !mimePattern.MatchString(contentType) {
		return errors.NewError("validateContentType", errors.ErrInvalidInput).
			WithMessage("content type must be a valid MIME type")
	}
	return nil
}

// ValidateMetadata validates metadata keys and values according to S3 rules.
func ValidateMetadata(metadata map[string]string) error {
	for key, value := range metadata {
		if err := validateMetadataKey(key); err != nil {
			return err
		}
		if len(value) > 2048 {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage("metadata value cannot exceed 2048 characters")
		}
	}
	return nil
}

// SanitizeMetadata makes metadata safe to send as S3 user metadata headers.
// Keys keep printable ASCII only. Values lose control characters and are
// RFC 2047 encoded when they hold non-ASCII text, the form S3 itself returns
// for such values, so "Zoë" is stored as "=?utf-8?q?Zo=C3=AB?=".
func SanitizeMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return nil
	}

	sanitized := make(map[string]string, len(metadata))
	for key, value := range metadata {
		value = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) {
				return -1
			}
			return r
		}, value)
		sanitized[printableOnly(key)] = mime.QEncoding.Encode("utf-8", value)
	}
	return sanitized
}

// ValidateChunk checks a chunk against the part size limits of the store.
func ValidateChunk(size, maxPartSize int64) error {
	if size == 0 {
		return errors.ErrEmptyChunk
	}
	if maxPartSize > 0 && size > maxPartSize {
		return fmt.Errorf("%w: %d bytes, limit %d", errors.ErrChunkTooLarge, size, maxPartSize)
	}
	return nil
}

func validateMetadataKey(key string) error {
	if key == "" {
		return errors.NewError("validateMetadata", errors.ErrInvalidInput).
			WithMessage("metadata key cannot be empty")
	}
	if len(key) > 128 {
		return errors.NewError("validateMetadata", errors.ErrInvalidInput).
			WithMessage("metadata key cannot exceed 128 characters")
	}
	for _, prefix := range []string{"aws:", "x-amz-", "x-amz:"} {
		if strings.HasPrefix(strings.ToLower(key), prefix) {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage(fmt.Sprintf("metadata key cannot start with reserved prefix: %s", prefix))
		}
	}
	for _, char := range key {
		if char <= ' ' || char > '~' {
			return errors.NewError("validateMetadata", errors.ErrInvalidInput).
				WithMessage("metadata key can only contain printable ASCII characters")
		}
	}
	return nil
}

func bucketError(bucket, msg string) error {
	return errors.NewError("validateBucketName", errors.ErrInvalidBucketName).
		WithBucket(bucket).
		WithMessage(msg)
}

func keyError(key, msg string) error {
	return errors.NewError("validateObjectKey", errors.ErrInvalidObjectKey).
		WithKey(key).
		WithMessage(msg)
}

func isValidBucketChar(char rune) bool {
	return (char >= '0' && char <= '9') || (char >= 'a' && char <= 'z') || char == '.' || char == '-'
}

func isIPAddress(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

// hasPathTraversal reports absolute paths, drive letters and ".." segments
// under either separator.
func hasPathTraversal(key string) bool {
	if strings.HasPrefix(key, "/") || drivePrefix.MatchString(key) {
		return true
	}
	segments := strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' })
	return slices.Contains(segments, "..")
}

func hasControlCharacters(s string) bool {
	for _, char := range s {
		if unicode.IsControl(char) {
			return true
		}
	}
	return false
}

func printableOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r > ' ' && r <= '~' {
			return r
		}
		return -1
	}, s)
}
