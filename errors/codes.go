package errors

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/aws/smithy-go"
)

// ErrorCode classifies the condition behind a failed object-store call.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Resource errors.

	// CodeNotFound indicates the bucket or multipart upload does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates a resource state conflict, such as a part
	// manifest the store refuses to assemble.
	CodeConflict ErrorCode = "CONFLICT"

	// Permission errors.

	// CodeUnauthorized indicates the request lacks valid authentication credentials.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeForbidden indicates the credentials lack permission for the operation.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// Validation errors.

	// CodeInvalidInput indicates the provided input is invalid or malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration error prevents the operation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Infrastructure errors.

	// CodeNetwork indicates a network operation failed.
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates the store is throttling requests.
	CodeRateLimit ErrorCode = "RATE_LIMIT_EXCEEDED"

	// System errors.

	// CodeInternal indicates an internal error occurred at the store.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnavailable indicates the store is temporarily unavailable.
	CodeUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// CodeCanceled indicates the caller canceled the operation.
	CodeCanceled ErrorCode = "CANCELED"

	// Generic errors.

	// CodeUnknown indicates an unknown or unclassified error occurred.
	CodeUnknown ErrorCode = "UNKNOWN"
)

// apiCodes maps store API error codes (S3 and S3-compatible stores) to ErrorCodes.
var apiCodes = map[string]ErrorCode{
	"NoSuchBucket":          CodeNotFound,
	"NoSuchUpload":          CodeNotFound,
	"NoSuchKey":             CodeNotFound,
	"NotFound":              CodeNotFound,
	"AccessDenied":          CodeForbidden,
	"AccountProblem":        CodeForbidden,
	"AllAccessDisabled":     CodeForbidden,
	"InvalidAccessKeyId":    CodeUnauthorized,
	"SignatureDoesNotMatch": CodeUnauthorized,
	"ExpiredToken":          CodeUnauthorized,
	"InvalidToken":          CodeUnauthorized,
	"InvalidPart":           CodeConflict,
	"InvalidPartOrder":      CodeConflict,
	"EntityTooSmall":        CodeConflict,
	"EntityTooLarge":        CodeInvalidInput,
	"InvalidArgument":       CodeInvalidInput,
	"InvalidBucketName":     CodeInvalidInput,
	"KeyTooLongError":       CodeInvalidInput,
	"InvalidRequest":        CodeInvalidInput,
	"MalformedXML":          CodeInvalidInput,
	"SlowDown":              CodeRateLimit,
	"Throttling":            CodeRateLimit,
	"ThrottlingException":   CodeRateLimit,
	"TooManyRequests":       CodeRateLimit,
	"RequestLimitExceeded":  CodeRateLimit,
	"RequestTimeout":        CodeTimeout,
	"RequestTimeTooSkewed":  CodeUnauthorized,
	"InternalError":         CodeInternal,
	"ServiceUnavailable":    CodeUnavailable,
}

// Code classifies err. It understands the store API errors surfaced by the
// AWS SDK (smithy.APIError), HTTP response status codes, network errors and
// context errors. A nil error has no code and returns the empty string.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiCodes[apiErr.ErrorCode()]; ok {
			return code
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		if code := codeForStatus(statusErr.HTTPStatusCode()); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrEmptyChunk),
		errors.Is(err, ErrChunkTooLarge), errors.Is(err, ErrInvalidBucketName),
		errors.Is(err, ErrInvalidObjectKey):
		return CodeInvalidInput
	case errors.Is(err, ErrSessionEnded), errors.Is(err, ErrPartLimit),
		errors.Is(err, ErrManifestCorrupt), errors.Is(err, ErrNoParts):
		return CodeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}

	return CodeUnknown
}

// IsRetryable reports whether a failure with the given code is transient.
// Only throttling, timeouts, unavailability and network faults qualify. An
// internal store error is not retried.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case CodeRateLimit, CodeTimeout, CodeUnavailable, CodeNetwork:
		return true
	}
	return false
}

func codeForStatus(status int) ErrorCode {
	switch {
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusTooManyRequests:
		return CodeRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return CodeTimeout
	case status == http.StatusServiceUnavailable, status == http.StatusBadGateway:
		return CodeUnavailable
	case status >= 500:
		return CodeInternal
	case status >= 400:
		return CodeInvalidInput
	}
	return ""
}
