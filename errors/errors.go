// Package errors provides error types and handling for streaming upload sessions.
//
// Every failure that leaves a session is an *Error carrying the operation, the
// session-level Kind (creation, part upload, commit, abort), the bucket, key
// and part number involved, and a classified ErrorCode.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies which stage of a session's lifecycle failed.
type Kind string

const (
	// KindSessionCreation means the multipart transfer could not be initiated.
	// No session exists; callers should treat streaming as unavailable.
	KindSessionCreation Kind = "session_creation"

	// KindPartUpload means a chunk could not be stored as a part.
	KindPartUpload Kind = "part_upload"

	// KindCommit means the final manifest was rejected by the store.
	KindCommit Kind = "commit"

	// KindAbort means the store could not discard the transfer.
	KindAbort Kind = "abort"

	// KindState means the session refused the call because of its state or input.
	KindState Kind = "state"
)

// Error represents a session operation error with context about the operation that failed.
// It wraps the underlying store error with additional context for better debugging.
type Error struct {
	// Op is the operation that failed (e.g., "begin", "uploadPart", "complete")
	Op string

	// Kind is the lifecycle stage the failure belongs to
	Kind Kind

	// Code classifies the underlying failure
	Code ErrorCode

	// Bucket is the bucket name (if applicable)
	Bucket string

	// Key is the object key (if applicable)
	Key string

	// PartNumber is the part being uploaded (if applicable)
	PartNumber int32

	// Err is the underlying error from the store or other source
	Err error
}

// Error implements the error interface by providing a formatted error message.
func (e *Error) Error() string {
	var where string
	switch {
	case e.Bucket != "" && e.Key != "":
		where = fmt.Sprintf(" %s/%s", e.Bucket, e.Key)
	case e.Bucket != "":
		where = fmt.Sprintf(" bucket %s", e.Bucket)
	case e.Key != "":
		where = fmt.Sprintf(" object %s", e.Key)
	}
	if e.PartNumber > 0 {
		where += fmt.Sprintf(" part %d", e.PartNumber)
	}
	return fmt.Sprintf("audiostream.%s%s: %v", e.Op, where, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithKind sets the lifecycle stage of the error.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// WithBucket adds bucket context to an existing error.
func (e *Error) WithBucket(bucket string) *Error {
	e.Bucket = bucket
	return e
}

// WithKey adds object key context to an existing error.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithPart adds part number context to an existing error.
func (e *Error) WithPart(partNumber int32) *Error {
	e.PartNumber = partNumber
	return e
}

// WithCode overrides the classified error code.
func (e *Error) WithCode(code ErrorCode) *Error {
	e.Code = code
	return e
}

// WithMessage wraps the underlying error with a custom message.
func (e *Error) WithMessage(message string) *Error {
	e.Err = fmt.Errorf("%s: %w", message, e.Err)
	return e
}

// NewError creates a new Error with the given operation and underlying error.
// The error code is derived from err.
func NewError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Code: Code(err),
		Err:  err,
	}
}

// NewObjectError creates a new Error with bucket and key context.
func NewObjectError(op, bucket, key string, err error) *Error {
	return NewError(op, err).WithBucket(bucket).WithKey(key)
}

// Sentinel errors for session failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrSessionEnded indicates the session already reached CLOSED or ABORTED
	ErrSessionEnded = errors.New("audiostream: session already ended")

	// ErrEmptyChunk indicates an empty chunk was pushed
	ErrEmptyChunk = errors.New("audiostream: empty chunk")

	// ErrChunkTooLarge indicates a chunk exceeds the maximum part size
	ErrChunkTooLarge = errors.New("audiostream: chunk exceeds maximum part size")

	// ErrPartLimit indicates the session reached the maximum number of parts
	ErrPartLimit = errors.New("audiostream: part limit reached")

	// ErrNoParts indicates a commit was requested without any uploaded part
	ErrNoParts = errors.New("audiostream: no parts uploaded")

	// ErrManifestCorrupt indicates the receipts are not contiguous from part 1
	ErrManifestCorrupt = errors.New("audiostream: part manifest is not contiguous")

	// ErrQueueFull indicates a non-blocking queue could not accept a chunk
	ErrQueueFull = errors.New("audiostream: upload queue full")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("audiostream: invalid input")

	// ErrInvalidBucketName indicates that the bucket name is invalid
	ErrInvalidBucketName = errors.New("audiostream: invalid bucket name")

	// ErrInvalidObjectKey indicates that the object key is invalid
	ErrInvalidObjectKey = errors.New("audiostream: invalid object key")

	// ErrInvalidParticipant indicates the participant or room cannot name a recording
	ErrInvalidParticipant = errors.New("audiostream: invalid participant")
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsSessionCreation reports whether err means a session could not be opened.
func IsSessionCreation(err error) bool {
	return KindOf(err) == KindSessionCreation
}

// IsPartUpload reports whether err is a failed part upload.
func IsPartUpload(err error) bool {
	return KindOf(err) == KindPartUpload
}

// IsCommit reports whether err is a failed final commit.
func IsCommit(err error) bool {
	return KindOf(err) == KindCommit
}

// IsSessionEnded reports whether err was caused by calling into an ended session.
func IsSessionEnded(err error) bool {
	return errors.Is(err, ErrSessionEnded)
}

// IsInvalidConfig checks if an error indicates an invalid configuration.
func IsInvalidConfig(err error) bool {
	return Code(err) == CodeInvalidConfig
}

// IsInvalidParticipant reports whether a session was refused because its
// participant or room cannot form a recording key.
func IsInvalidParticipant(err error) bool {
	return errors.Is(err, ErrInvalidParticipant)
}

// IsInvalidInput checks if an error indicates invalid input.
func IsInvalidInput(err error) bool {
	return Code(err) == CodeInvalidInput
}
