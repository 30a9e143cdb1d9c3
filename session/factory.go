package session

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jonboulle/clockwork"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/validation"
	"github.com/voxtrail/audiostream/store"
)

// DefaultContentType is the content type of recordings when none is configured.
const DefaultContentType = "audio/flac"

// Participant identifies whose audio a session records.
type Participant struct {
	Name string
	Room string
}

// Factory opens upload sessions. It is safe for concurrent use; sessions
// it opens share no state.
type Factory struct {
	opener       store.Opener
	bucket       string
	basePath     string
	contentType  string
	extension    string
	storageClass string
	metadata     map[string]string
	location     *time.Location

	maxParts    int32
	maxPartSize int64
	retry       RetryPolicy
	clock       clockwork.Clock
	logger      *slog.Logger
	observers   []Observer
}

// Option configures a Factory.
type Option func(*Factory)

// WithBasePath sets the key prefix placed before the room segment.
func WithBasePath(basePath string) Option {
	return func(f *Factory) {
		f.basePath = basePath
	}
}

// WithContentType sets the content type of recordings. Unless WithExtension
// is also given, the key extension is derived from it.
func WithContentType(contentType string) Option {
	return func(f *Factory) {
		f.contentType = contentType
	}
}

// WithExtension overrides the key extension derived from the content type.
func WithExtension(ext string) Option {
	return func(f *Factory) {
		f.extension = strings.TrimPrefix(ext, ".")
	}
}

// WithStorageClass sets the storage class of committed objects.
func WithStorageClass(class string) Option {
	return func(f *Factory) {
		f.storageClass = class
	}
}

// WithMetadata adds user metadata to every object. The participant and room
// are always recorded.
func WithMetadata(md map[string]string) Option {
	return func(f *Factory) {
		for k, v := range md {
			f.metadata[k] = v
		}
	}
}

// WithLocation sets the time zone of the key timestamp. Default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(f *Factory) {
		if loc != nil {
			f.location = loc
		}
	}
}

// WithMaxParts lowers the part limit of a session. Values outside
// 1..store.MaxParts are ignored.
func WithMaxParts(n int) Option {
	return func(f *Factory) {
		if n > 0 && n <= store.MaxParts {
			f.maxParts = int32(n)
		}
	}
}

// WithMaxPartSize lowers the largest chunk a session accepts. Values outside
// 1..store.MaxPartSize are ignored.
func WithMaxPartSize(size int64) Option {
	return func(f *Factory) {
		if size > 0 && size <= store.MaxPartSize {
			f.maxPartSize = size
		}
	}
}

// WithRetryPolicy sets the part retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(f *Factory) {
		f.retry = p
	}
}

// WithClock sets the clock used for key timestamps and retry backoff.
func WithClock(clock clockwork.Clock) Option {
	return func(f *Factory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithLogger sets the logger. If logger is nil, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithObserver registers an observer on every session.
func WithObserver(o Observer) Option {
	return func(f *Factory) {
		if o != nil {
			f.observers = append(f.observers, o)
		}
	}
}

// NewFactory creates a factory storing recordings in bucket. Each session
// obtains its own store handle from opener.
func NewFactory(opener store.Opener, bucket string, opts ...Option) (*Factory, error) {
	f := &Factory{
		opener:      opener,
		bucket:      bucket,
		contentType: DefaultContentType,
		metadata:    make(map[string]string),
		location:    time.UTC,
		maxParts:    store.MaxParts,
		maxPartSize: store.MaxPartSize,
		retry:       DefaultRetryPolicy(),
		clock:       clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.New(slog.DiscardHandler)
	}

	if opener == nil {
		return nil, errors.NewError("newFactory", errors.ErrInvalidInput).WithMessage("store opener cannot be nil")
	}
	if err := validation.ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if err := validation.ValidateContentType(f.contentType); err != nil {
		return nil, err
	}
	if err := validation.ValidateMetadata(f.metadata); err != nil {
		return nil, err
	}
	if f.extension == "" {
		ext, err := ExtensionFor(f.contentType)
		if err != nil {
			return nil, err
		}
		f.extension = ext
	}

	return f, nil
}

// ExtensionFor returns the file extension, without the dot, registered for
// contentType.
func ExtensionFor(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", errors.NewError("extensionFor", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("invalid content type %q", contentType))
	}
	mt := mimetype.Lookup(mediaType)
	if mt == nil || mt.Extension() == "" {
		return "", errors.NewError("extensionFor", errors.ErrInvalidInput).
			WithMessage(fmt.Sprintf("no extension known for %q, set one explicitly", mediaType))
	}
	return strings.TrimPrefix(mt.Extension(), "."), nil
}

// Open starts a session for p: it builds the object key, obtains a store
// handle and initiates the multipart transfer.
//
// Any failure returns an error of kind errors.KindSessionCreation, which
// callers treat as streaming being unavailable. No handle is leaked.
func (f *Factory) Open(ctx context.Context, p Participant, opts ...SessionOption) (*UploadSession, error) {
	s, err := f.open(ctx, p, opts)
	if err != nil {
		f.logger.ErrorContext(ctx, "failed to open session",
			"room", p.Room,
			"participant", p.Name,
			"error", err)
		for _, o := range f.observers {
			o.SessionOpenFailed(p, err)
		}
		return nil, err
	}

	f.logger.InfoContext(ctx, "session opened",
		"session_key", s.key,
		"upload_id", s.uploadID)
	info := s.Info()
	for _, o := range s.observers {
		o.SessionOpened(info)
	}
	return s, nil
}

func (f *Factory) open(ctx context.Context, p Participant, opts []SessionOption) (*UploadSession, error) {
	if err := validation.ValidateKeySegment("room", p.Room); err != nil {
		return nil, participantError(f.bucket, "", err)
	}
	if err := validation.ValidateKeySegment("participant", p.Name); err != nil {
		return nil, participantError(f.bucket, "", err)
	}

	startedAt := f.clock.Now()
	key := BuildKey(f.basePath, p.Room, p.Name, f.extension, startedAt.In(f.location))
	if err := validation.ValidateObjectKey(key); err != nil {
		return nil, participantError(f.bucket, key, err)
	}

	st, err := f.opener(ctx)
	if err != nil {
		return nil, creationError(f.bucket, key, err)
	}

	uploadID, err := st.Begin(ctx, f.bucket, key, store.BeginOptions{
		ContentType:  f.contentType,
		Metadata:     f.objectMetadata(p),
		StorageClass: f.storageClass,
	})
	if err != nil {
		if cerr := st.Close(); cerr != nil {
			f.logger.WarnContext(ctx, "failed to close store handle", "error", cerr)
		}
		return nil, creationError(f.bucket, key, err)
	}

	s := &UploadSession{
		st:          st,
		bucket:      f.bucket,
		key:         key,
		uploadID:    uploadID,
		participant: p,
		startedAt:   startedAt,
		state:       StateOpen,
		nextPart:    1,
		maxParts:    f.maxParts,
		maxPartSize: f.maxPartSize,
		retry:       f.retry,
		clock:       f.clock,
		logger:      f.logger,
		observers:   append([]Observer(nil), f.observers...),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (f *Factory) objectMetadata(p Participant) map[string]string {
	md := make(map[string]string, len(f.metadata)+2)
	for k, v := range f.metadata {
		md[k] = v
	}
	md["participant"] = p.Name
	md["room"] = p.Room
	return validation.SanitizeMetadata(md)
}

func creationError(bucket, key string, err error) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithKind(errors.KindSessionCreation)
	}
	return errors.NewObjectError("openSession", bucket, key, err).WithKind(errors.KindSessionCreation)
}

// participantError marks a creation failure caused by the caller's
// participant or room rather than by the store.
func participantError(bucket, key string, err error) *errors.Error {
	return errors.NewObjectError("openSession", bucket, key, fmt.Errorf("%w: %w", errors.ErrInvalidParticipant, err)).
		WithKind(errors.KindSessionCreation).
		WithCode(errors.CodeInvalidInput)
}

// SupportsStreaming reports that audio can be pushed incrementally.
func (f *Factory) SupportsStreaming() bool { return true }

// SupportsFragments reports that audio arrives as independent fragments of
// arbitrary size.
func (f *Factory) SupportsFragments() bool { return true }

// IsConfigured reports whether the factory has a store and a bucket.
func (f *Factory) IsConfigured() bool {
	return f != nil && f.opener != nil && f.bucket != ""
}

// Bucket returns the destination bucket.
func (f *Factory) Bucket() string { return f.bucket }

// ContentType returns the content type of recordings.
func (f *Factory) ContentType() string { return f.contentType }

// Extension returns the key extension, without the dot.
func (f *Factory) Extension() string { return f.extension }

// SessionOption configures a single session.
type SessionOption func(*UploadSession)

// WithChunkListener forwards every accepted chunk of the session to fn.
func WithChunkListener(fn ChunkFunc) SessionOption {
	return func(s *UploadSession) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// WithSessionObserver registers an observer on this session only.
func WithSessionObserver(o Observer) SessionOption {
	return func(s *UploadSession) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}
