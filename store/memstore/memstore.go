// Package memstore provides an in-memory multipart object store for testing
// and local development. Objects live only as long as the Backend.
//
// The backend follows S3 semantics closely enough for sessions to be tested
// end to end: upload IDs are opaque, parts are addressed by number, a commit
// must reference every stored part by ETag in ascending order, and an aborted
// or committed transfer cannot be used again.
package memstore

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/voxtrail/audiostream/store"
)

// Op names a store operation for fault injection.
type Op string

// Operations that can be made to fail with Inject.
const (
	OpBegin    Op = "begin"
	OpPart     Op = "uploadPart"
	OpComplete Op = "complete"
	OpAbort    Op = "abort"
)

// Object is a committed object.
type Object struct {
	Bucket      string
	Key         string
	Data        []byte
	ContentType string
	Metadata    map[string]string
	Parts       int
}

type upload struct {
	bucket string
	key    string
	opts   store.BeginOptions
	parts  map[int32]storedPart
}

type storedPart struct {
	etag string
	data []byte
}

type fault struct {
	err   error
	times int
}

// Backend is the shared in-memory state. Sessions obtain their own handle
// through Opener; closing a handle does not discard stored data.
type Backend struct {
	mu      sync.RWMutex
	buckets map[string]bool
	uploads map[string]*upload
	objects map[string]Object
	faults  map[Op]*fault
}

// Option configures a Backend.
type Option func(*Backend)

// WithBuckets restricts the backend to the named buckets. Without it every
// bucket name is accepted.
func WithBuckets(names ...string) Option {
	return func(b *Backend) {
		if b.buckets == nil {
			b.buckets = make(map[string]bool)
		}
		for _, n := range names {
			b.buckets[n] = true
		}
	}
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		uploads: make(map[string]*upload),
		objects: make(map[string]Object),
		faults:  make(map[Op]*fault),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Opener returns a store.Opener yielding a fresh handle on this backend.
func (b *Backend) Opener() store.Opener {
	return func(context.Context) (store.ObjectStore, error) {
		return b.Open(), nil
	}
}

// Open returns a new handle.
func (b *Backend) Open() *Handle {
	return &Handle{backend: b}
}

// Inject makes the next times calls of op fail with err.
func (b *Backend) Inject(op Op, err error, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[op] = &fault{err: err, times: times}
}

// Object returns the committed object at bucket/key.
func (b *Backend) Object(bucket, key string) (Object, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[objectID(bucket, key)]
	if !ok {
		return Object{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, true
}

// Keys returns the keys of all committed objects in bucket, sorted.
func (b *Backend) Keys(bucket string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var keys []string
	for _, obj := range b.objects {
		if obj.Bucket == bucket {
			keys = append(keys, obj.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// PendingUploads returns the number of transfers neither committed nor aborted.
func (b *Backend) PendingUploads() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.uploads)
}

func (b *Backend) takeFault(op Op) error {
	f, ok := b.faults[op]
	if !ok || f.times <= 0 {
		return nil
	}
	f.times--
	if f.times == 0 {
		delete(b.faults, op)
	}
	return f.err
}

func (b *Backend) checkBucket(bucket string) error {
	if b.buckets != nil && !b.buckets[bucket] {
		return apiError("NoSuchBucket", fmt.Sprintf("bucket %q does not exist", bucket))
	}
	return nil
}

func (b *Backend) lookup(bucket, key, uploadID string) (*upload, error) {
	up, ok := b.uploads[uploadID]
	if !ok || up.bucket != bucket || up.key != key {
		return nil, apiError("NoSuchUpload", fmt.Sprintf("upload %q does not exist", uploadID))
	}
	return up, nil
}

// Handle is a per-session view of a Backend.
type Handle struct {
	backend *Backend

	mu     sync.Mutex
	closed bool
}

// Begin creates a new transfer.
func (h *Handle) Begin(ctx context.Context, bucket, key string, opts store.BeginOptions) (string, error) {
	if err := h.check(ctx); err != nil {
		return "", err
	}

	b := h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFault(OpBegin); err != nil {
		return "", err
	}
	if err := b.checkBucket(bucket); err != nil {
		return "", err
	}

	id := uuid.NewString()
	md := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		md[k] = v
	}
	opts.Metadata = md

	b.uploads[id] = &upload{
		bucket: bucket,
		key:    key,
		opts:   opts,
		parts:  make(map[int32]storedPart),
	}
	return id, nil
}

// UploadPart stores a copy of the part. Re-uploading a part number replaces it.
func (h *Handle) UploadPart(ctx context.Context, part store.Part) (store.Receipt, error) {
	if err := h.check(ctx); err != nil {
		return store.Receipt{}, err
	}
	if part.PartNumber < 1 || part.PartNumber > store.MaxParts {
		return store.Receipt{}, apiError("InvalidArgument", fmt.Sprintf("part number %d out of range", part.PartNumber))
	}

	b := h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFault(OpPart); err != nil {
		return store.Receipt{}, err
	}
	up, err := b.lookup(part.Bucket, part.Key, part.UploadID)
	if err != nil {
		return store.Receipt{}, err
	}

	data := append([]byte(nil), part.Data...)
	etag := fmt.Sprintf(`"%x"`, md5.Sum(data))
	up.parts[part.PartNumber] = storedPart{etag: etag, data: data}

	return store.Receipt{
		PartNumber: part.PartNumber,
		ETag:       etag,
		Size:       int64(len(data)),
	}, nil
}

// Complete assembles the object from the referenced parts.
func (h *Handle) Complete(ctx context.Context, bucket, key, uploadID string, receipts []store.Receipt) error {
	if err := h.check(ctx); err != nil {
		return err
	}

	b := h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFault(OpComplete); err != nil {
		return err
	}
	up, err := b.lookup(bucket, key, uploadID)
	if err != nil {
		return err
	}
	if len(receipts) == 0 {
		return apiError("MalformedXML", "manifest lists no parts")
	}

	var data []byte
	prev := int32(0)
	for _, r := range receipts {
		if r.PartNumber <= prev {
			return apiError("InvalidPartOrder", "parts must be listed in ascending order")
		}
		prev = r.PartNumber

		sp, ok := up.parts[r.PartNumber]
		if !ok || sp.etag != r.ETag {
			return apiError("InvalidPart", fmt.Sprintf("part %d not found or ETag mismatch", r.PartNumber))
		}
		data = append(data, sp.data...)
	}

	b.objects[objectID(bucket, key)] = Object{
		Bucket:      bucket,
		Key:         key,
		Data:        data,
		ContentType: up.opts.ContentType,
		Metadata:    up.opts.Metadata,
		Parts:       len(receipts),
	}
	delete(b.uploads, uploadID)
	return nil
}

// Abort discards the transfer and its parts.
func (h *Handle) Abort(ctx context.Context, bucket, key, uploadID string) error {
	if err := h.check(ctx); err != nil {
		return err
	}

	b := h.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFault(OpAbort); err != nil {
		return err
	}
	if _, err := b.lookup(bucket, key, uploadID); err != nil {
		return err
	}
	delete(b.uploads, uploadID)
	return nil
}

// Close marks the handle closed. Stored data is kept by the backend.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return store.ErrClosed
	}
	h.closed = true
	return nil
}

func (h *Handle) check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return store.ErrClosed
	}
	return nil
}

func apiError(code, message string) error {
	return &smithy.GenericAPIError{Code: code, Message: message, Fault: smithy.FaultClient}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

var _ store.ObjectStore = (*Handle)(nil)
