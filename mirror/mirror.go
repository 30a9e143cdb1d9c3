// Package mirror keeps a local copy of each recording, stored under the same
// key as the uploaded object.
//
// A Mirror writes through a billy.Filesystem, so the copy can live on disk
// (NewDir) or in memory for tests. Each session gets its own Recording, which
// observes the session lifecycle and receives every accepted chunk:
//
//	s, err := factory.Open(ctx, p, m.SessionOptions()...)
package mirror

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/voxtrail/audiostream/session"
)

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger. Write failures are logged, never returned to
// the upload.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mirror) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithKeepAborted keeps the local copy of sessions that end ABORTED. By
// default it is removed.
func WithKeepAborted(keep bool) Option {
	return func(m *Mirror) {
		m.keepAborted = keep
	}
}

// Mirror creates Recordings on a filesystem.
type Mirror struct {
	fs          billy.Filesystem
	logger      *slog.Logger
	keepAborted bool
}

// New returns a Mirror writing to fs.
func New(fs billy.Filesystem, opts ...Option) *Mirror {
	m := &Mirror{
		fs:     fs,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewDir returns a Mirror rooted at dir on the local disk.
func NewDir(dir string, opts ...Option) *Mirror {
	return New(osfs.New(dir), opts...)
}

// Filesystem returns the underlying filesystem.
//
//nolint:ireturn // callers inspect the copies through billy.
func (m *Mirror) Filesystem() billy.Filesystem {
	return m.fs
}

// Recording returns a Recording for one session. It must be registered both
// as a session observer and as a chunk listener; SessionOptions does both.
func (m *Mirror) Recording() *Recording {
	return &Recording{m: m}
}

// SessionOptions returns the options wiring a new Recording into a session.
func (m *Mirror) SessionOptions() []session.SessionOption {
	rec := m.Recording()
	return []session.SessionOption{
		session.WithSessionObserver(rec),
		session.WithChunkListener(rec.WriteChunk),
	}
}

// Recording is the local copy of one session.
type Recording struct {
	session.NopObserver

	m *Mirror

	mu    sync.Mutex
	key   string
	file  billy.File
	bytes int64
	err   error
}

var _ session.Observer = (*Recording)(nil)

// SessionOpened creates the file at the session's key.
func (r *Recording) SessionOpened(info session.Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.key = info.Key
	if err := r.m.fs.MkdirAll(path.Dir(info.Key), 0o755); err != nil {
		r.setErr(fmt.Errorf("mirror: mkdir %q: %w", path.Dir(info.Key), err))
		return
	}
	f, err := r.m.fs.Create(info.Key)
	if err != nil {
		r.setErr(fmt.Errorf("mirror: create %q: %w", info.Key, err))
		return
	}
	r.file = f
}

// WriteChunk appends an accepted chunk. It is a session.ChunkFunc.
func (r *Recording) WriteChunk(partNumber int32, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil || r.err != nil {
		return
	}
	n, err := r.file.Write(data)
	r.bytes += int64(n)
	if err != nil {
		r.setErr(fmt.Errorf("mirror: write part %d of %q: %w", partNumber, r.key, err))
	}
}

// SessionEnded closes the file. The copy of an aborted session is removed
// unless the Mirror keeps aborted recordings.
func (r *Recording) SessionEnded(info session.Info, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		r.setErr(fmt.Errorf("mirror: close %q: %w", r.key, err))
	}
	r.file = nil

	if info.State == session.StateAborted && !r.m.keepAborted {
		if err := r.m.fs.Remove(r.key); err != nil && !os.IsNotExist(err) {
			r.setErr(fmt.Errorf("mirror: remove %q: %w", r.key, err))
		}
	}
}

// Key returns the path of the copy, empty before the session opened.
func (r *Recording) Key() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key
}

// Bytes returns how many bytes were written to the copy.
func (r *Recording) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Err returns the first error writing the copy. Once set, later chunks are
// not written.
func (r *Recording) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recording) setErr(err error) {
	if r.err == nil {
		r.err = err
	}
	r.m.logger.Warn("failed to write local copy", "session_key", r.key, "error", err)
}
