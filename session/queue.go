package session

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/validation"
)

// DefaultQueueSize is the number of chunks a Queue buffers by default.
const DefaultQueueSize = 64

// Queue decouples audio capture from part uploads. Chunks are copied on Push
// and uploaded by a single worker in push order.
//
// The first upload error aborts the session; it is returned by every later
// Push and by Finish. Chunks queued behind a failed one are dropped.
type Queue struct {
	session     *UploadSession
	ch          chan []byte
	group       *errgroup.Group
	ctx         context.Context
	nonBlocking bool

	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

// QueueOption configures a Queue.
type QueueOption func(*queueConfig)

type queueConfig struct {
	size        int
	nonBlocking bool
}

// WithQueueSize sets the buffer capacity.
func WithQueueSize(n int) QueueOption {
	return func(c *queueConfig) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithNonBlocking makes Push return errors.ErrQueueFull instead of waiting
// when the buffer is full.
func WithNonBlocking() QueueOption {
	return func(c *queueConfig) {
		c.nonBlocking = true
	}
}

// NewQueue starts a worker uploading to s. ctx bounds every upload made by
// the worker.
func NewQueue(ctx context.Context, s *UploadSession, opts ...QueueOption) *Queue {
	cfg := queueConfig{size: DefaultQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	group, gctx := errgroup.WithContext(ctx)
	q := &Queue{
		session:     s,
		ch:          make(chan []byte, cfg.size),
		group:       group,
		ctx:         gctx,
		nonBlocking: cfg.nonBlocking,
	}
	group.Go(q.run)
	return q
}

func (q *Queue) run() error {
	for chunk := range q.ch {
		if q.Err() != nil {
			continue
		}
		if err := q.session.PushChunk(q.ctx, chunk); err != nil {
			q.fail(err)
		}
	}
	return nil
}

func (q *Queue) fail(err error) {
	q.errMu.Lock()
	first := q.err == nil
	if first {
		q.err = err
	}
	q.errMu.Unlock()

	if first && !q.session.IsEnded() {
		if aerr := q.session.Abort(context.WithoutCancel(q.ctx)); aerr != nil {
			q.session.logger.Warn("failed to abort session after queue error",
				"session_key", q.session.Key(),
				"error", aerr)
		}
	}
}

// Err returns the first upload error, if any.
func (q *Queue) Err() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.err
}

// Push copies data and queues it for upload. It blocks while the buffer is
// full unless the queue is non-blocking.
func (q *Queue) Push(ctx context.Context, data []byte) error {
	if err := q.Err(); err != nil {
		return err
	}
	if err := validation.ValidateChunk(int64(len(data)), q.session.maxPartSize); err != nil {
		return q.session.stateError("push", err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return q.session.stateError("push", errors.ErrSessionEnded)
	}

	chunk := append([]byte(nil), data...)
	if q.nonBlocking {
		select {
		case q.ch <- chunk:
			return nil
		default:
			return q.session.stateError("push", errors.ErrQueueFull)
		}
	}

	select {
	case q.ch <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish waits for queued chunks to be uploaded, then finishes the session.
func (q *Queue) Finish(ctx context.Context) error {
	q.drain()
	if err := q.Err(); err != nil {
		return err
	}
	return q.session.Finish(ctx)
}

// Abort drops queued chunks that have not started uploading and aborts the
// session.
func (q *Queue) Abort(ctx context.Context) error {
	q.errMu.Lock()
	if q.err == nil {
		q.err = q.session.stateError("push", errors.ErrSessionEnded)
	}
	q.errMu.Unlock()

	q.drain()
	if q.session.IsEnded() {
		return nil
	}
	return q.session.Abort(ctx)
}

// Session returns the wrapped session.
func (q *Queue) Session() *UploadSession {
	return q.session
}

func (q *Queue) drain() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	_ = q.group.Wait()
}
