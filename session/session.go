package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/voxtrail/audiostream/errors"
	"github.com/voxtrail/audiostream/internal/validation"
	"github.com/voxtrail/audiostream/store"
)

// AbortTimeout bounds the best-effort Abort issued when a session fails. The
// abort is detached from the caller's context so a canceled push still
// discards the transfer.
const AbortTimeout = 30 * time.Second

// UploadSession uploads one participant's audio stream as a single object.
//
// PushChunk, Finish and Abort are serialized, so at most one part upload is
// in flight. Accessors such as Info and IsEnded never wait for the store or
// for listeners. The store handle is owned by the session and closed exactly
// once, when the session reaches CLOSED or ABORTED.
type UploadSession struct {
	// op serializes PushChunk, Finish and Abort for their whole duration,
	// store calls and notifications included. mu guards the fields below
	// and is only held to read or update them. Fields are written with
	// both locks held, so a goroutine holding op may read them without mu.
	op sync.Mutex
	mu sync.Mutex

	st          store.ObjectStore
	bucket      string
	key         string
	uploadID    string
	participant Participant
	startedAt   time.Time

	state    State
	nextPart int32
	receipts []store.Receipt
	bytes    int64
	released bool

	maxParts    int32
	maxPartSize int64
	retry       RetryPolicy
	clock       clockwork.Clock
	logger      *slog.Logger
	observers   []Observer
	listeners   []ChunkFunc
}

// PushChunk uploads data as the next part.
//
// Empty and oversized chunks are rejected and the session stays open, as it
// does when the part limit is reached. A store failure is retried according
// to the session's RetryPolicy; once retries are exhausted the session is
// aborted and an error of kind errors.KindPartUpload is returned.
//
// data is copied; the caller may reuse the buffer once PushChunk returns.
func (s *UploadSession) PushChunk(ctx context.Context, data []byte) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.state != StateOpen {
		return s.stateError("pushChunk", errors.ErrSessionEnded)
	}
	if err := validation.ValidateChunk(int64(len(data)), s.maxPartSize); err != nil {
		return s.stateError("pushChunk", err)
	}
	if s.nextPart > s.maxParts {
		return s.stateError("pushChunk", errors.ErrPartLimit).
			WithMessage(fmt.Sprintf("%d parts uploaded", len(s.receipts)))
	}

	part := store.Part{
		Bucket:     s.bucket,
		Key:        s.key,
		UploadID:   s.uploadID,
		PartNumber: s.nextPart,
		Data:       append([]byte(nil), data...),
	}

	start := s.clock.Now()
	receipt, attempts, err := s.uploadPart(ctx, part)
	if err != nil {
		s.logger.ErrorContext(ctx, "part upload failed, aborting session",
			"session_key", s.key,
			"upload_id", s.uploadID,
			"part", part.PartNumber,
			"attempts", attempts,
			"error", err)

		perr := kindError(errors.KindPartUpload, "uploadPart", s.bucket, s.key, err).WithPart(part.PartNumber)
		s.discard(ctx, perr)
		return perr
	}

	s.mu.Lock()
	s.receipts = append(s.receipts, receipt)
	s.nextPart++
	s.bytes += receipt.Size
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "part uploaded",
		"session_key", s.key,
		"part", receipt.PartNumber,
		"bytes", receipt.Size,
		"attempts", attempts)

	info := s.snapshot()
	for _, o := range s.observers {
		o.PartUploaded(info, receipt, attempts, s.clock.Since(start))
	}
	for _, fn := range s.listeners {
		fn(part.PartNumber, part.Data)
	}
	return nil
}

// uploadPart sends one part, retrying the same part number on transient
// failures. It returns the number of attempts made.
func (s *UploadSession) uploadPart(ctx context.Context, part store.Part) (store.Receipt, int, error) {
	maxAttempts := s.retry.attempts()

	for attempt := 1; ; attempt++ {
		receipt, err := s.st.UploadPart(ctx, part)
		if err == nil {
			receipt, err = checkReceipt(receipt, part)
		}
		if err == nil {
			return receipt, attempt, nil
		}

		if attempt >= maxAttempts || ctx.Err() != nil || !s.retry.Retryable(err) {
			return store.Receipt{}, attempt, err
		}

		s.logger.WarnContext(ctx, "retrying part upload",
			"session_key", s.key,
			"part", part.PartNumber,
			"attempt", attempt,
			"error", err)
		info := s.snapshot()
		for _, o := range s.observers {
			o.PartRetried(info, part.PartNumber, attempt, err)
		}

		if werr := s.wait(ctx, s.retry.Delay(attempt)); werr != nil {
			return store.Receipt{}, attempt, err
		}
	}
}

func (s *UploadSession) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

// Finish commits the object from the receipts collected so far and closes
// the session.
//
// A session without parts cannot be committed: the transfer is aborted and
// errors.ErrNoParts returned. If the store rejects the commit the transfer
// is aborted and an error of kind errors.KindCommit returned. Calling Finish
// on an ended session returns errors.ErrSessionEnded and sends nothing.
func (s *UploadSession) Finish(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.state != StateOpen {
		return s.stateError("finish", errors.ErrSessionEnded)
	}

	if len(s.receipts) == 0 {
		err := errors.NewObjectError("completeMultipartUpload", s.bucket, s.key, errors.ErrNoParts).
			WithKind(errors.KindCommit)
		s.discard(ctx, err)
		return err
	}

	s.setState(StateCompleting)
	manifest := append([]store.Receipt(nil), s.receipts...)

	if err := checkManifest(manifest); err != nil {
		cerr := errors.NewObjectError("completeMultipartUpload", s.bucket, s.key, err).WithKind(errors.KindCommit)
		s.discard(ctx, cerr)
		return cerr
	}

	if err := s.st.Complete(ctx, s.bucket, s.key, s.uploadID, manifest); err != nil {
		s.logger.ErrorContext(ctx, "commit failed, aborting session",
			"session_key", s.key,
			"upload_id", s.uploadID,
			"parts", len(manifest),
			"error", err)

		cerr := kindError(errors.KindCommit, "completeMultipartUpload", s.bucket, s.key, err)
		s.discard(ctx, cerr)
		return cerr
	}

	s.logger.InfoContext(ctx, "session committed",
		"session_key", s.key,
		"parts", len(manifest),
		"bytes", s.bytes)
	s.end(StateClosed, nil)
	return nil
}

// Abort discards the transfer and every part uploaded so far. The session
// is ABORTED even when the store fails to discard the transfer; that failure
// is returned with kind errors.KindAbort. Calling Abort on an ended session
// returns errors.ErrSessionEnded.
func (s *UploadSession) Abort(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()

	if s.state != StateOpen {
		return s.stateError("abort", errors.ErrSessionEnded)
	}

	var aerr error
	if err := s.st.Abort(ctx, s.bucket, s.key, s.uploadID); err != nil {
		aerr = kindError(errors.KindAbort, "abortMultipartUpload", s.bucket, s.key, err)
	}

	s.logger.InfoContext(ctx, "session aborted",
		"session_key", s.key,
		"parts", len(s.receipts))
	s.end(StateAborted, aerr)
	return aerr
}

// discard aborts the transfer after a failure and ends the session with
// cause. The abort is best effort.
func (s *UploadSession) discard(ctx context.Context, cause error) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), AbortTimeout)
	defer cancel()

	if err := s.st.Abort(actx, s.bucket, s.key, s.uploadID); err != nil {
		s.logger.WarnContext(ctx, "failed to abort transfer",
			"session_key", s.key,
			"upload_id", s.uploadID,
			"error", err)
	}
	s.end(StateAborted, cause)
}

// end performs the terminal transition: it records the state, releases the
// store handle and notifies observers.
func (s *UploadSession) end(state State, cause error) {
	s.setState(state)

	if !s.released {
		s.released = true
		if err := s.st.Close(); err != nil {
			s.logger.Warn("failed to close store handle",
				"session_key", s.key,
				"error", err)
		}
	}

	info := s.snapshot()
	for _, o := range s.observers {
		o.SessionEnded(info, cause)
	}
}

func (s *UploadSession) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// IsEnded reports whether the session is CLOSED or ABORTED.
func (s *UploadSession) IsEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Ended()
}

// State returns the current lifecycle state.
func (s *UploadSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key returns the object key. It never changes.
func (s *UploadSession) Key() string { return s.key }

// Bucket returns the destination bucket.
func (s *UploadSession) Bucket() string { return s.bucket }

// UploadID returns the store's transfer identifier. It never changes.
func (s *UploadSession) UploadID() string { return s.uploadID }

// Participant returns the participant's name.
func (s *UploadSession) Participant() string { return s.participant.Name }

// Room returns the room the participant is in.
func (s *UploadSession) Room() string { return s.participant.Room }

// StartedAt returns the time used in the object key.
func (s *UploadSession) StartedAt() time.Time { return s.startedAt }

// Receipts returns a copy of the receipts collected so far, in part order.
func (s *UploadSession) Receipts() []store.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.Receipt(nil), s.receipts...)
}

// NextPartNumber returns the part number the next chunk will be uploaded as.
func (s *UploadSession) NextPartNumber() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPart
}

// BytesUploaded returns the total size of the accepted parts.
func (s *UploadSession) BytesUploaded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// Info returns a snapshot of the session.
func (s *UploadSession) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// snapshot requires mu or op to be held.
func (s *UploadSession) snapshot() Info {
	return Info{
		Key:         s.key,
		Bucket:      s.bucket,
		UploadID:    s.uploadID,
		Room:        s.participant.Room,
		Participant: s.participant.Name,
		State:       s.state,
		Parts:       len(s.receipts),
		Bytes:       s.bytes,
		StartedAt:   s.startedAt,
	}
}

func (s *UploadSession) stateError(op string, err error) *errors.Error {
	return errors.NewObjectError(op, s.bucket, s.key, err).WithKind(errors.KindState)
}

// kindError tags err with kind, reusing the store's *errors.Error when err
// already is one.
func kindError(kind errors.Kind, op, bucket, key string, err error) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithKind(kind)
	}
	return errors.NewObjectError(op, bucket, key, err).WithKind(kind)
}

func checkReceipt(r store.Receipt, part store.Part) (store.Receipt, error) {
	if r.ETag == "" {
		return store.Receipt{}, fmt.Errorf("%w: receipt for part %d has no ETag", errors.ErrInvalidInput, part.PartNumber)
	}
	if r.PartNumber == 0 {
		r.PartNumber = part.PartNumber
	}
	if r.PartNumber != part.PartNumber {
		return store.Receipt{}, fmt.Errorf("%w: receipt for part %d names part %d",
			errors.ErrInvalidInput, part.PartNumber, r.PartNumber)
	}
	if r.Size == 0 {
		r.Size = int64(len(part.Data))
	}
	return r, nil
}

// checkManifest verifies that receipts number the parts 1..k without gaps.
func checkManifest(receipts []store.Receipt) error {
	for i, r := range receipts {
		if r.PartNumber != int32(i+1) {
			return fmt.Errorf("%w: position %d holds part %d", errors.ErrManifestCorrupt, i+1, r.PartNumber)
		}
	}
	return nil
}
