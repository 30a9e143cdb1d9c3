package session

import (
	"io"
	"time"

	"github.com/voxtrail/audiostream/store"
)

// Info is a point-in-time snapshot of a session.
type Info struct {
	Key         string    `json:"key"`
	Bucket      string    `json:"bucket"`
	UploadID    string    `json:"upload_id"`
	Room        string    `json:"room"`
	Participant string    `json:"participant"`
	State       State     `json:"state"`
	Parts       int       `json:"parts"`
	Bytes       int64     `json:"bytes"`
	StartedAt   time.Time `json:"started_at"`
}

// Observer receives session lifecycle events. Callbacks run synchronously on
// the goroutine driving the session, outside the lock that guards its state.
// They may read the session through Info or IsEnded but must not call
// PushChunk, Finish or Abort on it.
type Observer interface {
	// SessionOpened is called once a transfer has been initiated.
	SessionOpened(info Info)

	// SessionOpenFailed is called when a session could not be created.
	SessionOpenFailed(p Participant, err error)

	// PartUploaded is called for every accepted part.
	PartUploaded(info Info, receipt store.Receipt, attempts int, elapsed time.Duration)

	// PartRetried is called before a failed part is attempted again.
	PartRetried(info Info, partNumber int32, attempt int, err error)

	// SessionEnded is called once, on the terminal transition. err is nil
	// for a committed object and for an explicit abort that succeeded.
	SessionEnded(info Info, err error)
}

// NopObserver implements Observer with no-op methods. Embed it to implement
// only the callbacks of interest.
type NopObserver struct{}

func (NopObserver) SessionOpened(Info)                                   {}
func (NopObserver) SessionOpenFailed(Participant, error)                 {}
func (NopObserver) PartUploaded(Info, store.Receipt, int, time.Duration) {}
func (NopObserver) PartRetried(Info, int32, int, error)                  {}
func (NopObserver) SessionEnded(Info, error)                             {}

// ChunkFunc receives every accepted chunk in part order, after the store has
// acknowledged it. data is the session's private copy of the chunk. A slow
// ChunkFunc delays the next PushChunk but not readers of the session's state.
type ChunkFunc func(partNumber int32, data []byte)

// Tee returns a ChunkFunc that writes accepted audio to w, for example a
// pipe feeding a transcription consumer. Write errors are reported to onErr
// when it is not nil; they never affect the upload.
func Tee(w io.Writer, onErr func(error)) ChunkFunc {
	return func(_ int32, data []byte) {
		if _, err := w.Write(data); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
