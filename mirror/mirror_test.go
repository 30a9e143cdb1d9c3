package mirror

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxtrail/audiostream/session"
	"github.com/voxtrail/audiostream/store/memstore"
)

var startedAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newFactory(t *testing.T, backend *memstore.Backend) *session.Factory {
	t.Helper()
	factory, err := session.NewFactory(backend.Opener(), "recordings",
		session.WithBasePath("transcripts"),
		session.WithClock(clockwork.NewFakeClockAt(startedAt)),
		session.WithRetryPolicy(session.NoRetry()),
	)
	require.NoError(t, err)
	return factory
}

func TestMirror_CommittedSession(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	m := New(memfs.New())

	rec := m.Recording()
	s, err := newFactory(t, backend).Open(ctx, session.Participant{Name: "alice", Room: "standup"},
		session.WithSessionObserver(rec),
		session.WithChunkListener(rec.WriteChunk),
	)
	require.NoError(t, err)

	const key = "transcripts/standup/2024-03-01-10-00-00_alice.flac"
	assert.Equal(t, key, rec.Key())

	for _, chunk := range []string{"fLaC", "-frame-1", "-frame-2"} {
		require.NoError(t, s.PushChunk(ctx, []byte(chunk)))
	}
	require.NoError(t, s.Finish(ctx))

	got, err := util.ReadFile(m.Filesystem(), key)
	require.NoError(t, err)
	assert.Equal(t, "fLaC-frame-1-frame-2", string(got))
	assert.Equal(t, int64(len(got)), rec.Bytes())
	assert.NoError(t, rec.Err())

	obj, ok := backend.Object("recordings", key)
	require.True(t, ok)
	assert.Equal(t, got, obj.Data)
}

func TestMirror_AbortedSession(t *testing.T) {
	tests := []struct {
		name        string
		keepAborted bool
		wantFile    bool
	}{
		{name: "removed by default", keepAborted: false, wantFile: false},
		{name: "kept", keepAborted: true, wantFile: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			backend := memstore.New()
			m := New(memfs.New(), WithKeepAborted(tt.keepAborted))

			s, err := newFactory(t, backend).Open(ctx, session.Participant{Name: "bob", Room: "standup"}, m.SessionOptions()...)
			require.NoError(t, err)

			require.NoError(t, s.PushChunk(ctx, []byte("first")))
			backend.Inject(memstore.OpPart, &smithy.GenericAPIError{Code: "AccessDenied"}, 1)
			require.Error(t, s.PushChunk(ctx, []byte("second")))
			assert.Equal(t, session.StateAborted, s.State())

			data, err := util.ReadFile(m.Filesystem(), s.Key())
			if !tt.wantFile {
				assert.True(t, os.IsNotExist(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "first", string(data))
		})
	}
}

func TestMirror_SessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	m := New(memfs.New())
	factory := newFactory(t, backend)

	a, err := factory.Open(ctx, session.Participant{Name: "alice", Room: "standup"}, m.SessionOptions()...)
	require.NoError(t, err)
	b, err := factory.Open(ctx, session.Participant{Name: "bob", Room: "standup"}, m.SessionOptions()...)
	require.NoError(t, err)

	require.NoError(t, a.PushChunk(ctx, []byte("aaa")))
	require.NoError(t, b.PushChunk(ctx, []byte("bb")))
	require.NoError(t, a.PushChunk(ctx, []byte("a")))
	require.NoError(t, a.Finish(ctx))
	require.NoError(t, b.Finish(ctx))

	got, err := util.ReadFile(m.Filesystem(), a.Key())
	require.NoError(t, err)
	assert.Equal(t, "aaaa", string(got))

	got, err = util.ReadFile(m.Filesystem(), b.Key())
	require.NoError(t, err)
	assert.Equal(t, "bb", string(got))
}

func TestMirror_NewDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m := NewDir(dir)

	s, err := newFactory(t, memstore.New()).Open(ctx, session.Participant{Name: "alice", Room: "standup"}, m.SessionOptions()...)
	require.NoError(t, err)
	require.NoError(t, s.PushChunk(ctx, []byte("audio")))
	require.NoError(t, s.Finish(ctx))

	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(s.Key())))
	require.NoError(t, err)
	assert.Equal(t, "audio", string(got))
}

func TestRecording_WriteBeforeOpen(t *testing.T) {
	rec := New(memfs.New()).Recording()

	rec.WriteChunk(1, []byte("ignored"))
	rec.SessionEnded(session.Info{State: session.StateClosed}, nil)

	assert.Zero(t, rec.Bytes())
	assert.NoError(t, rec.Err())
	assert.Empty(t, rec.Key())
}
