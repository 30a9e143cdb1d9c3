package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxtrail/audiostream/config"
	"github.com/voxtrail/audiostream/internal/testutil"
	"github.com/voxtrail/audiostream/session"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeyCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{
			name: "flac default",
			args: []string{"--base-path", "transcripts", "--room", "standup", "--participant", "alice", "--at", "2024-03-01T10:00:00Z"},
			want: "transcripts/standup/2024-03-01-10-00-00_alice.flac\n",
		},
		{
			name: "content type",
			args: []string{"--room", "standup", "--participant", "bob", "--content-type", "audio/mpeg", "--at", "2024-03-01T10:00:05Z"},
			want: "standup/2024-03-01-10-00-05_bob.mp3\n",
		},
		{
			name: "explicit extension",
			args: []string{"--room", "r", "--participant", "p", "--extension", ".opus", "--at", "2024-03-01T10:00:00Z"},
			want: "r/2024-03-01-10-00-00_p.opus\n",
		},
		{
			name:    "missing room",
			args:    []string{"--participant", "p"},
			wantErr: true,
		},
		{
			name:    "bad time",
			args:    []string{"--room", "r", "--participant", "p", "--at", "yesterday"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"key"}, tt.args...)...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestUploadCommand_MemoryBackend(t *testing.T) {
	t.Setenv("AUDIOSTREAM_STORE_BACKEND", "memory")
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "recordings")
	t.Setenv("AUDIOSTREAM_SESSION_BASE_PATH", "transcripts")
	t.Setenv("AUDIOSTREAM_LOG_LEVEL", "error")

	dir := t.TempDir()
	audio := append([]byte("fLaC"), testutil.GenerateRandomData(2500)...)
	input := filepath.Join(dir, "meeting.flac")
	require.NoError(t, os.WriteFile(input, audio, 0o600))
	teePath := filepath.Join(dir, "copy.flac")

	out, err := run(t, "upload", input,
		"--env-file", filepath.Join(dir, "none.env"),
		"--room", "standup",
		"--participant", "alice",
		"--chunk-size", "1000",
		"--tee", teePath,
	)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "recordings/transcripts/standup/"), out)
	assert.Contains(t, out, "_alice.flac\t3 parts\t2504 bytes")

	copied, err := os.ReadFile(teePath)
	require.NoError(t, err)
	assert.Equal(t, audio, copied)
}

func TestUploadCommand_Mirror(t *testing.T) {
	dir := t.TempDir()
	mirrorDir := filepath.Join(dir, "mirror")
	t.Setenv("AUDIOSTREAM_STORE_BACKEND", "memory")
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "recordings")
	t.Setenv("AUDIOSTREAM_SESSION_MIRROR_DIR", mirrorDir)
	t.Setenv("AUDIOSTREAM_LOG_LEVEL", "error")

	audio := testutil.GenerateRandomData(1500)
	input := filepath.Join(dir, "meeting.raw")
	require.NoError(t, os.WriteFile(input, audio, 0o600))

	out, err := run(t, "upload", input,
		"--env-file", filepath.Join(dir, "none.env"),
		"--room", "standup",
		"--participant", "alice",
		"--content-type", "audio/flac",
		"--chunk-size", "1000",
	)
	require.NoError(t, err)

	key := strings.TrimPrefix(strings.SplitN(out, "\t", 2)[0], "recordings/")
	copied, err := os.ReadFile(filepath.Join(mirrorDir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, audio, copied)
}

func TestUploadCommand_RejectsNonAudio(t *testing.T) {
	t.Setenv("AUDIOSTREAM_STORE_BACKEND", "memory")
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "recordings")

	dir := t.TempDir()
	input := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(input, []byte("just some meeting notes\n"), 0o600))

	_, err := run(t, "upload", input, "--env-file", filepath.Join(dir, "none.env"), "--room", "r", "--participant", "p")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not look like audio")
}

func TestUploadCommand_InvalidConfig(t *testing.T) {
	t.Setenv("AUDIOSTREAM_STORE_BUCKET", "")
	dir := t.TempDir()

	_, err := run(t, "upload", "-", "--env-file", filepath.Join(dir, "none.env"), "--room", "r", "--participant", "p")

	assert.Error(t, err)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestStream(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	open := func(t *testing.T) (*testutil.MockObjectStore, *session.Queue) {
		t.Helper()
		mock := &testutil.MockObjectStore{}
		factory, err := session.NewFactory(mock.Opener(), "recordings", session.WithRetryPolicy(session.NoRetry()))
		require.NoError(t, err)
		s, err := factory.Open(ctx, session.Participant{Name: "alice", Room: "standup"})
		require.NoError(t, err)
		return mock, session.NewQueue(ctx, s)
	}

	t.Run("chunks and commits", func(t *testing.T) {
		mock, q := open(t)

		err := stream(ctx, q, bytes.NewReader(testutil.GenerateRandomData(25)), 10, logger)

		require.NoError(t, err)
		parts := mock.Parts()
		require.Len(t, parts, 3)
		assert.Len(t, parts[0].Data, 10)
		assert.Len(t, parts[2].Data, 5)
		assert.Equal(t, 1, mock.Count("complete"))
		assert.Equal(t, session.StateClosed, q.Session().State())
	})

	t.Run("read error aborts", func(t *testing.T) {
		mock, q := open(t)
		cause := errors.New("device unplugged")

		err := stream(ctx, q, &failingReader{data: []byte("0123456789ab"), err: cause}, 10, logger)

		require.ErrorIs(t, err, cause)
		assert.Equal(t, 0, mock.Count("complete"))
		assert.Equal(t, 1, mock.Count("abort"))
		assert.Equal(t, session.StateAborted, q.Session().State())
	})

	t.Run("empty input", func(t *testing.T) {
		mock, q := open(t)

		err := stream(ctx, q, bytes.NewReader(nil), 10, logger)

		require.Error(t, err, "an object needs at least one part")
		assert.Equal(t, 1, mock.Count("abort"))
	})
}

func TestNewOpener(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	tests := []struct {
		name    string
		cfg     config.StoreConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.StoreConfig{Backend: config.BackendMemory, Bucket: "recordings"}},
		{
			name: "s3 static keys",
			cfg: config.StoreConfig{
				Backend: config.BackendS3, Bucket: "recordings", Region: "us-east-1",
				AccessKeyID: "AKID", SecretAccessKey: "SECRET",
			},
		},
		{
			name: "minio",
			cfg: config.StoreConfig{
				Backend: config.BackendMinIO, Bucket: "recordings", Endpoint: "localhost:9000",
				AccessKeyID: "minio", SecretAccessKey: "minio123",
			},
		},
		{name: "unknown", cfg: config.StoreConfig{Backend: "gcs"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener, err := newOpener(ctx, tt.cfg, logger)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			st, err := opener(ctx)
			require.NoError(t, err)
			assert.NoError(t, st.Close())
		})
	}
}

func TestFactoryOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Bucket = "recordings"
	cfg.Session.ContentType = "audio/wav"
	cfg.Session.Extension = "wave"

	factory, err := session.NewFactory((&testutil.MockObjectStore{}).Opener(), cfg.Store.Bucket,
		factoryOptions(cfg, slog.New(slog.DiscardHandler))...)
	require.NoError(t, err)

	assert.Equal(t, "audio/wav", factory.ContentType())
	assert.Equal(t, "wave", factory.Extension())
}

var _ io.Reader = (*failingReader)(nil)
