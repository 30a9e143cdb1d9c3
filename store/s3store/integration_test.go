//go:build integration

package s3store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxtrail/audiostream/internal/testutil"
	"github.com/voxtrail/audiostream/session"
	"github.com/voxtrail/audiostream/store"
	"github.com/voxtrail/audiostream/store/s3store"
)

func TestIntegrationMultipart(t *testing.T) {
	ls := testutil.StartLocalStack(t)
	ctx := context.Background()

	open := s3store.Opener(
		s3store.WithRegion(ls.Region),
		s3store.WithEndpoint(ls.Endpoint),
		s3store.WithForcePathStyle(true),
		s3store.WithStaticCredentials(testutil.LocalStackAccessKey, testutil.LocalStackSecretKey, ""),
	)

	t.Run("complete", func(t *testing.T) {
		st, err := open(ctx)
		require.NoError(t, err)
		defer st.Close()

		key := testutil.GenerateTestKey("complete")
		id, err := st.Begin(ctx, ls.Bucket, key, store.BeginOptions{ContentType: "audio/flac"})
		require.NoError(t, err)

		// S3 requires every part but the last to be at least 5 MiB.
		chunks := testutil.GenerateChunks(5<<20, 1024)
		var receipts []store.Receipt
		for i, c := range chunks {
			r, err := st.UploadPart(ctx, store.Part{
				Bucket: ls.Bucket, Key: key, UploadID: id, PartNumber: int32(i + 1), Data: c,
			})
			require.NoError(t, err)
			receipts = append(receipts, r)
		}
		require.NoError(t, st.Complete(ctx, ls.Bucket, key, id, receipts))

		got, err := ls.ReadObject(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, testutil.Concat(chunks), got)
	})

	t.Run("abort", func(t *testing.T) {
		st, err := open(ctx)
		require.NoError(t, err)
		defer st.Close()

		key := testutil.GenerateTestKey("abort")
		id, err := st.Begin(ctx, ls.Bucket, key, store.BeginOptions{})
		require.NoError(t, err)

		_, err = st.UploadPart(ctx, store.Part{Bucket: ls.Bucket, Key: key, UploadID: id, PartNumber: 1, Data: []byte("partial")})
		require.NoError(t, err)
		require.NoError(t, st.Abort(ctx, ls.Bucket, key, id))

		pending, err := ls.PendingUploads(ctx)
		require.NoError(t, err)
		assert.Zero(t, pending)

		_, err = ls.ReadObject(ctx, key)
		assert.Error(t, err, "aborted transfer must not produce an object")
	})

	t.Run("session", func(t *testing.T) {
		factory, err := session.NewFactory(open, ls.Bucket, session.WithBasePath("transcripts"))
		require.NoError(t, err)

		s, err := factory.Open(ctx, session.Participant{Name: "alice", Room: "standup"})
		require.NoError(t, err)

		chunks := testutil.GenerateChunks(5<<20, 5<<20, 100)
		for _, c := range chunks {
			require.NoError(t, s.PushChunk(ctx, c))
		}
		require.NoError(t, s.Finish(ctx))

		got, err := ls.ReadObject(ctx, s.Key())
		require.NoError(t, err)
		assert.Equal(t, testutil.Concat(chunks), got)
	})
}
