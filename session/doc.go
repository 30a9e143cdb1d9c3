// Package session streams live participant audio into object storage as a
// single multipart upload.
//
// A Factory opens one UploadSession per participant. The session initiates a
// multipart transfer, uploads every pushed chunk as the next numbered part,
// and commits the object from the collected part receipts when the caller
// finishes the stream:
//
//	factory, err := session.NewFactory(s3store.Opener(), "recordings",
//	    session.WithBasePath("transcripts"),
//	    session.WithContentType("audio/flac"),
//	)
//	s, err := factory.Open(ctx, session.Participant{Name: "alice", Room: "standup"})
//	for chunk := range audio {
//	    if err := s.PushChunk(ctx, chunk); err != nil {
//	        // the session was aborted; the transfer has been discarded
//	    }
//	}
//	err = s.Finish(ctx)
//
// Sessions follow a four-state lifecycle: OPEN, COMPLETING, CLOSED and
// ABORTED. Once a session has ended every further call returns
// errors.ErrSessionEnded and nothing more is sent to the store.
//
// PushChunk blocks for the duration of the part upload. Callers that must not
// block on the network wrap the session in a Queue, which uploads from a
// single background worker in push order.
package session
