package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"

	"github.com/voxtrail/audiostream/session"
)

// DefaultChunkSize is the smallest part S3 accepts for every part but the last.
const DefaultChunkSize = 5 << 20

type uploadOptions struct {
	room        string
	participant string
	contentType string
	chunkSize   int
	teePath     string
}

func newUploadCommand(root *rootOptions) *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Stream a recording into the configured bucket",
		Long: `Upload reads FILE (or standard input when FILE is "-") in fixed-size chunks
and uploads each chunk as one part while reading continues.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}

			in, contentType, err := openInput(args[0], opts.contentType)
			if err != nil {
				return err
			}
			defer in.Close()

			sopts := factoryOptions(cfg, logger)
			if contentType != "" {
				sopts = append(sopts, session.WithContentType(contentType))
			}

			opener, err := newOpener(cmd.Context(), cfg.Store, logger)
			if err != nil {
				return err
			}
			factory, err := session.NewFactory(opener, cfg.Store.Bucket, sopts...)
			if err != nil {
				return err
			}

			var sessOpts []session.SessionOption
			if opts.teePath != "" {
				tee, err := os.Create(opts.teePath)
				if err != nil {
					return err
				}
				defer tee.Close()
				sessOpts = append(sessOpts, session.WithChunkListener(session.Tee(tee, func(err error) {
					logger.Warn("failed to write tee copy", "error", err)
				})))
			}

			if m := newMirror(cfg.Session, logger); m != nil {
				sessOpts = append(sessOpts, m.SessionOptions()...)
			}

			s, err := factory.Open(cmd.Context(), session.Participant{Name: opts.participant, Room: opts.room}, sessOpts...)
			if err != nil {
				return err
			}

			q := session.NewQueue(cmd.Context(), s, session.WithQueueSize(cfg.Session.QueueSize))
			if err := stream(cmd.Context(), q, in, opts.chunkSize, logger); err != nil {
				return err
			}

			info := s.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\t%d parts\t%d bytes\n", info.Bucket, info.Key, info.Parts, info.Bytes)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.room, "room", "", "room the recording belongs to")
	cmd.Flags().StringVar(&opts.participant, "participant", "", "participant name")
	cmd.Flags().StringVar(&opts.contentType, "content-type", "", "content type, detected from FILE when empty")
	cmd.Flags().IntVar(&opts.chunkSize, "chunk-size", DefaultChunkSize, "bytes per uploaded part")
	cmd.Flags().StringVar(&opts.teePath, "tee", "", "also write the uploaded audio to this local file")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

// openInput opens path and resolves its content type. An explicit content
// type wins; files are sniffed; standard input uses the configured type.
func openInput(path, contentType string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), contentType, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	if contentType != "" {
		return f, contentType, nil
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("failed to detect content type of %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, "", err
	}
	if !strings.HasPrefix(mt.String(), "audio/") {
		f.Close()
		return nil, "", fmt.Errorf("%s does not look like audio (%s), set --content-type to upload it anyway", path, mt.String())
	}
	return f, mt.String(), nil
}

// stream pushes r to q in chunkSize parts and finishes the session. Any read
// error aborts the session.
func stream(ctx context.Context, q *session.Queue, r io.Reader, chunkSize int, logger *slog.Logger) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if perr := q.Push(ctx, buf[:n]); perr != nil {
				_ = q.Abort(context.WithoutCancel(ctx))
				return perr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			logger.Error("failed to read input, aborting upload", "error", err)
			if aerr := q.Abort(context.WithoutCancel(ctx)); aerr != nil {
				return errors.Join(err, aerr)
			}
			return err
		}
	}

	return q.Finish(ctx)
}
