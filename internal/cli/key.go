package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxtrail/audiostream/internal/validation"
	"github.com/voxtrail/audiostream/session"
)

func newKeyCommand() *cobra.Command {
	var (
		basePath    string
		room        string
		participant string
		contentType string
		extension   string
		at          string
	)

	cmd := &cobra.Command{
		Use:   "key",
		Short: "Print the object key a recording would be stored under",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validation.ValidateKeySegment("room", room); err != nil {
				return err
			}
			if err := validation.ValidateKeySegment("participant", participant); err != nil {
				return err
			}

			startedAt := time.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				startedAt = t
			}

			ext := extension
			if ext == "" {
				var err error
				if ext, err = session.ExtensionFor(contentType); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), session.BuildKey(basePath, room, participant, ext, startedAt))
			return nil
		},
	}

	cmd.Flags().StringVar(&basePath, "base-path", "", "key prefix")
	cmd.Flags().StringVar(&room, "room", "", "room name")
	cmd.Flags().StringVar(&participant, "participant", "", "participant name")
	cmd.Flags().StringVar(&contentType, "content-type", session.DefaultContentType, "content type the extension is derived from")
	cmd.Flags().StringVar(&extension, "extension", "", "extension, overrides --content-type")
	cmd.Flags().StringVar(&at, "at", "", "start time in RFC 3339, default now")
	return cmd
}
