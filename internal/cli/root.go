// Package cli implements the audiostream command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/voxtrail/audiostream/config"
	"github.com/voxtrail/audiostream/internal/logging"
)

type rootOptions struct {
	configPath string
	envFiles   []string
}

// NewRootCommand returns the audiostream command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "audiostream",
		Short: "Stream live audio into object storage as multipart uploads",
		Long: `audiostream uploads participant audio to S3-compatible storage while it is
being recorded. Commands: serve, upload, key.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newKeyCommand())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
