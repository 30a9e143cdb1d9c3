package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/voxtrail/audiostream/internal/server"
	"github.com/voxtrail/audiostream/metrics"
	"github.com/voxtrail/audiostream/session"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingest server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(cmd)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opener, err := newOpener(ctx, cfg.Store, logger)
			if err != nil {
				return err
			}

			clock := clockwork.NewRealClock()
			opts := append(factoryOptions(cfg, logger), session.WithClock(clock))
			var routerOpts []server.RouterOption
			if cfg.Metrics.Enabled {
				reg := prometheus.NewRegistry()
				reg.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				m := metrics.New(reg, metrics.WithClock(clock))
				opts = append(opts, session.WithObserver(m))
				routerOpts = append(routerOpts, server.WithMetrics(m, reg, cfg.Metrics.Path))
			}

			factory, err := session.NewFactory(opener, cfg.Store.Bucket, opts...)
			if err != nil {
				return err
			}

			gin.SetMode(cfg.Server.Mode)
			registry := server.NewRegistry()
			var handlerOpts []server.HandlerOption
			if m := newMirror(cfg.Session, logger); m != nil {
				handlerOpts = append(handlerOpts, server.WithSessionOptions(m.SessionOptions))
			}
			handler := server.NewSessionHandler(factory, registry, logger, cfg.Server.MaxChunkBytes, handlerOpts...)

			srv := server.New(server.Config{
				Address:         cfg.Server.Address,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, server.NewRouter(handler, routerOpts...), registry, logger)

			logger.Info("starting audiostream",
				"backend", cfg.Store.Backend,
				"bucket", cfg.Store.Bucket,
				"address", cfg.Server.Address)
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address, overrides server.address")
	return cmd
}
