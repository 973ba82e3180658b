package main

import (
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tenantcal/internal/bridge"
)

func newServeCmd(cc *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local bridge for a presentation layer",
		Long: `Serve the session and event cache over HTTP on the bridge address:
JSON endpoints under /session and /events, a websocket notification stream at
/notifications, and Prometheus metrics at /metrics. The session ends when the
token file is removed by another process (e.g. 'tenantcal logout').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cc)
		},
	}

	cmd.Flags().StringVar(&cc.Flags.Listen, "listen", "", "bridge listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, cc *CLIContext) error {
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)

	a, err := newApp(ctx, cc, true)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := bridge.New(a.session, a.syncer, a.bus, bridge.Options{
		AllowedOrigins: cc.Cfg.Bridge.AllowedOrigins,
	}, logger)

	logger.Info("serve starting",
		slog.String("listen", cc.Cfg.Bridge.Listen),
		slog.String("session", a.session.State().String()),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Serve(gctx, cc.Cfg.Bridge.Listen)
	})

	g.Go(func() error {
		return a.session.WatchTokenFile(gctx, cc.Cfg.TokenFilePath())
	})

	return g.Wait()
}
