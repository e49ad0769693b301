package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deskpet/memcore/logging"
	"github.com/deskpet/memcore/metrics"
	"github.com/deskpet/memcore/server"
	"github.com/deskpet/memcore/session"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the memory session over a WebSocket",
		Long: `serve exposes one memory session on /ws. Each text frame is a JSON
turn input {"utterance": "...", "request_id": "..."} and is answered with
the turn result. /health and /metrics are served alongside.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				g.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := metrics.New()
			sess, err := g.openSession(ctx, session.WithMetrics(m))
			if err != nil {
				return err
			}
			defer closeSession(sess)

			srv := server.New(sess,
				server.WithMetrics(m),
				server.WithAllowedOrigins(g.cfg.Server.AllowedOrigins...),
				server.WithLogger(logging.Default()),
			)
			return srv.ListenAndServe(ctx, g.cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides server.addr)")
	return cmd
}
