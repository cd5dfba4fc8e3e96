package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/verity/internal/api"
	"github.com/randalmurphal/verity/internal/engine"
	"github.com/randalmurphal/verity/internal/telemetry"
)

// newServeCmd creates the serve command
func newServeCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API and websocket event stream.

The server listens on server.addr (override with --addr or VERITY_SERVER_ADDR)
and stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return o.serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from config, :8080)")
	_ = o.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (o *rootOptions) serve(ctx context.Context) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	tel, err := telemetry.Init(ctx, cfg.Telemetry, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, tel.Shutdown(context.Background()))
	}()

	a, err := o.openApp(ctx, engine.WithTracer(tel.Tracer("")))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	srv := api.New(a.engine, &api.Config{
		Addr:            a.cfg.Server.Addr,
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		Logger:          slog.Default(),
		Metrics:         a.metrics,
	})
	return srv.Run(ctx)
}
