package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ggoodman/twentyq/stdio"
	"github.com/spf13/cobra"
)

func newStdioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Speak the tool protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// stdout carries protocol messages; logs go to stderr.
			log, err := newLogger(os.Stderr, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error("app.close.fail", slog.String("err", err.Error()))
				}
			}()

			h := stdio.NewHandler(a.tools,
				stdio.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
				stdio.WithLogger(log),
			)
			return h.Serve(ctx)
		},
	}
}
