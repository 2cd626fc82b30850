package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ggoodman/twentyq/internal/config"
	"github.com/ggoodman/twentyq/internal/logctx"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "twentyq",
		Short:         "Twenty questions gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides TWENTYQ_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json); overrides TWENTYQ_LOG_FORMAT")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStdioCmd())

	return rootCmd
}

// loadConfig reads the environment, applies flag overrides and validates the
// result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"addr", &cfg.Addr},
	}
	for _, o := range overrides {
		f := cmd.Flags().Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		*o.dst = f.Value.String()
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Records pick up request, connection,
// game and rpc groups from their context.
func newLogger(w io.Writer, cfg config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		h = slog.NewJSONHandler(w, opts)
	case config.LogFormatText:
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}
