package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chat-widget/internal/config"
)

type rootFlags struct {
	endpoint string
	store    string
	dbPath   string
	profile  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var (
		cfg    config.Config
		logger zerolog.Logger
	)

	root := &cobra.Command{
		Use:           "chat-widget",
		Short:         "Terminal chat client with a local message history",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(defaultEndpoint, flagEnvironment(cmd, flags))
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			logger = newLogger(cfg.LogLevel, os.Stderr)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&flags.endpoint, "endpoint", "", "chat API base URL (overrides CHAT_API_ENDPOINT)")
	root.PersistentFlags().StringVar(&flags.store, "store", "", "storage backend: sqlite or dynamodb")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "SQLite database path")
	root.PersistentFlags().StringVar(&flags.profile, "profile", "", "profile name; separates histories and session tokens")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	root.RunE = chat.RunE

	root.AddCommand(
		chat,
		&cobra.Command{
			Use:   "history",
			Short: "Print the stored conversation",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHistory(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Delete the stored conversation and session token",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runReset(cmd.Context(), cfg, logger, cmd.OutOrStdout())
			},
		},
		newExportCmd(&cfg, &logger),
	)
	return root
}

func newExportCmd(cfg *config.Config, logger *zerolog.Logger) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the stored conversation as an HTML page",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			return runExport(cmd.Context(), *cfg, *logger, w)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	return cmd
}

// flagEnvironment overlays explicitly set flags on the process environment so
// they take precedence over CHAT_* variables during config.Load.
func flagEnvironment(cmd *cobra.Command, f *rootFlags) map[string]string {
	environ := env.ToMap(os.Environ())
	pf := cmd.Flags()
	if pf.Changed("endpoint") {
		environ["CHAT_API_ENDPOINT"] = f.endpoint
		environ["CHAT_ENDPOINT_PARAM"] = ""
	}
	if pf.Changed("store") {
		environ["CHAT_STORE"] = f.store
	}
	if pf.Changed("db") {
		environ["CHAT_DB_PATH"] = f.dbPath
	}
	if pf.Changed("profile") {
		environ["CHAT_PROFILE"] = f.profile
	}
	if pf.Changed("log-level") {
		environ["CHAT_LOG_LEVEL"] = f.logLevel
	}
	return environ
}

func newLogger(level string, w *os.File) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	var out io.Writer = w
	if isatty.IsTerminal(w.Fd()) {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// interruptible cancels ctx on the first interrupt and then stops catching
// the signal, so a second interrupt terminates the process.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}
