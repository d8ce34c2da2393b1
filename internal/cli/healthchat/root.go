// Package healthchat implements the terminal client: an interactive chat
// plus one-shot ask, bootstrap and export commands.
package healthchat

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/healthchat/healthchat/internal/app"
	"github.com/healthchat/healthchat/internal/config"
	"github.com/healthchat/healthchat/internal/observability"
	"github.com/healthchat/healthchat/internal/store"
)

type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Lookup config.LookupFunc
	// Build assembles the pipeline; defaults to app.New.
	Build func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app.App, error)
	// OpenStore returns the bootstrapper; defaults to app.OpenStore.
	OpenStore func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Bootstrapper, error)
}

type rootFlags struct {
	storePath string
	source    string
	verbose   bool
}

func NewRootCommand(opts Options) *cobra.Command {
	opts = opts.withDefaults()
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "healthchat",
		Short:         "Ask questions about your workout data in plain language",
		Long:          "healthchat translates questions into SQL with an LLM and runs them against a local DuckDB copy of your health metrics.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(opts.Stdin)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	root.PersistentFlags().StringVar(&flags.storePath, "store", "", "DuckDB store file (overrides HEALTHCHAT_STORE_PATH)")
	root.PersistentFlags().StringVar(&flags.source, "source", "", "CSV or Parquet source (overrides HEALTHCHAT_STORE_SOURCE)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log pipeline events to stderr")

	root.AddCommand(
		newChatCommand(opts, flags),
		newAskCommand(opts, flags),
		newBootstrapCommand(opts, flags),
		newExportCommand(opts, flags),
	)
	return root
}

// Execute runs the CLI against the process environment and returns the exit
// code.
func Execute(ctx context.Context) int {
	root := NewRootCommand(Options{})
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = io.WriteString(os.Stderr, "Error: "+err.Error()+"\n")
		return 1
	}
	return 0
}

func (o Options) withDefaults() Options {
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	if o.Build == nil {
		o.Build = app.New
	}
	if o.OpenStore == nil {
		o.OpenStore = app.OpenStore
	}
	return o
}

func loadConfig(opts Options, flags *rootFlags) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load("healthchat", opts.Lookup)
	if err != nil {
		return config.Config{}, nil, err
	}
	if flags.storePath != "" {
		cfg.Store.Path = flags.storePath
	}
	if flags.source != "" {
		cfg.Store.Source = flags.source
	}
	if !flags.verbose {
		cfg.Observability.LogLevel = slog.LevelWarn
	}
	cfg.Observability.LogJSON = false
	return cfg, observability.NewLogger(cfg, opts.Stderr), nil
}
