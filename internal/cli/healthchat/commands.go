package healthchat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/healthchat/healthchat/internal/app"
	"github.com/healthchat/healthchat/internal/chat"
	"github.com/healthchat/healthchat/internal/cli/render"
)

func newChatCommand(opts Options, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts, flags)
			if err != nil {
				return err
			}
			application, err := opts.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			warnBootstrap(cmd, application)
			repl := &REPL{
				In:       cmd.InOrStdin(),
				Out:      cmd.OutOrStdout(),
				Pipeline: application.Pipeline,
				Store:    application.Store,
				Session:  chat.NewSession(""),
			}
			return repl.Run(cmd.Context())
		},
	}
}

func newAskCommand(opts Options, flags *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts, flags)
			if err != nil {
				return err
			}
			application, err := opts.Build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			warnBootstrap(cmd, application)

			question := strings.Join(args, " ")
			reply := application.Pipeline.Ask(cmd.Context(), chat.NewSession(""), question)
			if asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(reply); err != nil {
					return err
				}
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), render.Reply(reply))
			}
			if !reply.Answered() {
				return fmt.Errorf("%s", reply.Kind)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply as JSON")
	return cmd
}

func newBootstrapCommand(opts Options, flags *rootFlags) *cobra.Command {
	var recreate bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the local store from the source file if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts, flags)
			if err != nil {
				return err
			}
			bootstrapper, err := opts.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			ensure := bootstrapper.Ensure
			if recreate {
				ensure = bootstrapper.Recreate
			}
			report, err := ensure(cmd.Context())
			if err != nil {
				return err
			}
			if !report.Created {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "store %s already exists\n", cfg.Store.Path)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "created %s with %d rows from %s\n", cfg.Store.Path, report.Rows, report.Source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&recreate, "recreate", false, "Delete the store and rebuild it")
	return cmd
}

func newExportCommand(opts Options, flags *rootFlags) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the health_metrics table as Parquet to the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts, flags)
			if err != nil {
				return err
			}
			bootstrapper, err := opts.OpenStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			if _, err := bootstrapper.Ensure(cmd.Context()); err != nil {
				return err
			}
			if key == "" {
				key = cfg.Store.ExportKey
			}
			info, err := bootstrapper.Export(cmd.Context(), key)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d bytes)\n", info.Key, info.Size)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Object key; a trailing / adds a timestamped file name")
	return cmd
}

func warnBootstrap(cmd *cobra.Command, application *app.App) {
	if application.BootstrapErr == nil {
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\nqueries will fail until the store is rebuilt (/recreate or healthchat bootstrap --recreate)\n", application.BootstrapErr)
}
