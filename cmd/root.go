package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/weavrhq/weavr/internal/config"
	"github.com/weavrhq/weavr/internal/observability"
)

// rootOptions carries the state shared between the root command and its
// subcommands: the flag values parsed before PersistentPreRunE runs and the
// resolved configuration it produces.
type rootOptions struct {
	cfgFile string
	modelID string
	cfg     *config.Config
}

// NewRootCommand assembles the weavr command tree. Every call returns a fresh
// instance so flag state cannot leak between executions.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "weavr",
		Short: "Weavr keeps Event Modeling diagrams in sync.",
		Long: `Weavr is the engine behind a collaborative Event Modeling canvas: it
synchronizes nodes, links, slices, and data definitions through a shared
field store, lays the diagram out on a deterministic slice grid, and
checks models against the Event Modeling pattern.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// `weavr version` must work even with a broken config file.
			if cmd.Name() == "version" {
				return nil
			}

			v := viper.New()
			config.SetDefaults(v)

			if opts.cfgFile != "" {
				v.SetConfigFile(opts.cfgFile)
			} else {
				v.AddConfigPath(".")
				v.SetConfigName("weavr")
				v.SetConfigType("yaml")
			}

			v.SetEnvPrefix("WEAVR")
			v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
			v.AutomaticEnv()

			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return fmt.Errorf("error reading config file: %w", err)
				}
				// No config file; defaults and env vars carry it.
			}

			// Changed flags override the file and the environment.
			if err := v.BindPFlag("store.backend", cmd.Root().PersistentFlags().Lookup("store")); err != nil {
				return err
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			// Console logs go to stderr so commands that emit documents on
			// stdout stay machine-readable.
			observability.Initialize(cfg.Logger, zapcore.Lock(os.Stderr))
			observability.GetLogger().Debug("configuration loaded",
				zap.String("store", cfg.Store.Backend),
				zap.String("model", opts.modelID),
			)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./weavr.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.modelID, "model", "m", "default", "id of the model to operate on")
	rootCmd.PersistentFlags().String("store", "", "store backend override: memory, badger, or postgres")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(
		newAuditCmd(),
		newLayoutCmd(opts),
		newImportCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// Execute runs the command tree under the given signal-aware context and
// reports the outcome. The caller decides the exit code.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "aborted")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	observability.Sync()
	return err
}
