package main

import (
	"github.com/hanpama/legend/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

type rootFlags struct {
	config   string
	logLevel string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "legend",
		Short:         "Execute Legend execution plans",
		Long:          "legend runs single execution plans against relational, in-memory and service stores,\neither once from the command line or behind an HTTP API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringVar(&flags.config, "config", "", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override logging.level")

	cmd.AddCommand(newServeCmd(&flags))
	cmd.AddCommand(newExecuteCmd(&flags))
	cmd.AddCommand(newCheckCmd(&flags))
	return cmd
}

func (f *rootFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
