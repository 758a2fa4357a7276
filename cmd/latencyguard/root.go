package main

import (
	"fmt"

	"github.com/justin4957/latency-anomaly-detector/internal/config"
	"github.com/justin4957/latency-anomaly-detector/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

type commandContext struct {
	configPath string
	logLevel   string
	conf       *config.Config
}

func (c *commandContext) load() error {
	conf, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		conf.Logging.Level = c.logLevel
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(conf.Logging)
	c.conf = conf
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	return cmd.Name() == "version" || cmd.Name() == "help"
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "latencyguard",
		Short:         "Latency anomaly detection with an isolation forest",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			return ctx.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "config.yaml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPrepareCommand(ctx))
	rootCmd.AddCommand(newTrainCommand(ctx))
	rootCmd.AddCommand(newEvaluateCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newRestartCommand(ctx))
	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newRunsCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "latencyguard %s\n", version)
		},
	}
}
