package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"govreview/api/internal/config"
	"govreview/api/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *log.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "govreview",
		Short:         "IT governance intake review API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"_CONFIG"), "Path to a TOML, YAML, or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newReindexCmd(opts),
		newSweepCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) load() error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		bootstrap := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
		bootstrap.Error("load config", "err", err)
		return err
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		cfg.LogLevel = level
	}
	logger, err := logging.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}
	log.SetDefault(logger)
	o.cfg = cfg
	o.logger = logger
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
