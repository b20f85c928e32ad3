package main

import (
	"context"
	"fmt"
	"os"

	"github.com/DRSN-tech/template-matcher/internal/app"
	config "github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	globalLogger logger.Logger
	globalCore   *app.Core
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:           "matchctl",
	Short:         "Match images against the meme template gallery",
	Long:          "Command-line client for the template matching engine. Uses the same environment configuration as the service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		globalLogger = logger.NewSlogLoggerWithLevel(logLevel, os.Stderr)

		cfg, err := config.Load(globalLogger)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		core, err := app.NewCore(cfg, globalLogger)
		if err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		globalCore = core

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if globalCore == nil {
			return nil
		}

		err := globalCore.Closer.Close(context.Background())
		globalCore = nil
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
}
