package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/slack-agent/internal/config"
	"github.com/tbourn/slack-agent/internal/sysutil"
)

var (
	envFile string
	verbose bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "slackagent",
		Short:         "Slack assistant backed by an AI completion service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env if present)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(socketCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "slackagent %s\n", Version)
		},
	}
}

// loadEnv reads path, or .env when path is empty. A missing default file is
// fine; a missing explicit one is not. Variables already set win.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	level := cfg.LogLevel
	if verbose || sysutil.IsTruthy(os.Getenv("DEBUG")) {
		level = "debug"
	}
	sysutil.SetupLogger(os.Stderr, level, cfg.LogPretty)
	log.Debug().
		Str("version", Version).
		Str("db_driver", cfg.DBDriver).
		Str("ai_provider", cfg.AI.Provider).
		Str("ai_model", cfg.AI.Model).
		Msg("config loaded")
	return cfg, nil
}
