// Package main is the entry point for the polis-entities binary.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-entities/pkg/config"
	"github.com/polisai/polis-entities/pkg/logging"
)

const defaultLogLevel = "info"

// CLIConfig holds the flags shared by every subcommand.
type CLIConfig struct {
	Config   string
	EnvFile  string
	LogLevel string
	Pretty   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-entities",
		Short: "Record transformation and routing for entity extraction",
		Long: `polis-entities applies one configured operation to every record it receives:
filter a JSON array of entities with a query, or send text to an entity engine
to extract, annotate, ingest or sanitize it. Each record is routed to success,
matches or failure.

Examples:
  polis-entities serve -c config.yaml
  polis-entities run -c config.yaml --out results docs/*.txt
  polis-entities validate config.yaml`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded before configuration")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "Human-readable logs")

	rootCmd.AddCommand(newServeCmd(), newRunCmd(), newValidateCmd())
	return rootCmd
}

// parseCLIConfig reads the persistent flags.
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return nil, fmt.Errorf("failed to get env-file flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	return &CLIConfig{Config: configPath, EnvFile: envFile, LogLevel: logLevel, Pretty: pretty}, nil
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error; existing variables are never overridden.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// bootstrap loads the environment and configuration and installs the default
// logger. Flags override the configured log settings.
func bootstrap(cmd *cobra.Command) (*CLIConfig, *config.Config, *slog.Logger, error) {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := loadEnvFile(cli.EnvFile); err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, nil, err
	}

	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger := logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.Logging.Pretty || cli.Pretty,
		Output: os.Stderr,
	})
	return cli, cfg, logger, nil
}
