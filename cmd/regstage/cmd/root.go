// Package cmd implements the regstage command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/regstage/internal/config"
	"github.com/dbsmedya/regstage/internal/logger"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile    string
	logLevel   string
	logFormat  string
	batchSize  int
	maxCorps   int
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:   "regstage",
	Short: "Corporate registry staging and extraction",
	Long: `regstage reads new events from the corporate registry, assembles the
affected corporations with their names, offices, state and business-as
parties, and writes each one as a JSON line.

Features:
  - Incremental event windows with a persistent checkpoint
  - Read-through record cache per batch
  - Optional in-memory staging snapshot of all rows a batch touches
  - Advisory locking so only one run per system type proceeds`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "regstage.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0,
		"Override batch size (corporations per cache generation)")
	rootCmd.PersistentFlags().IntVar(&maxCorps, "max-corps", 0,
		"Override the maximum number of corporations per run")
	rootCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "",
		"Override output destination (stdout, stderr or file path)")
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel  string
	LogFormat string
	BatchSize int
	MaxCorps  int
	Output    string
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:  logLevel,
		LogFormat: logFormat,
		BatchSize: batchSize,
		MaxCorps:  maxCorps,
		Output:    outputPath,
	}
}

// loadConfig reads and validates the config file with CLI overrides applied.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	o := GetCLIOverrides()
	cfg.ApplyOverrides(o.LogLevel, o.LogFormat, o.BatchSize, o.MaxCorps, o.Output)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the config and builds its logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
