package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"igfeed/pkg/config"
	"igfeed/pkg/logger"
	"igfeed/pkg/store"
	"igfeed/pkg/ui"
)

var (
	// Version information
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "igfeed",
	Short: "Ingest an Instagram profile feed into the news database",
	Long: `igfeed authenticates with a stored scraper identity, walks the newest posts
of one public profile and stores every post it has not seen before, together
with its images, for later article generation.

Identities, the database and stored sessions are managed with the identity,
db and session commands.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetColor(!noColor)
	},
}

// Execute runs the root command and exits non-zero on any error
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.Out = os.Stderr
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/igfeed/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`igfeed {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig reads the configuration and installs the global logger
func loadConfig() (*config.Config, logger.Logger, error) {
	flags := map[string]interface{}{
		"log-level": logLevel,
		"no-color":  noColor,
	}
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.GetLogger(), nil
}

// openStore connects to the configured database
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Driver, err)
	}
	return st, nil
}
