package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"igfeed/pkg/config"
	"igfeed/pkg/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage igfeed configuration files.

Configuration is loaded from, highest priority first:
  - Command line flags
  - Environment variables (IGFEED_*, DB_*)
  - .env files
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration with secrets masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file %s already exists; remove it first to start over", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}
	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Out, "\nNext steps:")
	fmt.Fprintln(ui.Out, "1. Set the database section (or DB_HOST, DB_USERNAME, DB_PASSWORD, DB_DATABASE)")
	fmt.Fprintln(ui.Out, "2. Run 'igfeed db setup' and 'igfeed identity add <handle>'")
	fmt.Fprintln(ui.Out, "3. Start ingesting with 'igfeed run --target <handle>'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(masked(cfg))
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Fprint(ui.Out, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var warnings []string
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" && cfg.Database.Password == "" {
		warnings = append(warnings, "postgres password is empty")
	}
	if cfg.Notifications.Email.Host != "" && !cfg.Notifications.Email.Configured() {
		warnings = append(warnings, "email alerts need notifications.email.from and notifications.email.to")
	}
	if cfg.Pacing.MinDelay == 0 {
		warnings = append(warnings, "pacing.min_delay is 0; posts will be fetched back to back")
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Fprintf(ui.Out, "  - %s\n", w)
		}
	}

	if err := os.MkdirAll(cfg.Download.Directory, 0755); err != nil {
		return errors.Join(errors.New("configuration is invalid"), fmt.Errorf("cannot create download directory: %w", err))
	}

	ui.PrintSuccess("Configuration is valid")
	ui.PrintInfo("Database", cfg.Database.Driver)
	ui.PrintInfo("Downloads", cfg.Download.Directory)
	ui.PrintInfo("Pacing", fmt.Sprintf("%s-%s, cooldown %s", cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay, cfg.Pacing.Cooldown))
	return nil
}

// masked returns a copy of cfg with secrets replaced
func masked(cfg *config.Config) *config.Config {
	out := *cfg
	out.Database.Password = mask(out.Database.Password)
	out.Database.DSN = mask(out.Database.DSN)
	out.Session.Passphrase = mask(out.Session.Passphrase)
	out.Notifications.Email.Password = mask(out.Notifications.Email.Password)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 8 {
		return s[:2] + "***" + s[len(s)-2:]
	}
	return "***"
}
