package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"igfeed/pkg/instagram"
	"igfeed/pkg/session"
	"igfeed/pkg/ui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored login sessions",
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <handle>",
	Short: "Forget the stored session of an identity",
	Long: `Delete the stored session token of an identity so the next run logs in
again with its password. Use this after a run reports that the session is no
longer accepted.`,
	Args: cobra.ExactArgs(1),
	RunE: runSessionReset,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	handle := instagram.SanitizeUsername(args[0])

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	tokens, err := session.NewTokenStore(cfg.Session.Directory, cfg.Session.Passphrase)
	if err != nil {
		return err
	}
	if err := session.NewManager(tokens, nil, nil, log).Invalidate(handle); err != nil {
		return fmt.Errorf("failed to reset session of %s: %w", handle, err)
	}
	ui.PrintSuccess(fmt.Sprintf("Session of %s reset. The next run logs in again", handle))
	return nil
}
