package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"igfeed/pkg/store"
	"igfeed/pkg/ui"
)

var dbRuns int

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Prepare and inspect the database",
}

var dbSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the tables and seed a placeholder identity",
	Long: `Create sc_bot_accounts, sc_raw_news_feeds and sc_scraper_logs when they do not
exist. When no identity is stored yet an inactive CHANGE_ME placeholder is
added so the table is never empty; replace it with 'igfeed identity add'.`,
	Args: cobra.NoArgs,
	RunE: runDBSetup,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show identities, stored posts and recent runs",
	Args:  cobra.NoArgs,
	RunE:  runDBStatus,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbSetupCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.PersistentFlags().IntVar(&dbRuns, "runs", 10, "number of recent runs to show")
}

func runDBSetup(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	seeded, err := store.Setup(cmd.Context(), st)
	if err != nil {
		return err
	}
	log.WithField("driver", cfg.Database.Driver).Info("Database ready")
	ui.PrintSuccess("Database tables are ready")
	if seeded {
		ui.PrintWarning(fmt.Sprintf("Seeded inactive placeholder identity %q. Add a real identity with 'igfeed identity add <handle>'", store.PlaceholderHandle))
	}
	return printStatus(cmd, st)
}

func runDBStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return printStatus(cmd, st)
}

func printStatus(cmd *cobra.Command, st store.Store) error {
	ctx := cmd.Context()

	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read database stats: %w", err)
	}
	ui.RenderStats(os.Stdout, stats)

	ids, err := st.ListIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	ui.RenderIdentities(os.Stdout, ids)
	if stats.ActiveIdentities == 0 {
		ui.PrintWarning("No active identity. Runs will refuse to start until one is added or activated")
	}

	runs, err := st.ListRuns(ctx, dbRuns)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) > 0 {
		ui.RenderRuns(os.Stdout, runs)
	}
	return nil
}
