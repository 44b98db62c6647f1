package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igfeed/pkg/instagram"
	"igfeed/pkg/scraper"
	"igfeed/pkg/session"
	"igfeed/pkg/storage"
	"igfeed/pkg/telemetry"
	"igfeed/pkg/ui"
)

var (
	runTarget   string
	runMaxItems int
	runVerbose  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the newest posts of a profile",
	Long: `Authenticate with the first active identity and ingest up to --max-items
posts of the target profile, newest first.

Posts already stored are skipped. Failed posts are counted and skipped; a run
only stops early when the identity can no longer be used, in which case the
identity is deactivated when appropriate and the next step is printed.`,
	Example: `  # Ingest the 50 newest posts
  igfeed run --target sman1baleendah

  # Look at only the 10 newest posts
  igfeed run --target sman1baleendah --max-items 10`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runTarget, "target", "t", "", "handle of the profile to ingest (required)")
	runCmd.Flags().IntVarP(&runMaxItems, "max-items", "n", scraper.DefaultMaxItems, "maximum number of posts to consider")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print one line per post")
	_ = runCmd.MarkFlagRequired("target")
}

func runRun(cmd *cobra.Command, args []string) error {
	target := instagram.SanitizeUsername(runTarget)
	if !instagram.IsValidUsername(target) {
		return fmt.Errorf("invalid target handle %q", runTarget)
	}
	if runMaxItems <= 0 {
		return fmt.Errorf("--max-items must be positive, got %d", runMaxItems)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to prepare database: %w", err)
	}

	client, err := instagram.NewClient(cfg, log)
	if err != nil {
		return err
	}
	tokens, err := session.NewTokenStore(cfg.Session.Directory, cfg.Session.Passphrase)
	if err != nil {
		return err
	}
	files, err := storage.NewManager(cfg.Download.Directory)
	if err != nil {
		return err
	}

	progress := ui.NewProgressDisplay(os.Stdout, target, runMaxItems, runVerbose)
	s, err := scraper.New(scraper.RunContext{
		Pacing:     cfg.Pacing,
		SkipVideos: cfg.Download.SkipVideos,
		Identities: st,
		Items:      st,
		Runs:       st,
		Sessions:   session.NewManager(tokens, client, st, log),
		Source:     client,
		Fetcher:    client,
		Files:      files,
		Notifier:   ui.NewNotifierFromConfig(cfg.Notifications, log),
		Observer:   progress,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	ui.PrintBanner()
	ui.PrintInfo("Target", "@"+target)
	ui.PrintInfo("Max items", fmt.Sprint(runMaxItems))
	ui.PrintInfo("Payloads", files.TargetDir(target))

	sum, err := s.Run(ctx, target, runMaxItems)
	progress.Finish()
	ui.RenderSummary(os.Stdout, sum)

	if errors.Is(err, context.Canceled) {
		return errors.New("run interrupted; progress so far has been stored")
	}
	return err
}
