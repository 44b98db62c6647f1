// Package store is the relational persistence used by igfeed: scraper
// identities (sc_bot_accounts), ingested posts (sc_raw_news_feeds) and run
// logs (sc_scraper_logs). Postgres is the production backend; SQLite serves
// local runs and tests.
package store

import (
	"context"
	"fmt"
	"time"

	"igfeed/pkg/config"
	"igfeed/pkg/identity"
	"igfeed/pkg/models"
	"igfeed/pkg/store/postgres"
	"igfeed/pkg/store/sqlite"
)

// PlaceholderHandle is the inactive identity seeded by Setup
const PlaceholderHandle = "CHANGE_ME"

// Store is implemented by every backend
type Store interface {
	identity.Store

	// ExistsByExternalID reports whether a post shortcode is already stored
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	// InsertItem stores a new post. A duplicate shortcode yields an error
	// wrapping errors.ErrDuplicate.
	InsertItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, externalID string) (*models.Item, error)

	StartRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)

	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentity(ctx context.Context, handle string) (*models.Identity, error)
	ListIdentities(ctx context.Context) ([]models.Identity, error)

	Stats(ctx context.Context) (*models.Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Open connects to the configured backend
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.PostgresDSN())
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Setup creates the schema and seeds an inactive placeholder identity when
// none exist. It reports whether the placeholder was created.
func Setup(ctx context.Context, s Store) (bool, error) {
	if err := s.Migrate(ctx); err != nil {
		return false, fmt.Errorf("migrate: %w", err)
	}

	ids, err := s.ListIdentities(ctx)
	if err != nil {
		return false, fmt.Errorf("list identities: %w", err)
	}
	if len(ids) > 0 {
		return false, nil
	}

	now := time.Now().UTC()
	placeholder := &models.Identity{
		Handle:    PlaceholderHandle,
		Secret:    PlaceholderHandle,
		Active:    false,
		Notes:     "Placeholder. Add a real identity with `igfeed identity add` and activate it.",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateIdentity(ctx, placeholder); err != nil {
		return false, fmt.Errorf("seed placeholder identity: %w", err)
	}
	return true, nil
}
