// Package postgres implements the igfeed store on PostgreSQL via pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	errs "igfeed/pkg/errors"
	"igfeed/pkg/identity"
	"igfeed/pkg/models"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	Pool *pgxpool.Pool
}

// New connects to dsn and verifies the connection
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const identityColumns = `id, username, password, is_active, last_used_at, notes, created_at, updated_at`

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var id models.Identity
	if err := row.Scan(&id.ID, &id.Handle, &id.Secret, &id.Active, &id.LastUsedAt, &id.Notes, &id.CreatedAt, &id.UpdatedAt); err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Store) FindActive(ctx context.Context) (*models.Identity, error) {
	id, err := scanIdentity(s.Pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM sc_bot_accounts WHERE is_active ORDER BY id LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNoActiveIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("find active identity: %w", err)
	}
	return id, nil
}

func (s *Store) GetIdentity(ctx context.Context, handle string) (*models.Identity, error) {
	id, err := scanIdentity(s.Pool.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM sc_bot_accounts WHERE username = $1`, handle))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", identity.ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", handle, err)
	}
	return id, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.Pool.Query(ctx, `SELECT `+identityColumns+` FROM sc_bot_accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []models.Identity
	for rows.Next() {
		id, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, *id)
	}
	return out, rows.Err()
}

func (s *Store) CreateIdentity(ctx context.Context, id *models.Identity) error {
	now := time.Now().UTC()
	err := s.Pool.QueryRow(ctx,
		`INSERT INTO sc_bot_accounts (username, password, is_active, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, created_at, updated_at`,
		id.Handle, id.Secret, id.Active, id.Notes, now,
	).Scan(&id.ID, &id.CreatedAt, &id.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("identity %s: %w", id.Handle, errs.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create identity %s: %w", id.Handle, err)
	}
	return nil
}

// Update writes the mutable identity fields
func (s *Store) Update(ctx context.Context, id *models.Identity) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sc_bot_accounts
		 SET password = $2, is_active = $3, last_used_at = $4, notes = $5, updated_at = now()
		 WHERE id = $1`,
		id.ID, id.Secret, id.Active, id.LastUsedAt, id.Notes)
	if err != nil {
		return fmt.Errorf("update identity %s: %w", id.Handle, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, id.Handle)
	}
	return nil
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sc_raw_news_feeds WHERE post_shortcode = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check item %s: %w", externalID, err)
	}
	return exists, nil
}

func (s *Store) InsertItem(ctx context.Context, item *models.Item) error {
	paths := item.PayloadPaths
	if paths == nil {
		paths = []string{}
	}
	encoded, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("encode image paths: %w", err)
	}

	var postDate *time.Time
	if !item.PostedAt.IsZero() {
		postDate = &item.PostedAt
	}

	err = s.Pool.QueryRow(ctx,
		`INSERT INTO sc_raw_news_feeds
		   (post_shortcode, source_username, caption, image_paths, likes_count, comments_count, post_date, scraped_at, is_processed)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, FALSE)
		 RETURNING id`,
		item.ExternalID, item.SourceHandle, item.Caption, string(encoded),
		item.LikesCount, item.CommentsCount, postDate, item.ScrapedAt,
	).Scan(&item.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: %w", item.ExternalID, errs.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.ExternalID, err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, externalID string) (*models.Item, error) {
	var (
		item     models.Item
		paths    []byte
		postDate *time.Time
		errNote  *string
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id, post_shortcode, source_username, caption, image_paths, likes_count, comments_count,
		        post_date, scraped_at, is_processed, error_message
		 FROM sc_raw_news_feeds WHERE post_shortcode = $1`, externalID,
	).Scan(&item.ID, &item.ExternalID, &item.SourceHandle, &item.Caption, &paths, &item.LikesCount,
		&item.CommentsCount, &postDate, &item.ScrapedAt, &item.Processed, &errNote)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrItemNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", externalID, err)
	}
	if err := json.Unmarshal(paths, &item.PayloadPaths); err != nil {
		return nil, fmt.Errorf("decode image paths of %s: %w", externalID, err)
	}
	if postDate != nil {
		item.PostedAt = *postDate
	}
	if errNote != nil {
		item.ErrorNote = *errNote
	}
	return &item, nil
}

func (s *Store) StartRun(ctx context.Context, run *models.Run) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO sc_scraper_logs (run_id, username, bot_username, status, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Target, run.IdentityHandle, string(run.Status), run.StartedAt)
	if err != nil {
		return fmt.Errorf("start run log: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE sc_scraper_logs
		 SET bot_username = $2, status = $3, posts_found = $4, posts_saved = $5,
		     posts_duplicate = $6, posts_failed = $7, message = $8, error_message = $9, completed_at = $10
		 WHERE run_id = $1`,
		run.ID, run.IdentityHandle, string(run.Status), run.Considered, run.Inserted,
		run.Duplicates, run.Errors, run.Message, run.ErrorMessage, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish run log: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT run_id, username, bot_username, status, posts_found, posts_saved, posts_duplicate,
		        posts_failed, message, error_message, started_at, completed_at
		 FROM sc_scraper_logs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var r models.Run
		var status string
		if err := rows.Scan(&r.ID, &r.Target, &r.IdentityHandle, &status, &r.Considered, &r.Inserted,
			&r.Duplicates, &r.Errors, &r.Message, &r.ErrorMessage, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = models.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	err := s.Pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM sc_bot_accounts),
		   (SELECT count(*) FROM sc_bot_accounts WHERE is_active),
		   (SELECT count(*) FROM sc_raw_news_feeds),
		   (SELECT count(*) FROM sc_raw_news_feeds WHERE NOT is_processed)`,
	).Scan(&st.Identities, &st.ActiveIdentities, &st.Items, &st.PendingItems)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
