// Package sqlite implements the igfeed store on an embedded SQLite file.
// Timestamps are stored as unix seconds.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	errs "igfeed/pkg/errors"
	"igfeed/pkg/identity"
	"igfeed/pkg/models"
)

//go:embed schema.sql
var schema string

const memory = ":memory:"

type Store struct {
	DB *sql.DB
}

// Open opens or creates the database at path. ":memory:" yields a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("a sqlite path was not specified")
	}
	if path != memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single writer; also keeps an in-memory database on one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqlErr *sqlitedrv.Error
	if !errors.As(err, &sqlErr) {
		return false
	}
	if sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return sqlErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(sqlErr.Error(), "UNIQUE")
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}

func nullableUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: unix(*t), Valid: true}
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func fromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnix(v.Int64)
	return &t
}

const identityColumns = `id, username, password, is_active, last_used_at, notes, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*models.Identity, error) {
	var (
		id               models.Identity
		lastUsed         sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&id.ID, &id.Handle, &id.Secret, &id.Active, &lastUsed, &id.Notes, &created, &updated); err != nil {
		return nil, err
	}
	id.LastUsedAt = fromNullable(lastUsed)
	id.CreatedAt = fromUnix(created)
	id.UpdatedAt = fromUnix(updated)
	return &id, nil
}

func (s *Store) FindActive(ctx context.Context) (*models.Identity, error) {
	id, err := scanIdentity(s.DB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM sc_bot_accounts WHERE is_active = 1 ORDER BY id LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrNoActiveIdentity
	}
	if err != nil {
		return nil, fmt.Errorf("find active identity: %w", err)
	}
	return id, nil
}

func (s *Store) GetIdentity(ctx context.Context, handle string) (*models.Identity, error) {
	id, err := scanIdentity(s.DB.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM sc_bot_accounts WHERE username = ?`, handle))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", identity.ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity %s: %w", handle, err)
	}
	return id, nil
}

func (s *Store) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+identityColumns+` FROM sc_bot_accounts ORDER BY id`)
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
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sc_bot_accounts (username, password, is_active, notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id.Handle, id.Secret, id.Active, id.Notes, unix(now), unix(now))
	if isUniqueViolation(err) {
		return fmt.Errorf("identity %s: %w", id.Handle, errs.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create identity %s: %w", id.Handle, err)
	}
	if id.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create identity %s: %w", id.Handle, err)
	}
	id.CreatedAt, id.UpdatedAt = now, now
	return nil
}

// Update writes the mutable identity fields
func (s *Store) Update(ctx context.Context, id *models.Identity) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sc_bot_accounts
		 SET password = ?, is_active = ?, last_used_at = ?, notes = ?, updated_at = ?
		 WHERE id = ?`,
		id.Secret, id.Active, nullableUnix(id.LastUsedAt), id.Notes, unix(time.Now()), id.ID)
	if err != nil {
		return fmt.Errorf("update identity %s: %w", id.Handle, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update identity %s: %w", id.Handle, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", identity.ErrNotFound, id.Handle)
	}
	return nil
}

func (s *Store) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sc_raw_news_feeds WHERE post_shortcode = ?)`, externalID,
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

	now := unix(time.Now())
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sc_raw_news_feeds
		   (post_shortcode, source_username, caption, image_paths, likes_count, comments_count,
		    post_date, scraped_at, is_processed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		item.ExternalID, item.SourceHandle, item.Caption, string(encoded),
		item.LikesCount, item.CommentsCount, nullableUnix(&item.PostedAt), unix(item.ScrapedAt), now, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: %w", item.ExternalID, errs.ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert item %s: %w", item.ExternalID, err)
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("insert item %s: %w", item.ExternalID, err)
	}
	return nil
}

func (s *Store) GetItem(ctx context.Context, externalID string) (*models.Item, error) {
	var (
		item      models.Item
		paths     string
		postDate  sql.NullInt64
		scrapedAt int64
		errNote   sql.NullString
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, post_shortcode, source_username, caption, image_paths, likes_count, comments_count,
		        post_date, scraped_at, is_processed, error_message
		 FROM sc_raw_news_feeds WHERE post_shortcode = ?`, externalID,
	).Scan(&item.ID, &item.ExternalID, &item.SourceHandle, &item.Caption, &paths, &item.LikesCount,
		&item.CommentsCount, &postDate, &scrapedAt, &item.Processed, &errNote)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", errs.ErrItemNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", externalID, err)
	}
	if err := json.Unmarshal([]byte(paths), &item.PayloadPaths); err != nil {
		return nil, fmt.Errorf("decode image paths of %s: %w", externalID, err)
	}
	if postDate.Valid {
		item.PostedAt = fromUnix(postDate.Int64)
	}
	item.ScrapedAt = fromUnix(scrapedAt)
	item.ErrorNote = errNote.String
	return &item, nil
}

func (s *Store) StartRun(ctx context.Context, run *models.Run) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sc_scraper_logs (run_id, username, bot_username, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.Target, run.IdentityHandle, string(run.Status), unix(run.StartedAt))
	if err != nil {
		return fmt.Errorf("start run log: %w", err)
	}
	return nil
}

func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sc_scraper_logs
		 SET bot_username = ?, status = ?, posts_found = ?, posts_saved = ?,
		     posts_duplicate = ?, posts_failed = ?, message = ?, error_message = ?, completed_at = ?
		 WHERE run_id = ?`,
		run.IdentityHandle, string(run.Status), run.Considered, run.Inserted,
		run.Duplicates, run.Errors, run.Message, run.ErrorMessage, nullableUnix(run.CompletedAt), run.ID.String())
	if err != nil {
		return fmt.Errorf("finish run log: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT run_id, username, bot_username, status, posts_found, posts_saved, posts_duplicate,
		        posts_failed, message, error_message, started_at, completed_at
		 FROM sc_scraper_logs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []models.Run
	for rows.Next() {
		var (
			r         models.Run
			status    string
			started   int64
			completed sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Target, &r.IdentityHandle, &status, &r.Considered, &r.Inserted,
			&r.Duplicates, &r.Errors, &r.Message, &r.ErrorMessage, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = models.RunStatus(status)
		r.StartedAt = fromUnix(started)
		r.CompletedAt = fromNullable(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (*models.Stats, error) {
	var st models.Stats
	err := s.DB.QueryRowContext(ctx,
		`SELECT
		   (SELECT count(*) FROM sc_bot_accounts),
		   (SELECT count(*) FROM sc_bot_accounts WHERE is_active = 1),
		   (SELECT count(*) FROM sc_raw_news_feeds),
		   (SELECT count(*) FROM sc_raw_news_feeds WHERE is_processed = 0)`,
	).Scan(&st.Identities, &st.ActiveIdentities, &st.Items, &st.PendingItems)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
