// Package postgres provides the Postgres-backed feed.Store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pagefeed/pagefeed/internal/feed"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements feed.Store on a pgx connection pool.
type Store struct {
	pool pgxPool
	now  func() time.Time
}

// NewStore connects a pool using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const feedColumns = `id, name, source_url, fields, schedule, format, max_items, dedup_key, paused, created_at, updated_at`

func (s *Store) GetFeed(ctx context.Context, id string) (feed.FeedDefinition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	def, err := scanFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.FeedDefinition{}, feed.ErrFeedNotFound
	}
	if err != nil {
		return feed.FeedDefinition{}, fmt.Errorf("get feed %s: %w", id, err)
	}
	return def, nil
}

func (s *Store) ListFeeds(ctx context.Context, filter feed.FeedFilter) ([]feed.FeedDefinition, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds`
	if !filter.IncludePaused {
		query += ` WHERE paused = FALSE`
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	defer rows.Close()

	var out []feed.FeedDefinition
	for rows.Next() {
		def, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return out, nil
}

func (s *Store) CreateFeed(ctx context.Context, def feed.FeedDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	now := s.now()
	_, err = s.pool.Exec(ctx, `
INSERT INTO feeds (id, name, source_url, fields, schedule, format, max_items, dedup_key, paused, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		def.ID, def.Name, def.SourceURL, fields, def.Schedule,
		string(def.Format), def.MaxItems, string(def.DedupKey), def.Paused, now)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	return nil
}

func (s *Store) UpdateFeed(ctx context.Context, def feed.FeedDefinition) error {
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE feeds
SET name = $2, source_url = $3, fields = $4, schedule = $5, format = $6,
    max_items = $7, dedup_key = $8, paused = $9, updated_at = $10
WHERE id = $1`,
		def.ID, def.Name, def.SourceURL, fields, def.Schedule,
		string(def.Format), def.MaxItems, string(def.DedupKey), def.Paused, s.now())
	if err != nil {
		return fmt.Errorf("update feed %s: %w", def.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrFeedNotFound
	}
	return nil
}

func (s *Store) DeleteFeed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete feed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrFeedNotFound
	}
	return nil
}

const itemColumns = `id, feed_id, guid, title, link, description, date, image, author, category, tags, custom, created_at`

func (s *Store) ListItems(ctx context.Context, feedID string) ([]feed.StoredItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM feed_items WHERE feed_id = $1 ORDER BY created_at`, feedID)
	if err != nil {
		return nil, fmt.Errorf("list items for feed %s: %w", feedID, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func (s *Store) RecentItems(ctx context.Context, feedID string, limit int) ([]feed.StoredItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM feed_items WHERE feed_id = $1 ORDER BY created_at DESC LIMIT $2`,
		feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent items for feed %s: %w", feedID, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// CreateItems inserts items one by one with ON CONFLICT DO NOTHING on
// (feed_id, guid), so overlapping runs never produce duplicate rows.
func (s *Store) CreateItems(ctx context.Context, feedID string, items []feed.ExtractedItem) (int, error) {
	inserted := 0
	for _, item := range items {
		custom, err := json.Marshal(item.Custom)
		if err != nil {
			return inserted, fmt.Errorf("marshal custom fields: %w", err)
		}
		tag, err := s.pool.Exec(ctx, `
INSERT INTO feed_items (id, feed_id, guid, title, link, description, date, image, author, category, tags, custom, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (feed_id, guid) DO NOTHING`,
			uuid.NewString(), feedID, item.GUID, item.Title, item.Link, item.Description,
			item.Date, item.Image, item.Author, item.Category, item.Tags, custom, s.now())
		if err != nil {
			return inserted, fmt.Errorf("insert item %s: %w", item.GUID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *Store) CreateRun(ctx context.Context, run feed.FeedRun) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO feed_runs (id, feed_id, status, started_at, finished_at, item_count, message)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		run.ID, run.FeedID, string(run.Status), run.StartedAt, run.FinishedAt, run.ItemCount, run.Message)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) UpdateRun(ctx context.Context, run feed.FeedRun) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE feed_runs
SET status = $2, finished_at = $3, item_count = $4, message = $5
WHERE id = $1`,
		run.ID, string(run.Status), run.FinishedAt, run.ItemCount, run.Message)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrRunNotFound
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, feedID string) ([]feed.FeedRun, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, feed_id, status, started_at, finished_at, item_count, message
FROM feed_runs WHERE feed_id = $1 ORDER BY started_at DESC`, feedID)
	if err != nil {
		return nil, fmt.Errorf("list runs for feed %s: %w", feedID, err)
	}
	defer rows.Close()

	var out []feed.FeedRun
	for rows.Next() {
		var (
			run    feed.FeedRun
			status string
		)
		if err := rows.Scan(&run.ID, &run.FeedID, &status, &run.StartedAt, &run.FinishedAt, &run.ItemCount, &run.Message); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		run.Status = feed.RunStatus(status)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

func scanFeed(row pgx.Row) (feed.FeedDefinition, error) {
	var (
		def      feed.FeedDefinition
		fields   []byte
		format   string
		dedupKey string
	)
	err := row.Scan(&def.ID, &def.Name, &def.SourceURL, &fields, &def.Schedule,
		&format, &def.MaxItems, &dedupKey, &def.Paused, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return feed.FeedDefinition{}, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &def.Fields); err != nil {
			return feed.FeedDefinition{}, fmt.Errorf("decode fields: %w", err)
		}
	}
	def.Format = feed.Format(format)
	def.DedupKey = feed.DedupKey(dedupKey)
	return def, nil
}

func collectItems(rows pgx.Rows) ([]feed.StoredItem, error) {
	var out []feed.StoredItem
	for rows.Next() {
		var (
			item   feed.StoredItem
			custom []byte
		)
		err := rows.Scan(&item.ID, &item.FeedID, &item.GUID, &item.Title, &item.Link,
			&item.Description, &item.Date, &item.Image, &item.Author, &item.Category,
			&item.Tags, &custom, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if len(custom) > 0 && string(custom) != "null" {
			if err := json.Unmarshal(custom, &item.Custom); err != nil {
				return nil, fmt.Errorf("decode custom fields: %w", err)
			}
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect items: %w", err)
	}
	return out, nil
}
