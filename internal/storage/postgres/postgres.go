package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"

	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

func init() {
	storage.RegisterFactory("postgres", func(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
		return New(ctx, cfg.DSN)
	})
}

type Storage struct {
	pool  *pgxpool.Pool
	state *StateStore
	feed  *FeedStore
}

func New(ctx context.Context, dsn string) (*Storage, error) {
	slog.Info("Initializing PostgreSQL storage")

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	if err := runMigrations(cfg); err != nil {
		return nil, err
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	slog.Info("Storage initialized successfully")

	return &Storage{
		pool:  pool,
		state: &StateStore{pool: pool},
		feed:  &FeedStore{pool: pool},
	}, nil
}

// runMigrations goes through database/sql because goose does not speak pgx natively.
func runMigrations(cfg *pgxpool.Config) error {
	db := stdlib.OpenDB(*cfg.ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Storage) State() storage.StateStore { return s.state }
func (s *Storage) Feed() storage.FeedStore   { return s.feed }

func (s *Storage) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

type StateStore struct {
	pool *pgxpool.Pool
}

const selectState = `
	SELECT tenant, resource_id, fingerprint, modified_at, retry_count, banned_until, extensions, updated_at
	FROM resource_state
`

func (s *StateStore) Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error) {
	row := s.pool.QueryRow(ctx, selectState+` WHERE tenant = $1 AND resource_id = $2`, tenant, resourceID)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.ResourceState{}, false, nil
	}
	if err != nil {
		return types.ResourceState{}, false, fmt.Errorf("failed to get state for %s/%s: %w", tenant, resourceID, err)
	}
	return st, true, nil
}

func (s *StateStore) Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error {
	query := `
		INSERT INTO resource_state (tenant, resource_id, fingerprint, modified_at, retry_count, banned_until, extensions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tenant, resource_id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			modified_at = EXCLUDED.modified_at,
			retry_count = EXCLUDED.retry_count,
			banned_until = EXCLUDED.banned_until,
			extensions = EXCLUDED.extensions,
			updated_at = EXCLUDED.updated_at
	`

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		tenant,
		resourceID,
		state.Fingerprint,
		toNanos(state.Modified),
		int64(state.RetryCount),
		bannedNanos(state.BannedUntil),
		state.Extensions,
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert state for %s/%s: %w", tenant, resourceID, err)
	}
	return nil
}

func (s *StateStore) GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error) {
	out := make(chan types.ResourceState)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		rows, err := s.pool.Query(ctx, selectState+` WHERE tenant = $1 ORDER BY resource_id`, tenant)
		if err != nil {
			errs <- fmt.Errorf("failed to query states: %w", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			st, err := scanState(rows)
			if err != nil {
				errs <- fmt.Errorf("failed to scan state: %w", err)
				return
			}
			select {
			case out <- st:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if err := rows.Err(); err != nil {
			errs <- fmt.Errorf("rows iteration error: %w", err)
		}
	}()

	return out, errs
}

// Close is a no-op; the pool belongs to Storage.
func (s *StateStore) Close(ctx context.Context) error {
	return nil
}

func scanState(row pgx.Row) (types.ResourceState, error) {
	var (
		st          types.ResourceState
		modified    *int64
		retryCount  int64
		bannedUntil *int64
		extensions  []byte
	)
	if err := row.Scan(&st.Tenant, &st.ResourceID, &st.Fingerprint, &modified, &retryCount, &bannedUntil, &extensions, &st.UpdatedAt); err != nil {
		return types.ResourceState{}, err
	}
	if modified != nil {
		st.Modified = fromNanos(*modified)
	}
	st.RetryCount = uint(retryCount)
	if bannedUntil != nil {
		t := fromNanos(*bannedUntil)
		st.BannedUntil = &t
	}
	if len(extensions) > 0 {
		st.Extensions = extensions
	}
	return st, nil
}

// modified_at and banned_until are unix nanoseconds; NULL means zero or unset.
func toNanos(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func bannedNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	return toNanos(*t)
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

type FeedStore struct {
	pool *pgxpool.Pool
}

func (s *FeedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	query := `
		INSERT INTO feed_entries (id, title, link, description, content, author, source, image_url, published_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	var publishedAt *time.Time
	if !entry.PublishedAt.IsZero() {
		publishedAt = &entry.PublishedAt
	}
	var imageURL *string
	if entry.ImageURL != "" {
		imageURL = &entry.ImageURL
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Title, entry.Link, entry.Description, entry.Content,
		entry.Author, entry.Source, imageURL, publishedAt, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}
	return nil
}

func (s *FeedStore) ListRecentEntries(ctx context.Context, limit int) ([]storage.FeedEntry, error) {
	query := `
		SELECT id, title, link, description, content, author, source, image_url, published_at, created_at
		FROM feed_entries
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries := make([]storage.FeedEntry, 0, limit)
	for rows.Next() {
		var entry storage.FeedEntry
		var imageURL *string
		var publishedAt *time.Time
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Link, &entry.Description, &entry.Content,
			&entry.Author, &entry.Source, &imageURL, &publishedAt, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if imageURL != nil {
			entry.ImageURL = *imageURL
		}
		if publishedAt != nil {
			entry.PublishedAt = *publishedAt
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

func (s *FeedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM feed_entries WHERE created_at < $1`, time.Now().Add(-age)); err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}
	return nil
}
