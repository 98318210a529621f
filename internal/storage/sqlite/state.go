package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"resourcewatch/internal/types"
)

type stateStore struct {
	db *sql.DB
}

func newStateStore(db *sql.DB) *stateStore {
	return &stateStore{db: db}
}

func (s *stateStore) Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error) {
	query := `
		SELECT tenant, resource_id, fingerprint, modified_at, retry_count, banned_until, extensions, updated_at
		FROM resource_state
		WHERE tenant = ? AND resource_id = ?
	`

	st, err := scanState(s.db.QueryRowContext(ctx, query, tenant, resourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.ResourceState{}, false, nil
	}
	if err != nil {
		return types.ResourceState{}, false, fmt.Errorf("failed to get state for %s/%s: %w", tenant, resourceID, err)
	}
	return st, true, nil
}

func (s *stateStore) Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error {
	query := `
		INSERT INTO resource_state (tenant, resource_id, fingerprint, modified_at, retry_count, banned_until, extensions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant, resource_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			modified_at = excluded.modified_at,
			retry_count = excluded.retry_count,
			banned_until = excluded.banned_until,
			extensions = excluded.extensions,
			updated_at = excluded.updated_at
	`

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var bannedUntil sql.NullInt64
	if state.BannedUntil != nil {
		bannedUntil = sql.NullInt64{Int64: toNanos(*state.BannedUntil), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		tenant,
		resourceID,
		state.Fingerprint,
		toNanos(state.Modified),
		int64(state.RetryCount),
		bannedUntil,
		state.Extensions,
		toNanos(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert state for %s/%s: %w", tenant, resourceID, err)
	}
	return nil
}

// GetMany reads the whole tenant before streaming so consumers may write
// while they iterate.
func (s *stateStore) GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error) {
	out := make(chan types.ResourceState)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		states, err := s.list(ctx, tenant)
		if err != nil {
			errs <- err
			return
		}
		for _, st := range states {
			select {
			case out <- st:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (s *stateStore) list(ctx context.Context, tenant string) ([]types.ResourceState, error) {
	query := `
		SELECT tenant, resource_id, fingerprint, modified_at, retry_count, banned_until, extensions, updated_at
		FROM resource_state
		WHERE tenant = ?
		ORDER BY resource_id
	`

	rows, err := s.db.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	var states []types.ResourceState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return states, nil
}

// Close is a no-op; the connection belongs to SQLiteStorage.
func (s *stateStore) Close(ctx context.Context) error {
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (types.ResourceState, error) {
	var (
		st          types.ResourceState
		modified    int64
		retryCount  int64
		bannedUntil sql.NullInt64
		extensions  []byte
		updatedAt   int64
	)
	if err := row.Scan(&st.Tenant, &st.ResourceID, &st.Fingerprint, &modified, &retryCount, &bannedUntil, &extensions, &updatedAt); err != nil {
		return types.ResourceState{}, err
	}

	st.Modified = fromNanos(modified)
	st.RetryCount = uint(retryCount)
	if bannedUntil.Valid {
		t := fromNanos(bannedUntil.Int64)
		st.BannedUntil = &t
	}
	if len(extensions) > 0 {
		st.Extensions = extensions
	}
	st.UpdatedAt = fromNanos(updatedAt)
	return st, nil
}

// Times are stored as unix nanoseconds with 0 meaning the zero time.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
