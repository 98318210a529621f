package storage

import (
	"context"
	"time"

	"resourcewatch/internal/types"
)

// StateStore persists ResourceState keyed by (tenant, resource id). Upsert is
// an atomic replace of one key; writes to different keys never block each other.
type StateStore interface {
	Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error)
	Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error
	// GetMany streams every state of a tenant. Both channels are closed when done.
	GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error)
	Close(ctx context.Context) error
}

type FeedEntry struct {
	ID          string
	Title       string
	Link        string
	Description string
	Content     string
	Author      string
	Source      string
	ImageURL    string
	PublishedAt time.Time
	CreatedAt   time.Time
}

type FeedStore interface {
	InsertEntry(ctx context.Context, entry FeedEntry) error
	ListRecentEntries(ctx context.Context, limit int) ([]FeedEntry, error)
	DeleteOlderThan(ctx context.Context, age time.Duration) error
}

// Backend is one configured storage engine. Feed returns nil when the
// backend has no feed table.
type Backend interface {
	State() StateStore
	Feed() FeedStore
	Close(ctx context.Context) error
}
