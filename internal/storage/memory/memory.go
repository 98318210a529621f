// Package memory keeps resource state and feed entries in process memory.
// Nothing survives a restart; it backs tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
)

func init() {
	storage.RegisterFactory("memory", func(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
		return New(), nil
	})
}

type Backend struct {
	state *StateStore
	feed  *FeedStore
}

func New() *Backend {
	return &Backend{state: NewStateStore(), feed: NewFeedStore()}
}

func (b *Backend) State() storage.StateStore { return b.state }
func (b *Backend) Feed() storage.FeedStore   { return b.feed }

func (b *Backend) Close(ctx context.Context) error {
	return b.state.Close(ctx)
}

type stateKey struct {
	tenant string
	id     string
}

type StateStore struct {
	mu     sync.RWMutex
	states map[stateKey]types.ResourceState
}

func NewStateStore() *StateStore {
	return &StateStore{states: make(map[stateKey]types.ResourceState)}
}

func (s *StateStore) Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.ResourceState{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[stateKey{tenant, resourceID}]
	if !ok {
		return types.ResourceState{}, false, nil
	}
	return st.Clone(), true, nil
}

func (s *StateStore) Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st := state.Clone()
	st.Tenant = tenant
	st.ResourceID = resourceID
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}

	s.mu.Lock()
	s.states[stateKey{tenant, resourceID}] = st
	s.mu.Unlock()
	return nil
}

func (s *StateStore) GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error) {
	s.mu.RLock()
	snapshot := make([]types.ResourceState, 0)
	for k, st := range s.states {
		if k.tenant == tenant {
			snapshot = append(snapshot, st.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ResourceID < snapshot[j].ResourceID })

	out := make(chan types.ResourceState)
	errs := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errs)
		for _, st := range snapshot {
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

func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *StateStore) Close(ctx context.Context) error {
	return nil
}

type FeedStore struct {
	mu      sync.RWMutex
	entries map[string]storage.FeedEntry
}

func NewFeedStore() *FeedStore {
	return &FeedStore{entries: make(map[string]storage.FeedEntry)}
}

// InsertEntry ignores ids that already exist, like the SQL stores.
func (s *FeedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries[entry.ID] = entry
	return nil
}

func (s *FeedStore) ListRecentEntries(ctx context.Context, limit int) ([]storage.FeedEntry, error) {
	s.mu.RLock()
	entries := make([]storage.FeedEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *FeedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	cutoff := time.Now().Add(-age)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
	return nil
}
