// Package storagetest holds the behavior every StateStore implementation must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/core"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
)

// RunStateStoreContract exercises store. newStore must return an empty store
// and register its own cleanup.
func RunStateStoreContract(t *testing.T, newStore func(t *testing.T) storage.StateStore) {
	t.Helper()

	base := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)

	t.Run("missing key", func(t *testing.T) {
		store := newStore(t)
		_, found, err := store.Get(context.Background(), "tenant", "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		until := base.Add(24 * time.Hour)
		in := types.ResourceState{
			Fingerprint: "v1",
			Modified:    base,
			RetryCount:  3,
			BannedUntil: &until,
			Extensions:  []byte(`{"seen":2}`),
			UpdatedAt:   base.Add(time.Minute),
		}
		require.NoError(t, store.Upsert(ctx, "tenant", "blog-1", in))

		out, found, err := store.Get(ctx, "tenant", "blog-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "tenant", out.Tenant)
		assert.Equal(t, "blog-1", out.ResourceID)
		assert.Equal(t, "v1", out.Fingerprint)
		assert.True(t, base.Equal(out.Modified), "modified %s", out.Modified)
		assert.Equal(t, uint(3), out.RetryCount)
		require.NotNil(t, out.BannedUntil)
		assert.True(t, until.Equal(*out.BannedUntil))
		assert.Equal(t, []byte(`{"seen":2}`), out.Extensions)
	})

	t.Run("unchanged resource stays unchanged after a round trip", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		meta := types.ResourceMetadata{ResourceID: "file.md", Fingerprint: "v1", Modified: time.Unix(0, 1714550400123456789)}
		require.NoError(t, store.Upsert(ctx, "tenant", meta.ResourceID, types.ResourceState{
			Fingerprint: meta.Fingerprint,
			Modified:    meta.Modified,
		}))

		out, found, err := store.Get(ctx, "tenant", meta.ResourceID)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, meta.Modified.UnixNano(), out.Modified.UnixNano())
		assert.Equal(t, types.ProcessNothingToDo, core.Classify(meta, &out, time.Now()))
	})

	t.Run("upsert replaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		until := base.Add(time.Hour)
		require.NoError(t, store.Upsert(ctx, "tenant", "r", types.ResourceState{Fingerprint: "v1", RetryCount: 5, BannedUntil: &until, Extensions: []byte("x")}))
		require.NoError(t, store.Upsert(ctx, "tenant", "r", types.ResourceState{Fingerprint: "v2", Modified: base}))

		out, found, err := store.Get(ctx, "tenant", "r")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v2", out.Fingerprint)
		assert.Zero(t, out.RetryCount)
		assert.Nil(t, out.BannedUntil)
		assert.Empty(t, out.Extensions)
	})

	t.Run("tenants are isolated", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Upsert(ctx, "a", "shared-id", types.ResourceState{Fingerprint: "from-a"}))
		require.NoError(t, store.Upsert(ctx, "b", "shared-id", types.ResourceState{Fingerprint: "from-b"}))

		a, _, err := store.Get(ctx, "a", "shared-id")
		require.NoError(t, err)
		b, _, err := store.Get(ctx, "b", "shared-id")
		require.NoError(t, err)
		assert.Equal(t, "from-a", a.Fingerprint)
		assert.Equal(t, "from-b", b.Fingerprint)
	})

	t.Run("get many", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, store.Upsert(ctx, "many", fmt.Sprintf("r-%d", i), types.ResourceState{Fingerprint: "v"}))
		}
		require.NoError(t, store.Upsert(ctx, "other", "r-x", types.ResourceState{Fingerprint: "v"}))

		states, err := storage.CollectStates(ctx, store, "many")
		require.NoError(t, err)
		ids := make([]string, 0, len(states))
		for _, s := range states {
			assert.Equal(t, "many", s.Tenant)
			ids = append(ids, s.ResourceID)
		}
		assert.ElementsMatch(t, []string{"r-0", "r-1", "r-2", "r-3", "r-4"}, ids)
	})

	t.Run("concurrent upserts on distinct keys", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.Upsert(ctx, "conc", fmt.Sprintf("r-%02d", i), types.ResourceState{Fingerprint: fmt.Sprint(i)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		states, err := storage.CollectStates(ctx, store, "conc")
		require.NoError(t, err)
		assert.Len(t, states, 20)
	})
}

// RunFeedStoreContract exercises the feed entry table shared by the feed sink and server.
func RunFeedStoreContract(t *testing.T, newStore func(t *testing.T) storage.FeedStore) {
	t.Helper()

	t.Run("insert and list", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.InsertEntry(ctx, storage.FeedEntry{ID: "1", Title: "first", Link: "https://example.com/1", Source: "blog"}))
		require.NoError(t, store.InsertEntry(ctx, storage.FeedEntry{ID: "2", Title: "second", Link: "https://example.com/2", Source: "blog"}))
		require.NoError(t, store.InsertEntry(ctx, storage.FeedEntry{ID: "1", Title: "duplicate"}))

		entries, err := store.ListRecentEntries(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		titles := []string{entries[0].Title, entries[1].Title}
		assert.ElementsMatch(t, []string{"first", "second"}, titles)
	})

	t.Run("limit", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			require.NoError(t, store.InsertEntry(ctx, storage.FeedEntry{ID: fmt.Sprint(i), Title: fmt.Sprint(i)}))
		}
		entries, err := store.ListRecentEntries(ctx, 3)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})
}
