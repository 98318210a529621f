package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/storage/memory"
	"resourcewatch/internal/types"
)

func resource(fingerprint string, attrs map[string]string) *types.Resource {
	meta := types.ResourceMetadata{
		ResourceID:  "post-1",
		Fingerprint: fingerprint,
		Modified:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	return types.NewResource("blog", meta, &types.ResourceContent{ResourceID: "post-1", Attributes: attrs}, types.ProcessNew, nil)
}

func TestEntryFor(t *testing.T) {
	entry := EntryFor(resource("0123456789abcdef0123", map[string]string{
		"title":       "Hello",
		"link":        "https://example.com/1",
		"description": "<p>Some <b>text</b></p>",
		"summary":     "Short.",
		"author":      "Ann",
		"published":   "2024-02-01T00:00:00Z",
		"image":       "https://example.com/i.png",
	}))

	assert.Equal(t, "blog/post-1#0123456789abcdef", entry.ID)
	assert.Equal(t, "Hello", entry.Title)
	assert.Equal(t, "https://example.com/1", entry.Link)
	assert.Equal(t, "Some text", entry.Description)
	assert.Equal(t, "Short.", entry.Content)
	assert.Equal(t, "Ann", entry.Author)
	assert.Equal(t, "blog", entry.Source)
	assert.Equal(t, "https://example.com/i.png", entry.ImageURL)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), entry.PublishedAt)
}

func TestEntryForDefaults(t *testing.T) {
	entry := EntryFor(resource("", nil))
	assert.Equal(t, "blog/post-1", entry.ID)
	assert.Equal(t, "Untitled", entry.Title)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), entry.PublishedAt)
}

func TestProcessInsertsOncePerVersion(t *testing.T) {
	store := memory.NewFeedStore()
	inserts := 0
	target, err := New("feed", store, func() { inserts++ })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, target.Process(ctx, resource("v1", map[string]string{"title": "A"})))
	require.NoError(t, target.Process(ctx, resource("v1", map[string]string{"title": "A"})))
	require.NoError(t, target.Process(ctx, resource("v2", map[string]string{"title": "A2"})))

	entries, err := store.ListRecentEntries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, 3, inserts)
}

func TestNewRequiresFeedStore(t *testing.T) {
	_, err := New("feed", nil, nil)
	assert.Error(t, err)
}
