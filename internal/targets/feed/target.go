// Package feed stores processed resources as entries of the syndication feed
// served by internal/server/feed.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

const descriptionLimit = 500

type Target struct {
	name      string
	feedStore storage.FeedStore
	onInsert  func()
}

// New returns the sink. onInsert, when set, runs after every stored entry.
func New(name string, feedStore storage.FeedStore, onInsert func()) (*Target, error) {
	if feedStore == nil {
		return nil, fmt.Errorf("feed target %s: storage backend has no feed store", name)
	}
	return &Target{
		name:      name,
		feedStore: feedStore,
		onInsert:  onInsert,
	}, nil
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) Process(ctx context.Context, res *types.Resource) error {
	entry := EntryFor(res)
	if err := t.feedStore.InsertEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}

	slog.Debug("Feed target inserted entry", "target", t.name, "resource_id", res.ID(), "entry_id", entry.ID)
	if t.onInsert != nil {
		t.onInsert()
	}
	return nil
}

// EntryFor maps a resource onto a feed entry. Each version of a resource gets
// its own entry id, and retrying the same version inserts nothing new.
func EntryFor(res *types.Resource) storage.FeedEntry {
	title := res.Attribute("title")
	if title == "" {
		title = "Untitled"
	}

	link := res.Attribute("url")
	if link == "" {
		link = res.Attribute("link")
	}

	description := res.Attribute("description")
	if description == "" {
		description = res.Attribute("text")
	}

	content := res.Attribute("summary")
	if content == "" {
		content = res.Attribute("rendered")
	}

	published := res.Metadata.Modified
	if p, err := time.Parse(time.RFC3339, res.Attribute("published")); err == nil {
		published = p
	}
	if published.IsZero() {
		published = time.Now()
	}

	source := res.Attribute("source")
	if source == "" {
		source = res.Tenant
	}

	id := res.Tenant + "/" + res.ID()
	if fp := res.Metadata.Fingerprint; fp != "" {
		if len(fp) > 16 {
			fp = fp[:16]
		}
		id += "#" + fp
	}

	return storage.FeedEntry{
		ID:          id,
		Title:       title,
		Link:        link,
		Description: utils.StripHTML(description, descriptionLimit),
		Content:     content,
		Author:      res.Attribute("author"),
		Source:      source,
		ImageURL:    res.Attribute("image"),
		PublishedAt: published.UTC(),
	}
}
