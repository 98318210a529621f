// Package rss lists the items of one or more RSS, Atom or JSON feeds as
// resources. Items seen during List are cached so Fetch rarely has to hit the
// network again.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"resourcewatch/internal/cache"
	"resourcewatch/internal/config"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
	"resourcewatch/internal/utils/hash"
)

const (
	defaultMaxItems   = 50
	defaultCacheTTL   = time.Hour
	feedConcurrency   = 4
	descriptionLength = 500
)

type Config struct {
	Feeds     []Feed
	OPMLFile  string
	MaxItems  int
	CacheTTL  time.Duration
	UserAgent string
	Client    *http.Client
	Logger    *slog.Logger
}

type Provider struct {
	name   string
	cfg    Config
	logger *slog.Logger
	items  *cache.Cache[string, types.ResourceContent]

	// refreshMu keeps concurrent cache misses from fetching every feed at once.
	refreshMu sync.Mutex
	feeds     []Feed
}

func New(name string, cfg Config) *Provider {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Provider{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger.With("provider", name),
		items:  cache.StringCache[types.ResourceContent](cache.CacheConfig{Name: "rss:" + name, TTL: cfg.CacheTTL}),
	}
}

// FromSettings builds a provider from the [workers.<name>.provider.settings] table.
func FromSettings(name string, s config.RSSSettings, logger *slog.Logger) *Provider {
	var feeds []Feed
	if s.FeedURL != "" {
		feeds = append(feeds, Feed{URL: s.FeedURL, Name: name})
	}
	for _, u := range s.FeedURLs {
		feeds = append(feeds, Feed{URL: u, Name: u})
	}

	return New(name, Config{
		Feeds:     feeds,
		OPMLFile:  s.OPMLFile,
		MaxItems:  s.MaxItems,
		CacheTTL:  config.ParseDuration(s.CacheTTL, defaultCacheTTL),
		UserAgent: s.UserAgent,
		Logger:    logger,
	})
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Initialize(ctx context.Context) error {
	feeds := append([]Feed(nil), p.cfg.Feeds...)
	if p.cfg.OPMLFile != "" {
		fromOPML, err := LoadOPMLFile(p.cfg.OPMLFile)
		if err != nil {
			return err
		}
		feeds = append(feeds, fromOPML...)
	}
	if len(feeds) == 0 {
		return fmt.Errorf("rss provider %s: no feeds configured", p.name)
	}

	p.feeds = feeds
	p.logger.Info("RSS provider initializing", "feeds", len(feeds), "max_items", p.cfg.MaxItems)
	return nil
}

func (p *Provider) List(ctx context.Context, filter types.ListFilter) (<-chan types.ResourceMetadata, <-chan error) {
	out := make(chan types.ResourceMetadata)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		metas, err := p.refresh(ctx)
		if err != nil {
			errs <- err
			return
		}

		for _, meta := range metas {
			if filter.Excludes(meta) {
				continue
			}
			select {
			case out <- meta:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (p *Provider) Fetch(ctx context.Context, resourceID string) (*types.ResourceContent, error) {
	if content, ok := p.items.Get(resourceID); ok {
		return cloneContent(content), nil
	}

	p.logger.Debug("RSS item not cached, refreshing feeds", "resource_id", resourceID)
	if _, err := p.refresh(ctx); err != nil {
		return nil, err
	}

	if content, ok := p.items.Get(resourceID); ok {
		return cloneContent(content), nil
	}
	return nil, types.NonRetryablef("item %s is no longer in any feed", resourceID)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	p.logger.Debug("RSS provider shutting down")
	return p.items.Close()
}

type feedResult struct {
	metas []types.ResourceMetadata
	err   error
}

// refresh fetches every feed and caches its items. It fails only when no
// feed could be read; a single broken feed is logged and skipped.
func (p *Provider) refresh(ctx context.Context) ([]types.ResourceMetadata, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	results := make([]feedResult, len(p.feeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for i, feed := range p.feeds {
		g.Go(func() error {
			metas, err := p.fetchFeed(gctx, feed)
			results[i] = feedResult{metas: metas, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		metas  []types.ResourceMetadata
		failed []string
		seen   = make(map[string]bool)
	)
	for i, r := range results {
		if r.err != nil {
			p.logger.Warn("RSS feed failed", "feed_url", p.feeds[i].URL, "error", r.err)
			failed = append(failed, p.feeds[i].URL)
			continue
		}
		for _, m := range r.metas {
			if seen[m.ResourceID] {
				continue
			}
			seen[m.ResourceID] = true
			metas = append(metas, m)
		}
	}

	if len(failed) == len(p.feeds) {
		return nil, fmt.Errorf("failed to fetch any feed: %s", strings.Join(failed, ", "))
	}

	p.logger.Debug("RSS feeds refreshed", "items", len(metas), "failed_feeds", len(failed))
	return metas, nil
}

func (p *Provider) fetchFeed(ctx context.Context, feed Feed) ([]types.ResourceMetadata, error) {
	parser := gofeed.NewParser()
	parser.Client = p.cfg.Client
	if p.cfg.UserAgent != "" {
		parser.UserAgent = p.cfg.UserAgent
	}

	parsed, err := parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	source := feed.Name
	if parsed.Title != "" {
		source = parsed.Title
	}

	limit := min(p.cfg.MaxItems, len(parsed.Items))
	metas := make([]types.ResourceMetadata, 0, limit)
	for _, item := range parsed.Items[:limit] {
		meta, content := convertItem(source, item)
		p.items.Set(meta.ResourceID, content)
		metas = append(metas, meta)
	}
	return metas, nil
}

func convertItem(source string, item *gofeed.Item) (types.ResourceMetadata, types.ResourceContent) {
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	if id == "" {
		id = "rss_" + hash.Fields(source, item.Title, item.Published)[:16]
	}

	var modified time.Time
	switch {
	case item.UpdatedParsed != nil:
		modified = *item.UpdatedParsed
	case item.PublishedParsed != nil:
		modified = *item.PublishedParsed
	}

	body := item.Content
	if body == "" {
		body = item.Description
	}

	fingerprint := hash.Fields(item.Title, item.Link, item.Description, item.Content)

	attrs := map[string]string{
		"title":       item.Title,
		"link":        item.Link,
		"description": utils.StripHTML(item.Description, descriptionLength),
		"source":      source,
	}
	if item.Author != nil {
		author := item.Author.Name
		if author == "" {
			author = item.Author.Email
		}
		attrs["author"] = author
	}
	if item.PublishedParsed != nil {
		attrs["published"] = item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	if item.Image != nil && item.Image.URL != "" {
		attrs["image"] = item.Image.URL
	}
	if len(item.Categories) > 0 {
		attrs["categories"] = strings.Join(item.Categories, ", ")
	}

	meta := types.ResourceMetadata{ResourceID: id, Fingerprint: fingerprint, Modified: modified}
	content := types.ResourceContent{
		ResourceID:  id,
		Data:        []byte(body),
		ContentType: "text/html",
		Attributes:  attrs,
	}
	return meta, content
}

func cloneContent(c types.ResourceContent) *types.ResourceContent {
	out := c
	out.Data = append([]byte(nil), c.Data...)
	out.Attributes = make(map[string]string, len(c.Attributes))
	for k, v := range c.Attributes {
		out.Attributes[k] = v
	}
	return &out
}
