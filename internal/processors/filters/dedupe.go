package filters

import (
	"context"
	"sync"
	"time"

	"resourcewatch/internal/cache"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils/hash"
)

// DedupeProcessor filters a resource whose content was already seen under a
// different resource id within the TTL, such as one article syndicated by two
// feeds. The same id passes again so retries and edits are not swallowed.
type DedupeProcessor struct {
	name string
	mu   sync.Mutex
	seen *cache.Cache[string, string]
}

func NewDedupeProcessor(name string, ttl time.Duration) *DedupeProcessor {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupeProcessor{
		name: name,
		seen: cache.StringCache[string](cache.CacheConfig{Name: "dedupe:" + name, TTL: ttl}),
	}
}

func (d *DedupeProcessor) Name() string {
	return d.name
}

func (d *DedupeProcessor) Process(ctx context.Context, res *types.Resource) error {
	key := d.hashResource(res)

	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.seen.Get(key); ok && owner != res.ID() {
		return types.NewFilteredError(d.name, res.ID(), "duplicate content").WithDetail("first_seen_as", owner)
	}
	d.seen.Set(key, res.ID())
	return nil
}

func (d *DedupeProcessor) hashResource(res *types.Resource) string {
	if data := res.Data(); len(data) > 0 {
		return res.Tenant + ":" + hash.Sum(data)
	}
	return res.Tenant + ":" + hash.Fields(res.Attribute("link"), res.Attribute("title"))
}

func (d *DedupeProcessor) Shutdown(ctx context.Context) error {
	return d.seen.Close()
}
