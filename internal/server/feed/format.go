package feed

import (
	"github.com/gorilla/feeds"

	"resourcewatch/internal/cache"
)

// Format is one serialization of the feed.
type Format string

const (
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
	FormatJSON Format = "json"
)

func (f Format) ContentType() string {
	switch f {
	case FormatAtom:
		return "application/atom+xml; charset=utf-8"
	case FormatJSON:
		return "application/feed+json; charset=utf-8"
	default:
		return "application/rss+xml; charset=utf-8"
	}
}

func (f Format) encode(feed *feeds.Feed) (string, error) {
	switch f {
	case FormatAtom:
		return feed.ToAtom()
	case FormatJSON:
		return feed.ToJSON()
	default:
		return feed.ToRss()
	}
}

// renderKey identifies a rendered body. Keys of one server share the
// "<server>:" prefix so Invalidate can drop them together.
type renderKey struct {
	server string
	format Format
}

func newRenderCache(server string) *cache.Cache[renderKey, string] {
	return cache.NewCache[renderKey, string](
		cache.CacheConfig{Name: "feed:" + server, TTL: renderTTL},
		func(k renderKey) string { return k.server + ":" + string(k.format) },
	)
}
