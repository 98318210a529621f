// Package bluesky posts processed resources to a Bluesky account.
package bluesky

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bluesky-social/indigo/api/bsky"

	"resourcewatch/internal/template"
	"resourcewatch/internal/types"
)

// Poster is the part of the Bluesky platform the target needs.
type Poster interface {
	CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error)
}

type Config struct {
	// PostTemplate renders a JSON Post. Empty means the post is built from
	// the resource's attributes.
	PostTemplate string
	Languages    []string
	Sleep        time.Duration
	Now          func() time.Time
}

type Target struct {
	name   string
	poster Poster
	cfg    Config
	post   *template.Template
}

func New(name string, poster Poster, cfg Config) (*Target, error) {
	if poster == nil {
		return nil, fmt.Errorf("bluesky target %s: platform is required", name)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	t := &Target{name: name, poster: poster, cfg: cfg}
	if cfg.PostTemplate != "" {
		var err error
		if t.post, err = template.Parse(name+"-post", cfg.PostTemplate, template.Text); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (b *Target) Name() string {
	return b.name
}

func (b *Target) Process(ctx context.Context, res *types.Resource) error {
	post, err := b.BuildPost(res)
	if err != nil {
		return types.NonRetryable(fmt.Errorf("failed to build post: %w", err))
	}

	uri, err := b.poster.CreatePost(ctx, post)
	if err != nil {
		return err
	}

	slog.Debug("Bluesky target posted resource", "target", b.name, "resource_id", res.ID(), "uri", uri)

	if b.cfg.Sleep > 0 {
		select {
		case <-time.After(b.cfg.Sleep):
		case <-ctx.Done():
		}
	}
	return nil
}

func (b *Target) BuildPost(res *types.Resource) (*bsky.FeedPost, error) {
	var post Post
	if b.post == nil {
		post.From(res)
	} else {
		out, err := b.post.Render(template.View(res))
		if err != nil {
			return nil, err
		}
		if err := post.TryFrom([]byte(strings.TrimSpace(out))); err != nil {
			return nil, err
		}
	}

	rt := post.Into()
	if rt.Text == "" {
		return nil, fmt.Errorf("post text is empty")
	}
	if n := utf8.RuneCountInString(rt.Text); n > postTextLimit {
		return nil, fmt.Errorf("post text is %d characters, limit is %d", n, postTextLimit)
	}

	var external *bsky.EmbedExternal_External
	if post.Embed != nil {
		var err error
		if external, err = post.Embed.TryInto(); err != nil {
			return nil, err
		}
	}
	return BuildPost(rt, external, b.cfg.Languages, b.cfg.Now()), nil
}
