package platforms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"resourcewatch/internal/config"
)

const (
	defaultBlueskyHost = "https://bsky.social"
	postCollection     = "app.bsky.feed.post"
)

type BlueskyPlatform struct {
	identifier string
	password   string
	host       string
	sleep      time.Duration

	mu     sync.Mutex
	client *xrpc.Client
}

func NewBlueskyPlatform(settings config.BlueskyPlatformSettings, sleepStr string) (*BlueskyPlatform, error) {
	if settings.Identifier == "" {
		return nil, fmt.Errorf("bluesky platform: identifier is required")
	}
	if settings.Password == "" {
		return nil, fmt.Errorf("bluesky platform: password is required")
	}

	host := settings.PDSHost
	if host == "" {
		host = defaultBlueskyHost
	}

	return &BlueskyPlatform{
		identifier: settings.Identifier,
		password:   settings.Password,
		host:       host,
		sleep:      config.ParseDuration(sleepStr, 1*time.Second),
	}, nil
}

func (p *BlueskyPlatform) Initialize(ctx context.Context) error {
	client, err := p.login(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	slog.Info("Bluesky session created", "handle", client.Auth.Handle)
	return nil
}

func (p *BlueskyPlatform) login(ctx context.Context) (*xrpc.Client, error) {
	client := &xrpc.Client{Host: p.host}

	auth, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: p.identifier,
		Password:   p.password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate with bluesky: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}
	return client, nil
}

func (p *BlueskyPlatform) Close(ctx context.Context) error {
	p.mu.Lock()
	p.client = nil
	p.mu.Unlock()
	return nil
}

func (p *BlueskyPlatform) Client() (*xrpc.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil, fmt.Errorf("bluesky session is not open")
	}
	return p.client, nil
}

func (p *BlueskyPlatform) SleepDuration() time.Duration {
	return p.sleep
}

// CreatePost writes post to the logged-in account's repo and returns the
// record's at:// uri. An expired session is recreated once.
func (p *BlueskyPlatform) CreatePost(ctx context.Context, post *bsky.FeedPost) (string, error) {
	client, err := p.Client()
	if err != nil {
		return "", err
	}

	resp, err := createRecord(ctx, client, post)
	if err != nil && sessionExpired(err) {
		slog.Info("Bluesky session expired, logging in again")
		if client, err = p.login(ctx); err != nil {
			return "", err
		}
		p.mu.Lock()
		p.client = client
		p.mu.Unlock()
		resp, err = createRecord(ctx, client, post)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	return resp.Uri, nil
}

func createRecord(ctx context.Context, c *xrpc.Client, post *bsky.FeedPost) (*atproto.RepoCreateRecord_Output, error) {
	return atproto.RepoCreateRecord(ctx, c, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       c.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: post},
	})
}

func sessionExpired(err error) bool {
	var xe *xrpc.Error
	if !errors.As(err, &xe) {
		return false
	}
	return xe.StatusCode == http.StatusBadRequest || xe.StatusCode == http.StatusUnauthorized
}
