package components

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resourcewatch/internal/config"
	"resourcewatch/internal/diagnostics"
	"resourcewatch/internal/storage/memory"
)

type fakeComponent struct {
	name    string
	deps    []string
	initErr error
	log     *[]string
}

func (f *fakeComponent) Name() string           { return f.name }
func (f *fakeComponent) Dependencies() []string { return f.deps }
func (f *fakeComponent) Validate() error        { return nil }

func (f *fakeComponent) Initialize(ctx context.Context) error {
	if f.initErr != nil {
		return f.initErr
	}
	*f.log = append(*f.log, "init "+f.name)
	return nil
}

func (f *fakeComponent) Close(ctx context.Context) error {
	*f.log = append(*f.log, "close "+f.name)
	return nil
}

func TestRegistryOrder(t *testing.T) {
	var log []string
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeComponent{name: "server", deps: []string{"store"}, log: &log}))
	require.NoError(t, r.Register(&fakeComponent{name: "store", log: &log}))
	require.NoError(t, r.Register(&fakeComponent{name: "other", log: &log}))
	assert.Error(t, r.Register(&fakeComponent{name: "store", log: &log}))

	require.NoError(t, r.InitializeAll(context.Background()))
	require.NoError(t, r.CloseAll(context.Background()))

	assert.Equal(t, []string{
		"init store", "init server", "init other",
		"close other", "close server", "close store",
	}, log)

	_, ok := r.Get("store")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryInitFailureClosesStarted(t *testing.T) {
	var log []string
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeComponent{name: "a", log: &log}))
	require.NoError(t, r.Register(&fakeComponent{name: "b", deps: []string{"a"}, initErr: errors.New("boom"), log: &log}))

	err := r.InitializeAll(context.Background())
	require.ErrorContains(t, err, "boom")
	assert.Equal(t, []string{"init a", "close a"}, log)
}

func TestRegistryRejectsMissingDependency(t *testing.T) {
	var log []string
	r := NewRegistry()
	require.NoError(t, r.Register(&fakeComponent{name: "a", deps: []string{"nope"}, log: &log}))
	assert.Error(t, r.InitializeAll(context.Background()))
}

func TestStorageComponent(t *testing.T) {
	c := NewStorageComponent(config.StorageConfig{Type: "memory"})
	require.NoError(t, c.Validate())
	require.NoError(t, c.Initialize(context.Background()))
	require.NotNil(t, c.Backend())
	assert.NotNil(t, c.Backend().State())
	require.NoError(t, c.Close(context.Background()))

	assert.Error(t, NewStorageComponent(config.StorageConfig{Type: "postgres"}).Validate())
	assert.Error(t, NewStorageComponent(config.StorageConfig{Type: "nope"}).Initialize(context.Background()))
}

func TestPlatformComponent(t *testing.T) {
	c := NewPlatformComponent(map[string]config.PlatformConfig{
		"llm": {Type: PlatformOllama, Settings: config.PlatformSettings{OllamaPlatformSettings: config.OllamaPlatformSettings{Host: "http://127.0.0.1:11434", Model: "qwen"}}},
	})
	require.NoError(t, c.Validate())
	require.NoError(t, c.Initialize(context.Background()))

	ollama, err := c.Ollama("llm")
	require.NoError(t, err)
	assert.Equal(t, "qwen", ollama.Model())

	_, err = c.Discord("llm")
	assert.Error(t, err)

	bad := NewPlatformComponent(map[string]config.PlatformConfig{"x": {Type: PlatformDiscord}})
	assert.Error(t, bad.Validate())
	bad = NewPlatformComponent(map[string]config.PlatformConfig{"x": {Type: "mastodon"}})
	assert.Error(t, bad.Validate())
}

func TestPlatformComponentBlueskyValidation(t *testing.T) {
	c := NewPlatformComponent(map[string]config.PlatformConfig{
		"social": {Type: PlatformBluesky, Settings: config.PlatformSettings{
			BlueskyPlatformSettings: config.BlueskyPlatformSettings{Identifier: "me.bsky.social"},
		}},
	})
	assert.ErrorContains(t, c.Validate(), "identifier and password are required")

	c = NewPlatformComponent(map[string]config.PlatformConfig{
		"social": {Type: PlatformBluesky, Settings: config.PlatformSettings{
			BlueskyPlatformSettings: config.BlueskyPlatformSettings{Identifier: "me.bsky.social", Password: "app-pass"},
		}},
	})
	require.NoError(t, c.Validate())

	_, err := c.Bluesky("social")
	assert.ErrorContains(t, err, "not configured")
}

func TestServerComponentDisabled(t *testing.T) {
	store := NewStorageComponentWith(memory.New())
	c := NewServerComponent(config.ServerConfig{}, store, diagnostics.NewStatsListener())
	require.NoError(t, c.Initialize(context.Background()))
	assert.Nil(t, c.Server())
	c.Invalidate()
	require.NoError(t, c.Close(context.Background()))
}

func TestServerComponentStarts(t *testing.T) {
	store := NewStorageComponentWith(memory.New())
	c := NewServerComponent(config.ServerConfig{Enabled: true, Port: "0"}, store, diagnostics.NewStatsListener())
	require.NoError(t, c.Initialize(context.Background()))
	require.NotNil(t, c.Server())
	c.Invalidate()
	require.NoError(t, c.Close(context.Background()))
}
