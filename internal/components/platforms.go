package components

import (
	"context"
	"fmt"
	"sort"

	"resourcewatch/internal/config"
	"resourcewatch/internal/platforms"
)

const (
	PlatformDiscord = "discord"
	PlatformOllama  = "ollama"
	PlatformBluesky = "bluesky"
)

// PlatformComponent holds one client per configured platform, keyed by the
// platform's name in the config.
type PlatformComponent struct {
	config  map[string]config.PlatformConfig
	discord map[string]*platforms.DiscordPlatform
	ollama  map[string]*platforms.OllamaPlatform
	bluesky map[string]*platforms.BlueskyPlatform
}

func NewPlatformComponent(cfg map[string]config.PlatformConfig) *PlatformComponent {
	return &PlatformComponent{
		config:  cfg,
		discord: make(map[string]*platforms.DiscordPlatform),
		ollama:  make(map[string]*platforms.OllamaPlatform),
		bluesky: make(map[string]*platforms.BlueskyPlatform),
	}
}

func (c *PlatformComponent) Name() string {
	return PlatformComponentName
}

func (c *PlatformComponent) Dependencies() []string {
	return []string{}
}

func (c *PlatformComponent) Validate() error {
	for name, p := range c.config {
		switch p.Type {
		case PlatformDiscord:
			if p.Settings.BotToken == "" {
				return fmt.Errorf("platform %s: bot_token is required", name)
			}
		case PlatformOllama:
			if p.Settings.Model == "" {
				return fmt.Errorf("platform %s: model is required", name)
			}
		case PlatformBluesky:
			if p.Settings.Identifier == "" || p.Settings.Password == "" {
				return fmt.Errorf("platform %s: identifier and password are required", name)
			}
		default:
			return fmt.Errorf("platform %s: unknown type %q", name, p.Type)
		}
	}
	return nil
}

func (c *PlatformComponent) Initialize(ctx context.Context) error {
	names := make([]string, 0, len(c.config))
	for name := range c.config {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.config[name]
		switch p.Type {
		case PlatformDiscord:
			discord, err := platforms.NewDiscordPlatform(p.Settings.DiscordPlatformSettings, p.Sleep)
			if err != nil {
				return fmt.Errorf("failed to create discord platform %s: %w", name, err)
			}
			if err := discord.Initialize(ctx); err != nil {
				return fmt.Errorf("discord platform %s initialization failed: %w", name, err)
			}
			c.discord[name] = discord
		case PlatformOllama:
			ollama, err := platforms.NewOllamaPlatform(p.Settings.Host, p.Settings.Model)
			if err != nil {
				return fmt.Errorf("ollama platform %s: %w", name, err)
			}
			c.ollama[name] = ollama
		case PlatformBluesky:
			bluesky, err := platforms.NewBlueskyPlatform(p.Settings.BlueskyPlatformSettings, p.Sleep)
			if err != nil {
				return fmt.Errorf("failed to create bluesky platform %s: %w", name, err)
			}
			if err := bluesky.Initialize(ctx); err != nil {
				return fmt.Errorf("bluesky platform %s initialization failed: %w", name, err)
			}
			c.bluesky[name] = bluesky
		}
	}
	return nil
}

func (c *PlatformComponent) Close(ctx context.Context) error {
	var firstErr error
	for _, d := range c.discord {
		if err := d.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, b := range c.bluesky {
		if err := b.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *PlatformComponent) Discord(name string) (*platforms.DiscordPlatform, error) {
	if p, ok := c.discord[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("discord platform %s is not configured", name)
}

func (c *PlatformComponent) Ollama(name string) (*platforms.OllamaPlatform, error) {
	if p, ok := c.ollama[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("ollama platform %s is not configured", name)
}

func (c *PlatformComponent) Bluesky(name string) (*platforms.BlueskyPlatform, error) {
	if p, ok := c.bluesky[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("bluesky platform %s is not configured", name)
}
