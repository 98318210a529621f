package components

import (
	"context"
	"fmt"

	"resourcewatch/internal/config"
	"resourcewatch/internal/server/feed"
)

type ServerComponent struct {
	cfg     config.ServerConfig
	storage *StorageComponent
	stats   feed.StatsSource
	server  *feed.Server
}

func NewServerComponent(cfg config.ServerConfig, storage *StorageComponent, stats feed.StatsSource) *ServerComponent {
	return &ServerComponent{
		cfg:     cfg,
		storage: storage,
		stats:   stats,
	}
}

func (c *ServerComponent) Name() string {
	return ServerComponentName
}

func (c *ServerComponent) Dependencies() []string {
	return []string{StorageComponentName}
}

func (c *ServerComponent) Validate() error {
	return nil
}

func (c *ServerComponent) Initialize(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	feedStore := c.storage.Backend().Feed()
	if feedStore == nil {
		return fmt.Errorf("servers: storage backend has no feed store")
	}

	server := feed.New("feed", feed.Config{
		Port:     c.cfg.Port,
		FeedSize: c.cfg.FeedSize,
		MaxItems: c.cfg.MaxItems,
	}, feedStore, c.stats)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("servers: failed to start feed server: %w", err)
	}
	c.server = server
	return nil
}

func (c *ServerComponent) Close(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Invalidate tells the feed server that new entries were written.
func (c *ServerComponent) Invalidate() {
	if c.server != nil {
		c.server.Invalidate()
	}
}

func (c *ServerComponent) Server() *feed.Server {
	return c.server
}
