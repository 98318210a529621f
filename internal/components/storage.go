package components

import (
	"context"
	"fmt"

	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
)

type StorageComponent struct {
	cfg     config.StorageConfig
	backend storage.Backend
}

func NewStorageComponent(cfg config.StorageConfig) *StorageComponent {
	return &StorageComponent{cfg: cfg}
}

// NewStorageComponentWith wraps an already opened backend.
func NewStorageComponentWith(backend storage.Backend) *StorageComponent {
	return &StorageComponent{backend: backend}
}

func (c *StorageComponent) Name() string {
	return StorageComponentName
}

func (c *StorageComponent) Dependencies() []string {
	return []string{}
}

func (c *StorageComponent) Validate() error {
	if c.backend != nil {
		return nil
	}
	switch c.cfg.Type {
	case "sqlite", "jsonfile":
		if c.cfg.Path == "" {
			return fmt.Errorf("storage: path is required for %s", c.cfg.Type)
		}
	case "postgres":
		if c.cfg.DSN == "" {
			return fmt.Errorf("storage: dsn is required for postgres")
		}
	case "redis":
		if c.cfg.Addr == "" {
			return fmt.Errorf("storage: addr is required for redis")
		}
	}
	return nil
}

func (c *StorageComponent) Initialize(ctx context.Context) error {
	if c.backend != nil {
		return nil
	}
	backend, err := storage.New(ctx, c.cfg)
	if err != nil {
		return fmt.Errorf("storage: failed to initialize store: %w", err)
	}
	c.backend = backend
	return nil
}

func (c *StorageComponent) Close(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close(ctx)
}

func (c *StorageComponent) Backend() storage.Backend {
	return c.backend
}
