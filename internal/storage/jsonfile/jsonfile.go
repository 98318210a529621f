// Package jsonfile stores each resource state as its own JSON document on disk.
// Writes go to a temp file in the same directory that is synced and renamed
// over the target, so readers never see a partial record.
package jsonfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/storage/memory"
	"resourcewatch/internal/types"
	"resourcewatch/internal/utils"
)

func init() {
	storage.RegisterFactory("jsonfile", func(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
		store, err := New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Backend{state: store, feed: memory.NewFeedStore()}, nil
	})
}

// Backend keeps feed entries in memory; only resource state is on disk.
type Backend struct {
	state *StateStore
	feed  storage.FeedStore
}

func (b *Backend) State() storage.StateStore { return b.state }
func (b *Backend) Feed() storage.FeedStore   { return b.feed }

func (b *Backend) Close(ctx context.Context) error {
	return b.state.Close(ctx)
}

type StateStore struct {
	dir string
}

func New(dir string) (*StateStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("jsonfile storage requires a directory path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	slog.Info("Initializing JSON file storage", "path", dir)
	return &StateStore{dir: dir}, nil
}

func hashName(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func (s *StateStore) tenantDir(tenant string) string {
	return filepath.Join(s.dir, hashName(tenant))
}

func (s *StateStore) path(tenant, resourceID string) string {
	return filepath.Join(s.tenantDir(tenant), hashName(resourceID)+".json")
}

func (s *StateStore) Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.ResourceState{}, false, err
	}

	data, err := os.ReadFile(s.path(tenant, resourceID))
	if errors.Is(err, os.ErrNotExist) {
		return types.ResourceState{}, false, nil
	}
	if err != nil {
		return types.ResourceState{}, false, fmt.Errorf("failed to read state for %s/%s: %w", tenant, resourceID, err)
	}

	st, err := storage.DecodeState(data)
	if err != nil {
		return types.ResourceState{}, false, err
	}
	return st, true, nil
}

func (s *StateStore) Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state.Tenant = tenant
	state.ResourceID = resourceID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	data, err := storage.EncodeState(state)
	if err != nil {
		return err
	}

	dir := s.tenantDir(tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create tenant directory: %w", err)
	}

	if err := utils.WriteFileAtomic(s.path(tenant, resourceID), data); err != nil {
		return fmt.Errorf("failed to write state for %s/%s: %w", tenant, resourceID, err)
	}
	return nil
}

func (s *StateStore) GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error) {
	out := make(chan types.ResourceState)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		dir := s.tenantDir(tenant)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			return
		}
		if err != nil {
			errs <- fmt.Errorf("failed to list states: %w", err)
			return
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				errs <- fmt.Errorf("failed to read %s: %w", name, err)
				return
			}
			st, err := storage.DecodeState(data)
			if err != nil {
				errs <- err
				return
			}
			select {
			case out <- st:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return out, errs
}

func (s *StateStore) Close(ctx context.Context) error {
	return nil
}
