// Package redis stores resource state in one hash per tenant, one field per
// resource id holding the JSON record. HSET replaces a field atomically.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"resourcewatch/internal/config"
	"resourcewatch/internal/storage"
	"resourcewatch/internal/types"
)

const scanBatch = 200

func init() {
	storage.RegisterFactory("redis", func(ctx context.Context, cfg config.StorageConfig) (storage.Backend, error) {
		return New(ctx, cfg)
	})
}

type Storage struct {
	client *goredis.Client
	state  *StateStore
	feed   *FeedStore
}

func New(ctx context.Context, cfg config.StorageConfig) (*Storage, error) {
	slog.Info("Initializing Redis storage", "addr", cfg.Addr, "db", cfg.DB, "key_prefix", cfg.KeyPrefix)

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "resourcewatch"
	}

	return &Storage{
		client: client,
		state:  &StateStore{client: client, prefix: prefix},
		feed:   &FeedStore{client: client, prefix: prefix},
	}, nil
}

func (s *Storage) State() storage.StateStore { return s.state }
func (s *Storage) Feed() storage.FeedStore   { return s.feed }

func (s *Storage) Close(ctx context.Context) error {
	return s.client.Close()
}

type StateStore struct {
	client *goredis.Client
	prefix string
}

func (s *StateStore) key(tenant string) string {
	return s.prefix + ":state:" + tenant
}

func (s *StateStore) Get(ctx context.Context, tenant, resourceID string) (types.ResourceState, bool, error) {
	data, err := s.client.HGet(ctx, s.key(tenant), resourceID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return types.ResourceState{}, false, nil
	}
	if err != nil {
		return types.ResourceState{}, false, fmt.Errorf("failed to get state for %s/%s: %w", tenant, resourceID, err)
	}

	st, err := storage.DecodeState(data)
	if err != nil {
		return types.ResourceState{}, false, err
	}
	return st, true, nil
}

func (s *StateStore) Upsert(ctx context.Context, tenant, resourceID string, state types.ResourceState) error {
	state.Tenant = tenant
	state.ResourceID = resourceID
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}

	data, err := storage.EncodeState(state)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key(tenant), resourceID, data).Err(); err != nil {
		return fmt.Errorf("failed to upsert state for %s/%s: %w", tenant, resourceID, err)
	}
	return nil
}

func (s *StateStore) GetMany(ctx context.Context, tenant string) (<-chan types.ResourceState, <-chan error) {
	out := make(chan types.ResourceState)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		var cursor uint64
		for {
			kv, next, err := s.client.HScan(ctx, s.key(tenant), cursor, "", scanBatch).Result()
			if err != nil {
				errs <- fmt.Errorf("failed to scan states: %w", err)
				return
			}

			for i := 1; i < len(kv); i += 2 {
				st, err := storage.DecodeState([]byte(kv[i]))
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

			if next == 0 {
				return
			}
			cursor = next
		}
	}()

	return out, errs
}

// Close is a no-op; the client belongs to Storage.
func (s *StateStore) Close(ctx context.Context) error {
	return nil
}

// FeedStore keeps entries in a hash and orders them with a sorted set scored
// by creation time.
type FeedStore struct {
	client *goredis.Client
	prefix string
}

func (s *FeedStore) entriesKey() string { return s.prefix + ":feed:entries" }
func (s *FeedStore) indexKey() string   { return s.prefix + ":feed:index" }

func (s *FeedStore) InsertEntry(ctx context.Context, entry storage.FeedEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	added, err := s.client.HSetNX(ctx, s.entriesKey(), entry.ID, data).Result()
	if err != nil {
		return fmt.Errorf("failed to insert feed entry: %w", err)
	}
	if !added {
		return nil
	}

	score := float64(entry.CreatedAt.UnixNano())
	if err := s.client.ZAddNX(ctx, s.indexKey(), goredis.Z{Score: score, Member: entry.ID}).Err(); err != nil {
		return fmt.Errorf("failed to index feed entry: %w", err)
	}
	return nil
}

func (s *FeedStore) ListRecentEntries(ctx context.Context, limit int) ([]storage.FeedEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	entries := make([]storage.FeedEntry, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *FeedStore) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	max := strconv.FormatInt(time.Now().Add(-age).UnixNano(), 10)

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{Min: "-inf", Max: "(" + max}).Result()
	if err != nil {
		return fmt.Errorf("failed to find old entries: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, s.entriesKey(), ids...)
		pipe.ZRem(ctx, s.indexKey(), toMembers(ids)...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete old entries: %w", err)
	}
	return nil
}

func toMembers(ids []string) []interface{} {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return members
}
