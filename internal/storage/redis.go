package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	backend "github.com/redis/go-redis/v9"

	"postcast/pkg/logx"
)

// redisStore keeps each record as JSON under <prefix>rec:<id> and orders
// ids in the <prefix>index sorted set scored by creation time.
type redisStore struct {
	client *backend.Client
	prefix string
	log    logx.Logger
}

func openRedis(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, cfg.Prefix, log), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *backend.Client, prefix string, log logx.Logger) Store {
	if prefix == "" {
		prefix = "postcast:log:"
	}
	return &redisStore{client: client, prefix: prefix, log: log}
}

func (s *redisStore) key(id string) string { return s.prefix + "rec:" + id }
func (s *redisStore) indexKey() string     { return s.prefix + "index" }

func (s *redisStore) Put(ctx context.Context, r Record) error {
	if strings.TrimSpace(r.ID) == "" {
		return errEmptyID
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(r.ID), b, 0)
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: float64(r.Created.UnixMilli()), Member: r.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to get from redis: %w", err)
	}
	var r Record
	if err := json.Unmarshal(val, &r); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return r, nil
}

func (s *redisStore) List(ctx context.Context) ([]Record, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	out := make([]Record, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(str), &r); err != nil {
			s.log.Warn("skipping undecodable record", logx.String("id", ids[i]), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	sortRecords(out)
	return out, nil
}

func (s *redisStore) Delete(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(del.Val()), nil
}

func (s *redisStore) Close() error { return s.client.Close() }
