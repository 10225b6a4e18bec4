package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// InfoStore is the keyed per-account cache (channel lists, instance
// capabilities). Values are JSON encoded.
type InfoStore interface {
	// Get decodes the value into out and reports whether it existed.
	Get(ctx context.Context, accountID, key string, out any) (bool, error)
	Put(ctx context.Context, accountID, key string, v any) error
}

type MemoryInfoStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryInfoStore() *MemoryInfoStore {
	return &MemoryInfoStore{m: map[string][]byte{}}
}

func infoKey(accountID, key string) string { return accountID + "/" + key }

func (s *MemoryInfoStore) Get(_ context.Context, accountID, key string, out any) (bool, error) {
	s.mu.RLock()
	b, ok := s.m[infoKey(accountID, key)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (s *MemoryInfoStore) Put(_ context.Context, accountID, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.m[infoKey(accountID, key)] = b
	s.mu.Unlock()
	return nil
}

// RedisInfoStore keeps one hash per account.
type RedisInfoStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisInfoStore)

func WithPrefix(p string) RedisOption       { return func(s *RedisInfoStore) { s.prefix = p } }
func WithTTL(ttl time.Duration) RedisOption { return func(s *RedisInfoStore) { s.ttl = ttl } }

func NewRedisInfoStore(client *backend.Client, opts ...RedisOption) *RedisInfoStore {
	s := &RedisInfoStore{client: client, prefix: "postcast:info:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisInfoStore) key(accountID string) string { return s.prefix + accountID }

func (s *RedisInfoStore) Get(ctx context.Context, accountID, key string, out any) (bool, error) {
	val, err := s.client.HGet(ctx, s.key(accountID), key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis info get: %w", err)
	}
	if err := json.Unmarshal(val, out); err != nil {
		return true, fmt.Errorf("redis info decode: %w", err)
	}
	return true, nil
}

func (s *RedisInfoStore) Put(ctx context.Context, accountID, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key(accountID), key, b)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(accountID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis info put: %w", err)
	}
	return nil
}

func (s *RedisInfoStore) Close() error { return s.client.Close() }
