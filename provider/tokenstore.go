package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoToken indicates that no credential is stored for the current device.
var ErrNoToken = errors.New("no token stored")

// TokenStore persists the raw credential material between application runs.
// Adapters decide what the stored string contains (a bare JWT, a JSON bundle
// of ID and refresh tokens, ...).
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the token in process memory. Used in tests and for
// single-run development sessions.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
	set   bool
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return "", ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryTokenStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.set = true
	return nil
}

func (s *MemoryTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.set = false
	return nil
}

// RedisTokenStore persists the token in Redis, keyed per device, so sessions
// survive restarts and can be shared across replicas.
type RedisTokenStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisTokenStore creates a Redis-backed token store. An empty prefix
// defaults to "placekit:token:". A zero ttl stores tokens without expiry.
func NewRedisTokenStore(client *redis.Client, prefix, deviceID string, ttl time.Duration) *RedisTokenStore {
	if prefix == "" {
		prefix = "placekit:token:"
	}
	return &RedisTokenStore{
		client: client,
		key:    prefix + deviceID,
		ttl:    ttl,
	}
}

func (s *RedisTokenStore) Load(ctx context.Context) (string, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("redis token store: load failed: %w", err)
	}
	return val, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, token string) error {
	if err := s.client.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis token store: save failed: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis token store: clear failed: %w", err)
	}
	return nil
}
