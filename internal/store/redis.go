package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultGenerationTTL bounds how long a generation mark outlives a host that stopped
// refreshing it.
const DefaultGenerationTTL = 2 * time.Minute

// RedisStore keeps the chat document and the host's "generating" mark in Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL, chatID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, chatID), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, chatID string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "phonesync:chat:" + chatID + ":",
		ttl:    DefaultGenerationTTL,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) DocumentText(ctx context.Context) (string, error) {
	text, err := s.client.Get(ctx, s.key("document")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load chat document: %w", err)
	}
	return text, nil
}

func (s *RedisStore) SetDocumentText(ctx context.Context, text string) error {
	if err := s.client.Set(ctx, s.key("document"), text, 0).Err(); err != nil {
		return fmt.Errorf("save chat document: %w", err)
	}
	return nil
}

// SetGenerating marks or clears host generation. A mark expires on its own after the
// store's TTL so a crashed host cannot hold writes back forever.
func (s *RedisStore) SetGenerating(ctx context.Context, active bool) error {
	key := s.key("generating")
	if !active {
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clear generation mark: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Err(); err != nil {
		return fmt.Errorf("set generation mark: %w", err)
	}
	return nil
}

// IsActive implements gate.Signal.
func (s *RedisStore) IsActive(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("generating")).Result()
	if err != nil {
		return false, fmt.Errorf("read generation mark: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) WithGenerationTTL(ttl time.Duration) *RedisStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the connection for other Redis-backed components.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
