// Package redis stores lettings session values in Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Storage implements client.Storage over a Redis client. All keys share a prefix.
type Storage struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Storage)

// WithTTL expires stored values after ttl. Every write renews the expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Storage) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = prefix
	}
}

// New connects to the Redis server at address.
func New(address, password string, db int, opts ...Option) *Storage {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Storage from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		prefix: "lettings:session:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) key(k string) string {
	return s.prefix + k
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err == backend.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read from redis: %w", err)
	}
	return val, true, nil
}

// SetMany writes every value in one MULTI/EXEC transaction
func (s *Storage) SetMany(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for k, v := range values {
		pipe.Set(ctx, s.key(k), v, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}
