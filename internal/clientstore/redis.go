package clientstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps client storage in Redis. Values expire ttl after the
// last write or Refresh.
type RedisBackend struct {
	client   *redis.Client
	ttl      time.Duration
	maxValue int
}

// NewRedisBackend constructs a RedisBackend. maxValue limits the size of a
// single value in bytes; zero disables the limit.
func NewRedisBackend(client *redis.Client, ttl time.Duration, maxValue int) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl, maxValue: maxValue}
}

// Scope returns the storage of one client.
func (b *RedisBackend) Scope(clientID string) Storage {
	return &redisStorage{backend: b, clientID: clientID}
}

// Each scans all client keys ending in key.
func (b *RedisBackend) Each(ctx context.Context, key string, fn func(clientID, value string) error) error {
	iter := b.client.Scan(ctx, 0, keyPrefix+"*:"+key, 100).Iterator()
	for iter.Next(ctx) {
		composite := iter.Val()
		clientID, ok := splitKey(composite, key)
		if !ok {
			continue
		}
		value, err := b.client.Get(ctx, composite).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("clientstore: get %s: %w", composite, err)
		}
		if err := fn(clientID, value); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("clientstore: scan: %w", err)
	}
	return nil
}

// Refresh extends the expiry of the client's well-known keys. Missing keys
// are left absent.
func (b *RedisBackend) Refresh(ctx context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClient
	}
	if b.ttl <= 0 {
		return nil
	}
	pipe := b.client.Pipeline()
	for _, key := range clientKeys {
		pipe.Expire(ctx, compositeKey(clientID, key), b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clientstore: refresh %s: %w", clientID, err)
	}
	return nil
}

type redisStorage struct {
	backend  *RedisBackend
	clientID string
}

func (s *redisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if s.clientID == "" {
		return "", false, ErrInvalidClient
	}
	value, err := s.backend.client.Get(ctx, compositeKey(s.clientID, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *redisStorage) Set(ctx context.Context, key, value string) error {
	if s.clientID == "" {
		return ErrInvalidClient
	}
	if s.backend.maxValue > 0 && len(value) > s.backend.maxValue {
		return ErrQuotaExceeded
	}
	return s.backend.client.Set(ctx, compositeKey(s.clientID, key), value, s.backend.ttl).Err()
}

func (s *redisStorage) Delete(ctx context.Context, key string) error {
	if s.clientID == "" {
		return ErrInvalidClient
	}
	if err := s.backend.client.Del(ctx, compositeKey(s.clientID, key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
