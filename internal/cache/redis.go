package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/turnstile/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	denylistKey = "turnstile:denylist"
	seenKey     = "turnstile:seen"
)

// RedisRiskStore implements domain.RiskStore with two Redis sets.
// SADD is idempotent and members are never removed, which matches the
// grow-only contract of both sets.
type RedisRiskStore struct {
	client *redis.Client
}

// NewRedisRiskStore connects to Redis and verifies the connection.
func NewRedisRiskStore(addr, password string, db int) (*RedisRiskStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisRiskStore{client: client}, nil
}

func (s *RedisRiskStore) IsDenylisted(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return s.isMember(ctx, denylistKey, fp)
}

func (s *RedisRiskStore) AddToDenylist(ctx context.Context, fp domain.Fingerprint) error {
	return s.add(ctx, denylistKey, fp)
}

func (s *RedisRiskStore) HasBeenSeen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	return s.isMember(ctx, seenKey, fp)
}

func (s *RedisRiskStore) MarkSeen(ctx context.Context, fp domain.Fingerprint) error {
	return s.add(ctx, seenKey, fp)
}

func (s *RedisRiskStore) isMember(ctx context.Context, key string, fp domain.Fingerprint) (bool, error) {
	if fp == "" {
		return false, fmt.Errorf("fingerprint is required")
	}
	return s.client.SIsMember(ctx, key, string(fp)).Result()
}

func (s *RedisRiskStore) add(ctx context.Context, key string, fp domain.Fingerprint) error {
	if fp == "" {
		return fmt.Errorf("fingerprint is required")
	}
	return s.client.SAdd(ctx, key, string(fp)).Err()
}

// Ping checks Redis connectivity.
func (s *RedisRiskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisRiskStore) Close() error {
	return s.client.Close()
}
