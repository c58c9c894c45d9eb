package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auralis/streamgate/internal/log"
)

const consumedKeyPrefix = "streamgate:consumed:"

// RedisStore is a shared ConsumptionStore for multi-instance deployments.
// SETNX gives the atomic check-and-set; expiry is handled by Redis TTLs.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("token: redis connection failed: %w", err)
	}

	logger := log.WithComponent("token")
	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis consumption store")

	return &RedisStore{client: client}, nil
}

// Consume marks id as consumed via SETNX with TTL.
func (s *RedisStore) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	first, err := s.client.SetNX(ctx, consumedKeyPrefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("token: redis setnx: %w", err)
	}
	return first, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
