package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisLimiter is the sliding-window limiter backed by a Redis sorted set
// per key, for deployments where attempt counts must be consistent across
// processes. Scores are attempt timestamps in nanoseconds; a transaction
// per check keeps prune-check-record atomic with respect to other callers.
type RedisLimiter struct {
	client    *redis.Client
	config    Config
	keyPrefix string
	logger    *zap.Logger
}

// RedisConfig contains connection settings for the Redis backend.
type RedisConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	KeyPrefix      string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// NewRedisLimiter connects to Redis and returns a limiter.
func NewRedisLimiter(cfg RedisConfig, limits Config, logger *zap.Logger) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "piivault:attempts:"
	}

	logger.Info("Redis attempt limiter initialized",
		zap.Int("max_attempts", limits.MaxAttempts),
		zap.Duration("window", limits.Window))

	return &RedisLimiter{
		client:    client,
		config:    limits,
		keyPrefix: prefix,
		logger:    logger,
	}, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := l.keyPrefix + key
	now := time.Now()
	cutoff := now.Add(-l.config.Window).UnixNano()

	allowed := false
	err := l.client.Watch(ctx, func(tx *redis.Tx) error {
		if err := tx.ZRemRangeByScore(ctx, redisKey, "-inf", strconv.FormatInt(cutoff, 10)).Err(); err != nil {
			return err
		}
		count, err := tx.ZCard(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		if count >= int64(l.config.MaxAttempts) {
			allowed = false
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, redisKey, &redis.Z{
				Score:  float64(now.UnixNano()),
				Member: now.UnixNano(),
			})
			pipe.Expire(ctx, redisKey, l.config.Window)
			return nil
		})
		if err != nil {
			return err
		}
		allowed = true
		return nil
	}, redisKey)
	if err != nil {
		return false, fmt.Errorf("redis attempt check failed: %w", err)
	}

	return allowed, nil
}

// Remaining implements Limiter without recording an attempt.
func (l *RedisLimiter) Remaining(ctx context.Context, key string) (int, error) {
	redisKey := l.keyPrefix + key
	cutoff := time.Now().Add(-l.config.Window).UnixNano()

	count, err := l.client.ZCount(ctx, redisKey,
		strconv.FormatInt(cutoff, 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis attempt count failed: %w", err)
	}

	remaining := l.config.MaxAttempts - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Close releases the Redis connection pool.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
