package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFingerprintCache implements the FingerprintCache interface using
// Redis. It is a fast-path guard in front of the durable dedupe query; the
// database decides, the cache just short-circuits the common repeat.
type RedisFingerprintCache struct {
	client redis.UniversalClient
}

// NewRedisFingerprintCache creates a new RedisFingerprintCache with the given Redis client.
func NewRedisFingerprintCache(client redis.UniversalClient) *RedisFingerprintCache {
	return &RedisFingerprintCache{client: client}
}

const fingerprintKeyPrefix = "helix:fp:"

// SetIfAbsent atomically stores the fingerprint -> job id mapping only when
// no entry exists, returning true when this call won the slot.
func (c *RedisFingerprintCache) SetIfAbsent(
	ctx context.Context,
	fingerprint, jobID string,
	ttl time.Duration,
) (bool, error) {
	if fingerprint == "" {
		return false, errors.New("fingerprint cannot be empty")
	}

	actualTTL := ttl
	if ttl <= 0 {
		actualTTL = time.Second
	}

	// SETNX with a separate EXPIRE is not atomic; SET with NX + TTL is.
	cmd := c.client.SetArgs(ctx, fingerprintKeyPrefix+fingerprint, jobID,
		redis.SetArgs{Mode: "NX", TTL: actualTTL})
	status, err := cmd.Result()
	if err != nil {
		// NX condition not met (key exists) comes back as a nil reply, which
		// go-redis surfaces as redis.Nil. That is "was not set", not an error.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis SET NX: %w", err)
	}

	return status == "OK", nil
}

// Get returns the cached job id for a fingerprint, or empty string on a miss.
func (c *RedisFingerprintCache) Get(ctx context.Context, fingerprint string) (string, error) {
	if fingerprint == "" {
		return "", errors.New("fingerprint cannot be empty")
	}

	result, err := c.client.Get(ctx, fingerprintKeyPrefix+fingerprint).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

// Delete removes a fingerprint entry. Used when the in-flight job reaches a
// terminal state other than completed, so a retry is admitted immediately.
func (c *RedisFingerprintCache) Delete(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return errors.New("fingerprint cannot be empty")
	}

	if err := c.client.Del(ctx, fingerprintKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (c *RedisFingerprintCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RedisConfig holds configuration for Redis connection.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NewRedisClient creates a new Redis client with the given configuration.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
