package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/testutil"
)

func TestRedisFingerprintCache_SetIfAbsent(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	ctx := context.Background()

	won, err := cache.SetIfAbsent(ctx, "fp-1", "job-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	// Second writer loses the slot and the mapping is unchanged.
	won, err = cache.SetIfAbsent(ctx, "fp-1", "job-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, won)

	id, err := cache.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)

	_, err = cache.SetIfAbsent(ctx, "", "job-1", time.Minute)
	require.Error(t, err)
}

func TestRedisFingerprintCache_SetIfAbsent_Race(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	ctx := context.Background()

	wins := make(chan bool, 10)
	var runner testutil.ConcurrentTestRunner
	for i := 0; i < 10; i++ {
		runner.Go(func() error {
			won, err := cache.SetIfAbsent(ctx, "fp-race", "job-1", time.Minute)
			if err != nil {
				return err
			}
			wins <- won
			return nil
		})
	}
	require.Empty(t, runner.Wait())
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestRedisFingerprintCache_GetMiss(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	ctx := context.Background()

	id, err := cache.Get(ctx, "never-set")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = cache.Get(ctx, "")
	require.Error(t, err)
}

func TestRedisFingerprintCache_Delete(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	ctx := context.Background()

	won, err := cache.SetIfAbsent(ctx, "fp-del", "job-1", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, cache.Delete(ctx, "fp-del"))

	// The slot is free again after delete.
	won, err = cache.SetIfAbsent(ctx, "fp-del", "job-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, won)

	require.Error(t, cache.Delete(ctx, ""))
}

func TestRedisFingerprintCache_TTLExpiry(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	ctx := context.Background()

	// Zero TTL is clamped to a short expiry rather than persisting forever.
	won, err := cache.SetIfAbsent(ctx, "fp-ttl", "job-1", 0)
	require.NoError(t, err)
	require.True(t, won)

	ttl, err := client.TTL(ctx, "helix:fp:fp-ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Second)
}

func TestRedisFingerprintCache_Health(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := NewRedisFingerprintCache(client)
	require.NoError(t, cache.Health(context.Background()))
}
