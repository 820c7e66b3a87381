//go:build integration

package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carepoint/policygate/internal/cache"
	"github.com/carepoint/policygate/internal/testsupport"
)

func TestRedisCounterStore_Integration(t *testing.T) {
	// 1. Infrastructure Setup
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err)
	defer redisCtr.Terminate(ctx)

	store := cache.NewRedisCounterStore(redisCtr.Client, cache.RedisCounterOptions{})
	t0 := time.UnixMilli(time.Now().UnixMilli())

	t.Run("Should count within a window and reset after it", func(t *testing.T) {
		for i := int64(1); i <= 3; i++ {
			c, err := store.Hit(ctx, "seq", t0, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, c.Count)
			assert.True(t, c.WindowStart.Equal(t0))
		}

		later := t0.Add(61 * time.Second)
		c, err := store.Hit(ctx, "seq", later, time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.Count)
		assert.True(t, c.WindowStart.Equal(later))
	})

	t.Run("Should set TTL slightly above the window", func(t *testing.T) {
		_, err := store.Hit(ctx, "ttl", t0, 10*time.Second)
		require.NoError(t, err)

		ttl, err := redisCtr.Client.PTTL(ctx, cache.DefaultKeyPrefix+"ttl").Result()
		require.NoError(t, err)
		assert.Greater(t, ttl, 10*time.Second)
		assert.LessOrEqual(t, ttl, 11*time.Second)
	})

	t.Run("Should never hand out the same count concurrently", func(t *testing.T) {
		const workers = 50
		seen := make(map[int64]bool)
		var mu sync.Mutex
		var wg sync.WaitGroup

		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c, err := store.Hit(ctx, "race", t0, time.Minute)
				assert.NoError(t, err)

				mu.Lock()
				defer mu.Unlock()
				assert.False(t, seen[c.Count], "count %d observed twice", c.Count)
				seen[c.Count] = true
			}()
		}
		wg.Wait()

		assert.Len(t, seen, workers)
	})

	t.Run("Should recover after the script cache is flushed", func(t *testing.T) {
		require.NoError(t, redisCtr.Client.ScriptFlush(ctx).Err())

		c, err := store.Hit(ctx, "noscript", t0, time.Minute)
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.Count)
	})

	t.Run("Health checker should report up", func(t *testing.T) {
		checker := cache.NewHealthChecker(redisCtr.Client)
		assert.Equal(t, "redis", checker.Name())
		assert.NoError(t, checker.Check(ctx))
	})
}
