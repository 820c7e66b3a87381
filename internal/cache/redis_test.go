package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHit(t *testing.T) {
	t.Parallel()

	t.Run("Should decode count and start", func(t *testing.T) {
		t.Parallel()

		c, err := decodeHit([]int64{3, 1_700_000_000_123})

		require.NoError(t, err)
		assert.EqualValues(t, 3, c.Count)
		assert.Equal(t, time.UnixMilli(1_700_000_000_123), c.WindowStart)
	})

	t.Run("Should reject malformed reply", func(t *testing.T) {
		t.Parallel()

		_, err := decodeHit([]int64{1})

		assert.ErrorContains(t, err, "unexpected counter script reply")
	})
}

func TestNewRedisCounterStore_PanicsOnNilClient(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewRedisCounterStore(nil, RedisCounterOptions{}) })
}

// scriptRecorder answers EVALSHA with a fixed reply and records the call.
type scriptRecorder struct {
	keys        []string
	hadDeadline bool
}

func (r *scriptRecorder) reply(ctx context.Context, keys []string) *redis.Cmd {
	r.keys = keys
	_, r.hadDeadline = ctx.Deadline()
	cmd := redis.NewCmd(ctx)
	cmd.SetVal([]any{int64(1), int64(1_700_000_000_000)})
	return cmd
}

func (r *scriptRecorder) Eval(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return r.reply(ctx, keys)
}

func (r *scriptRecorder) EvalSha(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return r.reply(ctx, keys)
}

func (r *scriptRecorder) EvalRO(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return r.reply(ctx, keys)
}

func (r *scriptRecorder) EvalShaRO(ctx context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return r.reply(ctx, keys)
}

func (r *scriptRecorder) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}

func (r *scriptRecorder) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func TestRedisCounterStore_Options(t *testing.T) {
	t.Parallel()

	t.Run("Should use the default prefix and no deadline", func(t *testing.T) {
		t.Parallel()

		// Arrange
		rec := &scriptRecorder{}
		store := NewRedisCounterStore(rec, RedisCounterOptions{})

		// Act
		c, err := store.Hit(context.Background(), "k", time.Now(), time.Minute)

		// Assert
		require.NoError(t, err)
		assert.EqualValues(t, 1, c.Count)
		assert.Equal(t, []string{DefaultKeyPrefix + "k"}, rec.keys)
		assert.False(t, rec.hadDeadline)
	})

	t.Run("Should apply a custom prefix and bound the call", func(t *testing.T) {
		t.Parallel()

		// Arrange
		rec := &scriptRecorder{}
		store := NewRedisCounterStore(rec, RedisCounterOptions{KeyPrefix: "staging:rl:", Timeout: 50 * time.Millisecond})

		// Act
		_, err := store.Hit(context.Background(), "k", time.Now(), time.Minute)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"staging:rl:k"}, rec.keys)
		assert.True(t, rec.hadDeadline)
	})
}
