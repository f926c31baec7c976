package streamq

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalError(t *testing.T) {
	cause := errors.New("bad input")
	err := Terminal(cause)
	assert.True(t, IsTerminal(err))
	assert.ErrorIs(t, err, cause)

	assert.True(t, IsTerminal(Terminal(nil)))
	assert.False(t, IsTerminal(cause))
	assert.False(t, IsTerminal(nil))
}

func TestEnqueueAndEnsureGroup(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewRedisStreamQueue(rdb, "fg:test:stream", "fg-test", 1000)
	ctx := context.Background()

	require.NoError(t, q.EnsureGroup(ctx))
	// Re-creating an existing group is tolerated.
	require.NoError(t, q.EnsureGroup(ctx))

	require.NoError(t, q.Enqueue(ctx, "j1"))
	require.NoError(t, q.Enqueue(ctx, "j2"))

	n, err := rdb.XLen(ctx, "fg:test:stream").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	res, err := rdb.XRange(ctx, "fg:test:stream", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "j1", res[0].Values["jobId"])
}
