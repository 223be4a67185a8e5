package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client), mr
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	in := []string{"alpha", "beta"}
	require.NoError(t, c.Set(ctx, BoardsKey("u1"), in))

	var out []string
	require.NoError(t, c.Get(ctx, BoardsKey("u1"), &out))
	require.Equal(t, in, out)
}

func TestGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)

	var out []string
	err := c.Get(context.Background(), "nope", &out)
	require.ErrorIs(t, err, ErrMiss)
}

func TestGetCorruptValueIsMiss(t *testing.T) {
	c, mr := newTestCache(t)
	mr.Set("bad", "{not json")

	var out map[string]string
	err := c.Get(context.Background(), "bad", &out)
	require.ErrorIs(t, err, ErrMiss)
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"))
	mr.FastForward(defaultTTL + time.Second)

	var out string
	require.ErrorIs(t, c.Get(ctx, "k", &out), ErrMiss)
}

func TestInvalidate(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	require.NoError(t, c.Invalidate(ctx, "a", "b"))

	var out int
	require.ErrorIs(t, c.Get(ctx, "a", &out), ErrMiss)
	require.ErrorIs(t, c.Get(ctx, "b", &out), ErrMiss)
}

func TestInvalidatePatternOnlyHitsMatches(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ListsKey("u1", "b1"), "one"))
	require.NoError(t, c.Set(ctx, ListsKey("u2", "b1"), "two"))
	require.NoError(t, c.Set(ctx, ListsKey("u1", "b2"), "other-board"))

	require.NoError(t, c.InvalidatePattern(ctx, AllListsPattern("b1")))

	var out string
	require.ErrorIs(t, c.Get(ctx, ListsKey("u1", "b1"), &out), ErrMiss)
	require.ErrorIs(t, c.Get(ctx, ListsKey("u2", "b1"), &out), ErrMiss)
	require.NoError(t, c.Get(ctx, ListsKey("u1", "b2"), &out))
	require.Equal(t, "other-board", out)
}
