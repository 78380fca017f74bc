package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := New(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client), mr
}

func TestIdempotentOrder(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.LookupOrder(ctx, "ann@example.com", "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	stored, err := c.RememberOrder(ctx, "ann@example.com", "k1", "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", stored)

	stored, err = c.RememberOrder(ctx, "ann@example.com", "k1", "order-2")
	require.NoError(t, err)
	assert.Equal(t, "order-1", stored)

	got, err := c.LookupOrder(ctx, "ann@example.com", "k1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", got)

	// keys are scoped per member
	_, err = c.LookupOrder(ctx, "bob@example.com", "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	mr.FastForward(TTLIdempotency + time.Second)
	_, err = c.LookupOrder(ctx, "ann@example.com", "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOrderCache(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	type view struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	var v view
	assert.ErrorIs(t, c.CachedOrder(ctx, "o1", &v), ErrCacheMiss)

	require.NoError(t, c.CacheOrder(ctx, "o1", view{ID: "o1", Status: "CREATED"}))
	require.NoError(t, c.CachedOrder(ctx, "o1", &v))
	assert.Equal(t, "CREATED", v.Status)

	ttl := mr.TTL(fmt.Sprintf(KeyOrder, "o1"))
	assert.GreaterOrEqual(t, ttl, TTLOrderCache)
	assert.Less(t, ttl, TTLOrderCache+time.Minute)

	require.NoError(t, c.InvalidateOrder(ctx, "o1"))
	assert.ErrorIs(t, c.CachedOrder(ctx, "o1", &v), ErrCacheMiss)
}

func TestFillOrderKeepsNewerView(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	type view struct {
		Status string `json:"status"`
	}
	// a reader loaded CREATED, then the cancel committed and cached its view
	require.NoError(t, c.CacheOrder(ctx, "o1", view{Status: "CANCELLED"}))
	stored, err := c.FillOrder(ctx, "o1", view{Status: "CREATED"})
	require.NoError(t, err)
	assert.False(t, stored)

	var v view
	require.NoError(t, c.CachedOrder(ctx, "o1", &v))
	assert.Equal(t, "CANCELLED", v.Status)

	stored, err = c.FillOrder(ctx, "o2", view{Status: "CREATED"})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestCachedOrderInvalidJSON(t *testing.T) {
	c, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(fmt.Sprintf(KeyOrder, "o1"), "{not json"))

	var v map[string]any
	err := c.CachedOrder(context.Background(), "o1", &v)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestMarkProcessed(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	first, err := c.MarkProcessed(ctx, "sweeper", "ev-1")
	require.NoError(t, err)
	assert.True(t, first)
	again, err := c.MarkProcessed(ctx, "sweeper", "ev-1")
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, c.UnmarkProcessed(ctx, "sweeper", "ev-1"))
	retry, err := c.MarkProcessed(ctx, "sweeper", "ev-1")
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestBreakerOpensWhenRedisIsDown(t *testing.T) {
	client := New("127.0.0.1:1")
	t.Cleanup(func() { _ = client.Close() })
	c := NewCache(client)
	ctx := context.Background()

	for range 5 {
		_, err := c.LookupOrder(ctx, "ann@example.com", "k")
		require.Error(t, err)
	}
	_, err := c.LookupOrder(ctx, "ann@example.com", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
}
