package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache wraps the Redis calls of the API and the sweeper in a circuit breaker so
// an unhealthy Redis fails fast instead of stalling requests. A missing key is a
// successful call.
type Cache struct {
	rdb *redis.Client
	cb  *gobreaker.CircuitBreaker[[]byte]
}

func NewCache(rdb *redis.Client) *Cache {
	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("redisx: breaker %s %s -> %s", name, from, to)
		},
	}
	return &Cache{rdb: rdb, cb: gobreaker.NewCircuitBreaker[[]byte](st)}
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.cb.Execute(func() ([]byte, error) {
		return c.rdb.Get(ctx, key).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return b, nil
}

func (c *Cache) setNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	var ok bool
	_, err := c.cb.Execute(func() ([]byte, error) {
		var err error
		ok, err = c.rdb.SetNX(ctx, key, value, ttl).Result()
		return nil, err
	})
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	_, err := c.cb.Execute(func() ([]byte, error) {
		return nil, c.rdb.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *Cache) del(ctx context.Context, key string) error {
	_, err := c.cb.Execute(func() ([]byte, error) {
		return nil, c.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// LookupOrder returns the order placed earlier by memberID under idempotency key, or ErrCacheMiss.
func (c *Cache) LookupOrder(ctx context.Context, memberID, key string) (string, error) {
	b, err := c.get(ctx, fmt.Sprintf(KeyIdemOrderCreate, memberID, key))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RememberOrder records orderID for the idempotency key unless one is already
// recorded, and returns the order id that is stored after the call.
func (c *Cache) RememberOrder(ctx context.Context, memberID, key, orderID string) (string, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, memberID, key)
	ok, err := c.setNX(ctx, k, orderID, TTLIdempotency)
	if err != nil {
		return "", err
	}
	if ok {
		return orderID, nil
	}
	b, err := c.get(ctx, k)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CachedOrder decodes the cached view of orderID into v.
func (c *Cache) CachedOrder(ctx context.Context, orderID string, v any) error {
	b, err := c.get(ctx, fmt.Sprintf(KeyOrder, orderID))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal order failed: %w", err)
	}
	return nil
}

// CacheOrder stores the view of orderID, replacing whatever is cached. Writers
// use it after a state change.
func (c *Cache) CacheOrder(ctx context.Context, orderID string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}
	return c.set(ctx, fmt.Sprintf(KeyOrder, orderID), b, orderTTL())
}

// FillOrder stores the view of orderID only if nothing is cached yet, so a read
// that raced a state change cannot overwrite the newer view. It reports whether
// the view was stored.
func (c *Cache) FillOrder(ctx context.Context, orderID string, v any) (bool, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("marshal order failed: %w", err)
	}
	return c.setNX(ctx, fmt.Sprintf(KeyOrder, orderID), b, orderTTL())
}

func orderTTL() time.Duration {
	jitter := time.Duration(rand.Intn(60)) * time.Second
	return TTLOrderCache + jitter
}

func (c *Cache) InvalidateOrder(ctx context.Context, orderID string) error {
	return c.del(ctx, fmt.Sprintf(KeyOrder, orderID))
}

// MarkProcessed claims eventID for service. It returns false when the event was
// claimed before.
func (c *Cache) MarkProcessed(ctx context.Context, service, eventID string) (bool, error) {
	return c.setNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), 1, TTLDedup)
}

// UnmarkProcessed releases a claim so a redelivered event is handled again.
func (c *Cache) UnmarkProcessed(ctx context.Context, service, eventID string) error {
	return c.del(ctx, fmt.Sprintf(KeyDedup, service, eventID))
}
