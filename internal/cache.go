package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const activeOpenCallsKey = "mypalette:open_calls:active"

func MustRedis(addr, password string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	return rdb
}

// ListingCache holds the active open-call listing. A nil cache is a permanent
// miss. Redis failures degrade to misses.
type ListingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewListingCache(rdb *redis.Client, ttl time.Duration) *ListingCache {
	return &ListingCache{rdb: rdb, ttl: ttl}
}

func (c *ListingCache) Get(ctx context.Context) ([]OpenCall, bool) {
	if c == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, activeOpenCallsKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("open calls cache get: %v", err)
		}
		return nil, false
	}
	var calls []OpenCall
	if err := json.Unmarshal(b, &calls); err != nil {
		log.Printf("open calls cache decode: %v", err)
		return nil, false
	}
	return calls, true
}

func (c *ListingCache) Set(ctx context.Context, calls []OpenCall) {
	if c == nil {
		return
	}
	b, err := json.Marshal(calls)
	if err != nil {
		log.Printf("open calls cache encode: %v", err)
		return
	}
	if err := c.rdb.Set(ctx, activeOpenCallsKey, b, c.ttl).Err(); err != nil {
		log.Printf("open calls cache set: %v", err)
	}
}

func (c *ListingCache) Invalidate(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, activeOpenCallsKey).Err(); err != nil {
		log.Printf("open calls cache invalidate: %v", err)
	}
}
