package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"errors"        // Sentinel comparison
	"strconv"       // Key building
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache stores JSON encoded reads in Redis. A nil *Cache is valid and caches nothing.
type Cache struct {
	rdb redis.Cmdable // Redis client
	ttl time.Duration // Lifetime of cached values
}

// NewCache creates a Cache; it returns nil when rdb is nil
func NewCache(rdb redis.Cmdable, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Get retrieves a value from Redis and unmarshals it into dest
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	val, err := c.rdb.Get(ctx, key).Result() // Get value from Redis
	if errors.Is(err, redis.Nil) {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// Set stores a value in Redis with the cache TTL
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err() // Set value in Redis with TTL
}

// Version returns the current version of a key namespace
func (c *Cache) Version(ctx context.Context, namespace string) (int64, error) {
	if c == nil {
		return 0, nil
	}
	v, err := c.rdb.Get(ctx, namespace+":v").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil // Never bumped
	}
	return v, err
}

// Bump moves a namespace to a new version so keys built from the old one are never read again
func (c *Cache) Bump(ctx context.Context, namespace string) error {
	if c == nil {
		return nil
	}
	return c.rdb.Incr(ctx, namespace+":v").Err()
}

// UserNamespace is the namespace of a user's cached profile
func UserNamespace(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// UserKey is the cache key of a user profile at a namespace version.
// A read that raced a write stores under the old version and is never served.
func UserKey(userID uint, version int64) string {
	return UserNamespace(userID) + ":v" + strconv.FormatInt(version, 10)
}

// TxListNamespace is the namespace of every cached transaction page of a user
func TxListNamespace(userID uint) string {
	return "txlist:user:" + strconv.FormatUint(uint64(userID), 10)
}

// TxListKey is the cache key of one transaction page; query must be a canonical encoding of the filters
func TxListKey(userID uint, version int64, query string) string {
	return TxListNamespace(userID) + ":v" + strconv.FormatInt(version, 10) + ":" + query
}

// InvalidateUser drops every cached read derived from the user's balance or transactions
func (c *Cache) InvalidateUser(ctx context.Context, userID uint) error {
	if c == nil {
		return nil
	}
	if err := c.Bump(ctx, UserNamespace(userID)); err != nil {
		return err
	}
	return c.Bump(ctx, TxListNamespace(userID))
}
