// Package cache is a redis-backed staging area for short-lived rendered
// previews. Without a configured redis instance the cache is disabled and
// every lookup misses.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// PreviewTTL is how long a staged preview stays retrievable.
const PreviewTTL = 10 * time.Minute

type Cache struct {
	client *redis.Client
}

// Connect builds a cache from the redis_addr / redis_password / redis_db
// environment variables. An empty redis_addr disables caching.
func Connect() *Cache {
	addr := os.Getenv("redis_addr")
	if addr == "" {
		log.Println("redis_addr unset, preview cache disabled")
		return &Cache{}
	}

	db, _ := strconv.Atoi(os.Getenv("redis_db"))

	return &Cache{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("redis_password"),
		DB:       db,
	})}
}

// New wraps an existing client. A nil client yields a disabled cache.
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Key derives the storage key for a user's preview slot. Slots are keyed by
// a hash of "{user}_{ctx}" so arbitrary ctx values cannot collide with other
// key namespaces.
func Key(username, ctx string) string {
	return fmt.Sprintf("preview:%016x", xxhash.Sum64String(username+"_"+ctx))
}

// PutPreview stages rendered html under the user's ctx slot.
func (c *Cache) PutPreview(ctx context.Context, username, slot, html string) error {
	if !c.Enabled() {
		return nil
	}

	return c.client.Set(ctx, Key(username, slot), html, PreviewTTL).Err()
}

// GetPreview fetches a staged preview. Misses and backend errors both
// report a plain miss.
func (c *Cache) GetPreview(ctx context.Context, username, slot string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}

	html, err := c.client.Get(ctx, Key(username, slot)).Result()
	if err != nil {
		return "", false
	}

	return html, true
}

// DropPreview discards a staged preview, for when the draft is committed.
func (c *Cache) DropPreview(ctx context.Context, username, slot string) {
	if !c.Enabled() {
		return
	}

	c.client.Del(ctx, Key(username, slot))
}
