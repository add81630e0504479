// Package imagecache warms and serves product images so the kiosk can show
// them without network access.
package imagecache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "catalog:image:"

// Entry is one cached image body.
type Entry struct {
	ContentType string
	Data        []byte
}

// Cache stores image bodies keyed by source URL.
type Cache interface {
	Get(ctx context.Context, url string) (Entry, bool, error)
	Set(ctx context.Context, url string, entry Entry) error
	Has(ctx context.Context, url string) (bool, error)
}

// Key returns the storage key for url.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// RedisCache keeps images in Redis hashes with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps client. A zero ttl keeps entries until evicted.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, url string) (Entry, bool, error) {
	values, err := c.client.HGetAll(ctx, Key(url)).Result()
	if err != nil {
		return Entry{}, false, err
	}
	data, ok := values["data"]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{ContentType: values["content_type"], Data: []byte(data)}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, url string, entry Entry) error {
	key := Key(url)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "content_type", entry.ContentType, "data", entry.Data)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Has(ctx context.Context, url string) (bool, error) {
	n, err := c.client.Exists(ctx, Key(url)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return n > 0, nil
}

// MemoryCache is a bounded least-recently-used cache for deployments without
// Redis.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List
	items      map[string]*list.Element
}

type memoryItem struct {
	key   string
	entry Entry
}

// NewMemoryCache keeps at most maxEntries images; zero means 1000.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{maxEntries: maxEntries, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *MemoryCache) Get(_ context.Context, url string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[Key(url)]
	if !ok {
		return Entry{}, false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryItem).entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, entry Entry) error {
	key := Key(url)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*memoryItem).entry = entry
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&memoryItem{key: key, entry: entry})
	for c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryItem).key)
	}
	return nil
}

func (c *MemoryCache) Has(_ context.Context, url string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[Key(url)]
	return ok, nil
}

// Len reports the number of cached images.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
