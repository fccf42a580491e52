package docstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached fronts a Store with a bounded, expiring LRU of documents. Writes made
// through it refresh the cached copy; conflicts evict it.
type Cached struct {
	backend Store
	cache   *expirable.LRU[string, Document]
}

// NewCached wraps backend. A ttl of zero keeps entries until evicted by size.
func NewCached(backend Store, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 16
	}
	return &Cached{
		backend: backend,
		cache:   expirable.NewLRU[string, Document](size, nil, ttl),
	}
}

func (c *Cached) Read(ctx context.Context, key string) (Document, error) {
	if doc, ok := c.cache.Get(key); ok {
		return doc, nil
	}
	return c.ReadFresh(ctx, key)
}

// ReadFresh always goes to the backend and refreshes the cache.
func (c *Cached) ReadFresh(ctx context.Context, key string) (Document, error) {
	doc, err := c.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.cache.Remove(key)
		}
		return Document{}, err
	}
	c.cache.Add(key, doc)
	return doc, nil
}

func (c *Cached) Write(ctx context.Context, key string, data []byte, expectedVersion string) (string, error) {
	version, err := c.backend.Write(ctx, key, data, expectedVersion)
	if err != nil {
		c.cache.Remove(key)
		if errors.Is(err, ErrConflict) {
			slog.Debug("Cache evicted after conflict", "key", key)
		}
		return "", err
	}
	c.cache.Add(key, Document{Key: key, Data: clone(data), Version: version})
	return version, nil
}

func (c *Cached) CreateIfMissing(ctx context.Context, key string, initial []byte) (string, error) {
	version, err := c.backend.CreateIfMissing(ctx, key, initial)
	// The existing document may differ from initial, so only the key is evicted.
	c.cache.Remove(key)
	return version, err
}

// Invalidate drops the cached copy of key.
func (c *Cached) Invalidate(key string) {
	c.cache.Remove(key)
}

// Purge empties the cache.
func (c *Cached) Purge() {
	c.cache.Purge()
}
