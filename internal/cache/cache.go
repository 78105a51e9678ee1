// Package cache provides the session-scoped result cache. Entries live until
// the session clears the cache; there is no eviction.
package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/swapisticated/Astro-Repo/internal/metrics"
)

// Kind groups cache entries by what produced them.
type Kind string

const (
	KindChildren Kind = "children"
	KindContent  Kind = "content"
	KindAnalysis Kind = "analysis"
	KindSummary  Kind = "summary"
	KindProfile  Kind = "profile"
	KindOverview Kind = "overview"
)

// Key identifies one cached value. ID is usually a node path.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return string(k.Kind) + ":" + k.ID }

// Cache is a concurrency-safe map from Key to V.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[Key]V
	group   singleflight.Group
}

// New creates an empty cache.
func New[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[Key]V)}
}

// Get returns the cached value for key.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.RLock()
	v, ok := c.entries[key]
	c.mu.RUnlock()
	metrics.RecordCacheLookup(string(key.Kind), ok)
	return v, ok
}

// Put stores v under key, replacing any previous value.
func (c *Cache[V]) Put(key Key, v V) {
	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[V]) Delete(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// GetOrLoad returns the cached value or calls load once, even when several
// goroutines ask for the same key at the same time. Failed loads are not
// cached.
//
// The shared load runs with a context that keeps ctx's values but not its
// cancellation, so one caller giving up never fails the others. A caller
// whose ctx is done returns ctx.Err() at once; the load still finishes and
// its result is cached for the next caller.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key Key, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return v, err
		}
		c.Put(key, v)
		return v, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func (c *Cache[V]) peek(key Key) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes all entries and returns how many were dropped.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[Key]V)
	return n
}
