// Package cache provides an in-memory image cache that purges
// least-recently-accessed entries once a byte budget is exceeded.
package cache

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tobiasma/picfetch/image"
)

// Key builds the cache key for a URL and an optional filter
// identifier.
func Key(urlString, filterID string) string {
	if filterID == "" {
		return urlString
	}
	return urlString + "-" + filterID
}

type cachedImage struct {
	image      *image.Image
	identifier string
	totalBytes uint64
	seq        uint64

	// unix nanos, updated on every read so reads can stay under the
	// read lock
	lastAccessed atomic.Int64
}

func (c *cachedImage) touch() {
	c.lastAccessed.Store(time.Now().UnixNano())
}

// LastAccessed returns when the entry was last read or written.
func (c *cachedImage) LastAccessed() time.Time {
	return time.Unix(0, c.lastAccessed.Load())
}

// AutoPurging is an image cache bounded by a byte budget. Inserts that
// push usage past MemoryCapacity evict entries in ascending
// last-access order until usage drops to PreferredMemoryUsageAfterPurge.
// Reads never evict.
type AutoPurging struct {
	capacity  uint64
	preferred uint64

	mu      sync.RWMutex
	images  map[string]*cachedImage
	usage   uint64
	nextSeq uint64
}

// New creates an AutoPurging cache. capacity must be at least
// preferred.
func New(capacity, preferred uint64) (*AutoPurging, error) {
	if preferred > capacity {
		return nil, errors.New("cache: preferred memory usage after purge exceeds memory capacity")
	}

	return &AutoPurging{
		capacity:  capacity,
		preferred: preferred,
		images:    make(map[string]*cachedImage),
	}, nil
}

// Add stores img under key, replacing any previous entry. Runs as two
// phases under one lock: insert, then purge if the capacity was
// crossed.
func (c *AutoPurging) Add(img *image.Image, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.images[key]; ok {
		c.usage -= prev.totalBytes
	}

	entry := &cachedImage{
		image:      img,
		identifier: key,
		totalBytes: img.TotalBytes(),
		seq:        c.nextSeq,
	}
	entry.touch()
	c.nextSeq++

	c.images[key] = entry
	c.usage += entry.totalBytes

	if c.usage <= c.capacity {
		return
	}

	c.purgeLocked()
}

// AddForRequest stores img under the key derived from urlString and
// filterID.
func (c *AutoPurging) AddForRequest(img *image.Image, urlString, filterID string) {
	c.Add(img, Key(urlString, filterID))
}

// purgeLocked evicts in ascending last-access order until usage is at
// or below the preferred floor. Ties fall back to insertion order so a
// single pass is deterministic.
func (c *AutoPurging) purgeLocked() {
	entries := make([]*cachedImage, 0, len(c.images))
	for _, entry := range c.images {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].lastAccessed.Load(), entries[j].lastAccessed.Load()
		if ti == tj {
			return entries[i].seq < entries[j].seq
		}
		return ti < tj
	})

	for _, entry := range entries {
		if c.usage <= c.preferred {
			return
		}
		delete(c.images, entry.identifier)
		c.usage -= entry.totalBytes
	}
}

// Get returns the image stored under key and marks it as accessed.
func (c *AutoPurging) Get(key string) (*image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.images[key]
	if !ok {
		return nil, false
	}

	entry.touch()
	return entry.image, true
}

// GetForRequest returns the image stored under the key derived from
// urlString and filterID.
func (c *AutoPurging) GetForRequest(urlString, filterID string) (*image.Image, bool) {
	return c.Get(Key(urlString, filterID))
}

// LastAccessed returns the last access time of the entry under key.
func (c *AutoPurging) LastAccessed(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.images[key]
	if !ok {
		return time.Time{}, false
	}
	return entry.LastAccessed(), true
}

// Remove deletes the entry under key, reporting whether one existed.
func (c *AutoPurging) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.images[key]
	if !ok {
		return false
	}

	delete(c.images, key)
	c.usage -= entry.totalBytes
	return true
}

// RemoveWithPrefix deletes every entry whose key starts with
// urlString, i.e. the unfiltered entry and all filtered variants.
func (c *AutoPurging) RemoveWithPrefix(urlString string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := false
	for key, entry := range c.images {
		if strings.HasPrefix(key, urlString) {
			delete(c.images, key)
			c.usage -= entry.totalBytes
			removed = true
		}
	}
	return removed
}

// Clear drops every entry, reporting whether any existed. Wired to
// memory-pressure signals by callers.
func (c *AutoPurging) Clear() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.images) > 0
	c.images = make(map[string]*cachedImage)
	c.usage = 0
	return removed
}

// MemoryUsage returns the summed byte cost of all entries.
func (c *AutoPurging) MemoryUsage() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// MemoryCapacity returns the eviction ceiling.
func (c *AutoPurging) MemoryCapacity() uint64 {
	return c.capacity
}

// PreferredMemoryUsageAfterPurge returns the eviction floor.
func (c *AutoPurging) PreferredMemoryUsageAfterPurge() uint64 {
	return c.preferred
}

// Len returns the number of cached entries.
func (c *AutoPurging) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}
