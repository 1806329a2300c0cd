package server

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CacheEntry is one memoised response body.
type CacheEntry struct {
	Data       []byte
	Mime       string
	InsertedAt time.Time
	Size       int
}

// Cache is a bounded in-memory map from request URI to response bytes.
//
// Admission and eviction follow a strict FIFO discipline: entries larger
// than the size limit are never admitted, eviction removes the
// oldest-inserted entries until the newcomer fits, and reads do not
// reorder. A single reader/writer lock covers the whole cache so readers
// run in parallel and writers are exclusive.
type Cache struct {
	mu        sync.RWMutex
	sizeLimit int
	size      int
	entries   map[string]*CacheEntry
	order     []string

	watcher  *fsnotify.Watcher
	tracked  map[string]string
	watchErr error
}

// NewCache returns a new instance of the `Cache` bounded by the sizeLimit
// in bytes. A zero sizeLimit disables the cache entirely.
func NewCache(sizeLimit int) *Cache {
	return &Cache{
		sizeLimit: sizeLimit,
		entries:   map[string]*CacheEntry{},
		tracked:   map[string]string{},
	}
}

// Enabled reports whether the c admits entries at all.
func (c *Cache) Enabled() bool {
	return c.sizeLimit > 0
}

// Get returns the entry cached for the uri, if any. It never reorders the
// eviction queue.
func (c *Cache) Get(uri string) (*CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[uri]

	return e, ok
}

// Set memoises the data for the uri, evicting the oldest-inserted entries
// until it fits. Entries larger than the size limit are refused.
func (c *Cache) Set(uri string, data []byte, mime string) bool {
	if len(data) > c.sizeLimit {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[uri]; ok {
		c.size -= old.Size
		delete(c.entries, uri)
		c.removeFromOrder(uri)
	}

	for c.size+len(data) > c.sizeLimit && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			c.size -= e.Size
			delete(c.entries, oldest)
		}
	}

	c.entries[uri] = &CacheEntry{
		Data:       data,
		Mime:       mime,
		InsertedAt: time.Now(),
		Size:       len(data),
	}
	c.order = append(c.order, uri)
	c.size += len(data)

	return true
}

// Size returns the summed size of all cached entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.size
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Evict removes the entry cached for the uri, if any.
func (c *Cache) Evict(uri string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[uri]; ok {
		c.size -= e.Size
		delete(c.entries, uri)
		c.removeFromOrder(uri)
	}
}

// Track watches the file at the path and evicts the uri when it changes on
// disk, so a stale body is never served after a deployment touches the
// file. The watcher is created lazily on first use.
func (c *Cache) Track(uri, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher == nil && c.watchErr == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			c.watchErr = err
			return err
		}

		c.watcher = w

		go c.watch(w)
	}

	if c.watchErr != nil {
		return c.watchErr
	}

	if err := c.watcher.Add(path); err != nil {
		return err
	}

	c.tracked[path] = uri

	return nil
}

// Close releases the file watcher, if one was created.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher == nil {
		return nil
	}

	err := c.watcher.Close()
	c.watcher = nil

	return err
}

// watch evicts tracked URIs as their files change.
func (c *Cache) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			c.mu.Lock()
			uri, tracked := c.tracked[ev.Name]
			if tracked {
				delete(c.tracked, ev.Name)
			}
			c.mu.Unlock()

			if tracked {
				c.Evict(uri)
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// removeFromOrder drops the uri from the FIFO index.
func (c *Cache) removeFromOrder(uri string) {
	for i, u := range c.order {
		if u == uri {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
