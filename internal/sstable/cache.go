package sstable

import "sync"

// Cache is a registry of open Readers keyed by file id, shared between the
// facade's read path and the compaction scheduler's install/remove steps
// so that a live file is opened at most once and its reference count
// reflects every concurrent reader.
type Cache struct {
	mu      sync.Mutex
	readers map[uint64]*Reader
	opts    ReaderOptions
}

// NewCache creates an empty Cache. opts configures every Reader it opens.
func NewCache(opts ReaderOptions) *Cache {
	return &Cache{readers: make(map[uint64]*Reader), opts: opts}
}

// Acquire returns the reader for fileID, opening path if it is not
// already cached, with a reference held on behalf of the caller. The
// caller must call Release when done with it.
func (c *Cache) Acquire(fileID uint64, path string) (*Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.readers[fileID]; ok {
		r.Acquire()
		return r, nil
	}
	r, err := Open(path, c.opts)
	if err != nil {
		return nil, err
	}
	c.readers[fileID] = r // the Open() call's initial refcount of 1 is the cache's own slot
	r.Acquire()
	return r, nil
}

// AggregateCacheStats sums the data-block cache hit/miss counters across
// every reader currently registered in the cache.
func (c *Cache) AggregateCacheStats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.readers {
		h, m := r.CacheStats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Evict drops the cache's own reference to fileID's reader, called once a
// compaction has removed the file from the manifest. The underlying file
// descriptor closes once every caller that Acquired it also releases.
func (c *Cache) Evict(fileID uint64) {
	c.mu.Lock()
	r, ok := c.readers[fileID]
	if ok {
		delete(c.readers, fileID)
	}
	c.mu.Unlock()
	if ok {
		r.Release()
	}
}
