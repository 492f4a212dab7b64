package manifest

import "sync"

// Catalog is the in-memory, mutex-serialized view of a Manifest backed by
// durable storage in dataDir. It is the single writer of the manifest
// file: every mutation holds catalog.mu for its full apply-then-persist
// sequence, so writes to the manifest are always serialized.
type Catalog struct {
	mu      sync.Mutex
	dataDir string
	state   Manifest
}

// OpenCatalog loads dataDir's manifest (or initializes a fresh one).
func OpenCatalog(dataDir string) (*Catalog, error) {
	m, err := Load(dataDir)
	if err != nil {
		return nil, err
	}
	return &Catalog{dataDir: dataDir, state: m}, nil
}

// AllocFileID returns the next globally unique file id and advances the
// counter. The allocation itself is not persisted until the next Apply;
// a crash between AllocFileID and Apply simply abandons that id, which is
// safe since ids only need to be unique, not contiguous.
func (c *Catalog) AllocFileID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.state.NextFileID
	c.state.NextFileID++
	return id
}

// Files returns a snapshot of every live file entry.
func (c *Catalog) Files() []FileEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FileEntry, len(c.state.Files))
	copy(out, c.state.Files)
	return out
}

// NextFileID returns the current allocator cursor, for diagnostics and
// tests.
func (c *Catalog) NextFileID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.NextFileID
}

// Apply atomically installs add and removes removeIDs, then persists the
// result to disk, matching the compaction scheduler's "register new
// files, remove inputs, persist the manifest update" step.
func (c *Catalog) Apply(add []FileEntry, removeIDs []uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[uint64]bool, len(removeIDs))
	for _, id := range removeIDs {
		removed[id] = true
	}
	kept := c.state.Files[:0:0]
	for _, f := range c.state.Files {
		if !removed[f.FileID] {
			kept = append(kept, f)
		}
	}
	kept = append(kept, add...)
	c.state.Files = kept

	return Store(c.dataDir, c.state)
}
