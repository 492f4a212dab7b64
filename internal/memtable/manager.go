package memtable

import (
	"sync"

	"github.com/concordkv/concordkv/internal/dbformat"
)

// Config bounds a Manager's behavior.
type Config struct {
	// MaxSize is the byte footprint (memtable_max_size) at which the
	// Active MemTable is rotated to Immutable. Default 4 MiB.
	MaxSize int64
	// MaxImmutable is the depth of the immutable queue
	// (max_immutable_count) before Put/Delete blocks for backpressure.
	// Default 4.
	MaxImmutable int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{MaxSize: 4 << 20, MaxImmutable: 4}
}

// Manager owns one Active MemTable and an ordered queue of Immutables
// (oldest first), rotating between them as the Active grows past
// Config.MaxSize and applying backpressure when the Immutable queue is
// full, using a condition-variable wait/broadcast pattern to block and
// wake writers.
type Manager struct {
	cfg Config

	mu         sync.Mutex
	cond       *sync.Cond
	active     *MemTable
	immutables []*MemTable // oldest first

	nextSeq uint64

	rotateHook func()
}

// SetRotateHook installs fn to be called (outside the Manager's lock) every
// time the Active MemTable rotates to Immutable. The facade uses this to
// record a WAL truncation boundary at the moment of rotation.
func (m *Manager) SetRotateHook(fn func()) {
	m.mu.Lock()
	m.rotateHook = fn
	m.mu.Unlock()
}

// NewManager creates a Manager with one fresh Active MemTable.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.MaxImmutable <= 0 {
		cfg.MaxImmutable = DefaultConfig().MaxImmutable
	}
	m := &Manager{cfg: cfg, active: New(), nextSeq: 1}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// NextSeq allocates the next sequence number(s), strictly monotonic for
// the process lifetime. n must be >= 1; the returned value is the first
// of an n-length contiguous block (used by the batch writer to reserve
// one sequence per op in a single commit).
func (m *Manager) NextSeq(n int) dbformat.SequenceNumber {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.nextSeq
	m.nextSeq += uint64(n)
	return dbformat.SequenceNumber(first)
}

// SetNextSeq resets the allocator, used by recovery to continue after the
// highest sequence number found in the WAL/SSTables: max(persisted seq) + 1.
func (m *Manager) SetNextSeq(next uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next > m.nextSeq {
		m.nextSeq = next
	}
}

// Active returns the current Active MemTable. The caller must not assume
// it stays Active past a subsequent mutation: call Active again after any
// Put/Delete that might have triggered rotation if a stable reference to
// the post-mutation Active is required.
func (m *Manager) Active() *MemTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Snapshot returns the Active MemTable and a copy of the immutable queue
// (newest first, matching the read path's traversal order) for a
// consistent point-in-time read.
func (m *Manager) Snapshot() (active *MemTable, immutablesNewestFirst []*MemTable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	active = m.active
	immutablesNewestFirst = make([]*MemTable, len(m.immutables))
	for i, mt := range m.immutables {
		immutablesNewestFirst[len(m.immutables)-1-i] = mt
	}
	return active, immutablesNewestFirst
}

// Put writes key/value to the Active MemTable at a freshly allocated
// sequence number, rotating if the resulting size crosses MaxSize.
func (m *Manager) Put(key, value []byte) error {
	return m.write(key, value, false)
}

// Delete writes a tombstone for key at a freshly allocated sequence number.
func (m *Manager) Delete(key []byte) error {
	return m.write(key, nil, true)
}

func (m *Manager) write(key, value []byte, isDelete bool) error {
	m.mu.Lock()
	m.waitForRoomLocked()
	active := m.active
	seq := dbformat.SequenceNumber(m.nextSeq)
	m.nextSeq++
	m.mu.Unlock()

	var err error
	if isDelete {
		err = active.Delete(key, seq)
	} else {
		err = active.Put(key, value, seq)
	}
	if err != nil {
		return err
	}

	m.CheckRotation(active)
	return nil
}

// CheckRotation rotates active to Immutable if it has grown past
// Config.MaxSize, unless another writer already rotated it. Exported so
// the batch writer — which applies several mutations to a held reference
// to Active before checking size once — can trigger the same rotation
// policy as a single Put/Delete.
func (m *Manager) CheckRotation(active *MemTable) {
	if active.ByteSize() < m.cfg.MaxSize {
		return
	}
	m.mu.Lock()
	rotated := false
	if m.active == active { // nobody else rotated it already
		m.rotateLocked()
		rotated = true
	}
	hook := m.rotateHook
	m.mu.Unlock()
	if rotated && hook != nil {
		hook()
	}
}

// WaitForRoom blocks while the immutable queue is at capacity, the same
// backpressure a single Put/Delete applies, so the batch writer can
// reserve room before allocating its sequence block.
func (m *Manager) WaitForRoom() {
	m.mu.Lock()
	m.waitForRoomLocked()
	m.mu.Unlock()
}

// waitForRoomLocked blocks while the immutable queue is already at
// capacity — backpressure until the flusher drains one via
// PopOldestImmutable. REQUIRES: m.mu held.
func (m *Manager) waitForRoomLocked() {
	for len(m.immutables) >= m.cfg.MaxImmutable {
		m.cond.Wait()
	}
}

// rotateLocked freezes the Active MemTable, pushes it onto the immutable
// queue, and allocates a fresh Active. REQUIRES: m.mu held, and the
// immutable queue not already saturated (callers check size first; a
// forced rotation via FreezeActive bypasses that check deliberately).
func (m *Manager) rotateLocked() {
	m.active.Freeze()
	m.immutables = append(m.immutables, m.active)
	m.active = New()
}

// FreezeActive forces rotation regardless of size, used by flush-on-close
// and recovery. If the immutable queue is saturated, it still rotates —
// callers invoking FreezeActive are expected to drain the queue
// themselves (close/recovery run with no concurrent writers).
func (m *Manager) FreezeActive() *MemTable {
	m.mu.Lock()
	frozen := m.active
	if frozen.EntryCount() == 0 {
		m.mu.Unlock()
		return nil
	}
	m.rotateLocked()
	hook := m.rotateHook
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return frozen
}

// Get consults Active, then Immutables newest-to-oldest, returning the
// first Entry found (including tombstones).
func (m *Manager) Get(key []byte) (value []byte, result LookupResult) {
	active, immutables := m.Snapshot()

	if v, r := active.Get(key, dbformat.MaxSequenceNumber); r != NotFound {
		return v, r
	}
	for _, mt := range immutables {
		if v, r := mt.Get(key, dbformat.MaxSequenceNumber); r != NotFound {
			return v, r
		}
	}
	return nil, NotFound
}

// OldestImmutable returns the oldest Immutable MemTable without removing
// it, or nil if the queue is empty.
func (m *Manager) OldestImmutable() *MemTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.immutables) == 0 {
		return nil
	}
	return m.immutables[0]
}

// PopOldestImmutable removes and returns the oldest Immutable MemTable,
// signalling any writer blocked in waitForRoomLocked. Returns nil if the
// queue is empty.
func (m *Manager) PopOldestImmutable() *MemTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.immutables) == 0 {
		return nil
	}
	mt := m.immutables[0]
	m.immutables = m.immutables[1:]
	m.cond.Broadcast()
	return mt
}

// ImmutableCount reports the current depth of the immutable queue.
func (m *Manager) ImmutableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.immutables)
}
