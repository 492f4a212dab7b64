package lsm

import (
	"sync"

	"github.com/concordkv/concordkv/internal/wal"
)

// walBoundary implements compaction.WALTruncator. It tracks, in rotation
// order, the WAL segment id that was current at the moment each Immutable
// MemTable was frozen — the highest segment any of that MemTable's writes
// could have landed in. Once a flush completes, every segment strictly
// before that boundary is safe to delete: nothing newer could still need
// it, and nothing in it is still unflushed.
//
// Peek/pop order must match the MemTable manager's oldest-first flush
// order exactly, which holds as long as boundaries are only ever recorded
// via the manager's rotation hook (always oldest-to-newest) and consumed
// one per completed flush.
type walBoundary struct {
	mu         sync.Mutex
	dir        *wal.Dir
	boundaries []uint64
}

func newWALBoundary(dir *wal.Dir) *walBoundary {
	return &walBoundary{dir: dir}
}

func (b *walBoundary) recordBoundary(segID uint64) {
	b.mu.Lock()
	b.boundaries = append(b.boundaries, segID)
	b.mu.Unlock()
}

// NextSegmentCeiling implements compaction.WALTruncator.
func (b *walBoundary) NextSegmentCeiling() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.boundaries) == 0 {
		return 0, false
	}
	return b.boundaries[0], true
}

// FinalizeShutdown rotates to a fresh, empty WAL segment and removes every
// prior segment. Called once close() has flushed everything outstanding to
// SSTables, so no segment (including the one previously "current") still
// holds unflushed records — without this, the segment active at the
// moment of the final flush would survive untouched and be replayed again
// on the next open, when opening after a clean shutdown should be a
// no-op on data.
func (b *walBoundary) FinalizeShutdown() error {
	b.mu.Lock()
	b.boundaries = nil
	b.mu.Unlock()

	stale, err := wal.ListSegmentIDs(b.dir.Path())
	if err != nil {
		return err
	}
	if err := b.dir.Rotate(); err != nil {
		return err
	}
	for _, id := range stale {
		if err := b.dir.Remove(id); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSegmentsUpTo implements compaction.WALTruncator: it removes every
// WAL segment strictly older than ceiling's recorded boundary, then pops
// that boundary. A ceiling that doesn't match the oldest recorded boundary
// is a stale or out-of-order call and is ignored (retried on the next
// flush once this one catches up).
func (b *walBoundary) RemoveSegmentsUpTo(ceiling uint64) error {
	b.mu.Lock()
	if len(b.boundaries) == 0 || b.boundaries[0] != ceiling {
		b.mu.Unlock()
		return nil
	}
	b.boundaries = b.boundaries[1:]
	b.mu.Unlock()

	ids, err := wal.ListSegmentIDs(b.dir.Path())
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id >= ceiling {
			continue
		}
		if id == b.dir.CurrentSegmentID() {
			continue
		}
		if err := b.dir.Remove(id); err != nil {
			return err
		}
	}
	return nil
}
