// Package batch implements the batch-write front door that accumulates a
// bounded sequence of Put/Delete operations and commits them atomically.
//
// The Writer is an append-only operation buffer with a Commit step that
// applies to the MemTable, optionally sorting and deduplicating the buffer
// first. There is no merge operator, no column families, and no
// transaction markers — just Put and Delete.
package batch

import (
	"sort"
	"time"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
	"github.com/concordkv/concordkv/internal/memtable"
)

// WALAppender is the subset of *wal.Dir the batch writer needs: append one
// record and (optionally) fsync. Narrowed to an interface so this package
// does not depend on internal/wal directly — the facade wires the
// concrete *wal.Dir (or a no-op stub when enable_wal is false).
type WALAppender interface {
	Append(key, value []byte, kind dbformat.Kind, seq dbformat.SequenceNumber) (segmentID uint64, err error)
	Sync() error
}

// op is one buffered mutation.
type op struct {
	key      []byte
	value    []byte
	isDelete bool
}

// Config bounds a Writer's buffered batch.
type Config struct {
	MaxBatchSize        int   // max_batch_size, entry count limit
	MaxBatchMemory      int64 // max_batch_memory, bytes
	EnableSorting       bool  // stable-sort by key before commit
	EnableDeduplication bool  // collapse same-key ops to the latest, after sort
	SyncWAL             bool  // fsync after the last WAL record of a commit
}

// DefaultConfig returns the documented defaults: sorting and dedup on,
// no sync, generous size limits.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:        10_000,
		MaxBatchMemory:      16 << 20,
		EnableSorting:       true,
		EnableDeduplication: true,
	}
}

// Result is a commit's outcome.
type Result struct {
	Committed       int
	Failed          int
	FirstErrorKind  errs.Kind
	FirstErrorIndex int
	CommitTimeUs    int64
	WALWrites       int
}

// Writer accumulates Put/Delete operations and commits them atomically
// against a MemTable manager and WAL. It is not safe for concurrent use
// by multiple goroutines without external synchronization — callers use
// one Writer per in-flight batch.
type Writer struct {
	cfg  Config
	ops  []op
	mem  int64 // buffered key+value bytes, for MaxBatchMemory accounting

	mu        Locker
	memtables *memtable.Manager
	wal       WALAppender
	nowFunc   func() time.Time
}

// Locker is the facade's write-lock, acquired for the apply step of
// commit(). Usually a *sync.RWMutex; narrowed to an interface so this
// package does not need to import the facade.
type Locker interface {
	Lock()
	Unlock()
}

// New creates a Writer bound to memtables and wal. lock is the facade's
// write lock, acquired only for the apply step, not while the buffer is
// being built.
func New(cfg Config, memtables *memtable.Manager, wal WALAppender, lock Locker) *Writer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.MaxBatchMemory <= 0 {
		cfg.MaxBatchMemory = DefaultConfig().MaxBatchMemory
	}
	return &Writer{cfg: cfg, memtables: memtables, wal: wal, mu: lock, nowFunc: time.Now}
}

// Put buffers a Put operation. Returns errs.BatchFull or
// errs.BatchTooLarge if the configured limits are exceeded; the op is
// not buffered in that case.
func (w *Writer) Put(key, value []byte) error {
	return w.append(key, value, false)
}

// Delete buffers a Delete operation.
func (w *Writer) Delete(key []byte) error {
	return w.append(key, nil, true)
}

func (w *Writer) append(key, value []byte, isDelete bool) error {
	if len(key) == 0 {
		return errs.New(errs.InvalidParam, "batch: empty key")
	}
	if len(w.ops) >= w.cfg.MaxBatchSize {
		return errs.New(errs.BatchFull, "batch: entry count limit reached")
	}
	added := int64(len(key) + len(value))
	if w.mem+added > w.cfg.MaxBatchMemory {
		return errs.New(errs.BatchTooLarge, "batch: memory limit reached")
	}
	w.ops = append(w.ops, op{key: append([]byte(nil), key...), value: append([]byte(nil), value...), isDelete: isDelete})
	w.mem += added
	return nil
}

// Status returns the current entry count and buffered memory. If dedup
// is enabled, entry_count reflects the post-dedup count.
func (w *Writer) Status() (entryCount int, memoryBytes int64) {
	if !w.cfg.EnableDeduplication {
		return len(w.ops), w.mem
	}
	return len(dedup(sortedCopy(w.ops, true))), w.mem
}

// Clear discards the pending buffer.
func (w *Writer) Clear() {
	w.ops = w.ops[:0]
	w.mem = 0
}

func sortedCopy(ops []op, stable bool) []op {
	out := append([]op(nil), ops...)
	if stable {
		sort.SliceStable(out, func(i, j int) bool {
			return dbformat.BytewiseCompare(out[i].key, out[j].key) < 0
		})
	}
	return out
}

// dedup scans in order, keeping for each key only the last operation:
// PUT-after-DELETE keeps PUT, DELETE-after-PUT keeps DELETE. ops must
// already be sorted by key (so duplicates are adjacent and "last" means
// "last occurrence in original submission order among equal keys",
// preserved by the stable sort).
func dedup(ops []op) []op {
	if len(ops) == 0 {
		return ops
	}
	out := ops[:0:0]
	for i := 0; i < len(ops); i++ {
		if i+1 < len(ops) && dbformat.BytewiseCompare(ops[i].key, ops[i+1].key) == 0 {
			continue // a later op for the same key follows; it wins
		}
		out = append(out, ops[i])
	}
	return out
}

// Commit sorts the buffer (if enabled), dedups it (if enabled), allocates
// a contiguous sequence block under the facade's write lock, appends
// every record to the WAL, applies it to the Active MemTable, then
// releases the lock. An empty commit is a successful no-op.
func (w *Writer) Commit() Result {
	start := w.nowFunc()
	final := w.ops
	if w.cfg.EnableSorting {
		final = sortedCopy(final, true)
	}
	if w.cfg.EnableDeduplication {
		final = dedup(final)
	}
	if len(final) == 0 {
		return Result{CommitTimeUs: elapsedUs(start, w.nowFunc())}
	}

	w.memtables.WaitForRoom()

	w.mu.Lock()
	defer w.mu.Unlock()

	firstSeq := w.memtables.NextSeq(len(final))
	active := w.memtables.Active()

	var result Result
	for i, o := range final {
		seq := firstSeq + dbformat.SequenceNumber(i)
		kind := dbformat.KindPut
		if o.isDelete {
			kind = dbformat.KindDelete
		}

		if w.wal != nil {
			if _, err := w.wal.Append(o.key, o.value, kind, seq); err != nil {
				result.Failed++
				if result.Failed == 1 {
					result.FirstErrorKind = errs.KindOf(err)
					result.FirstErrorIndex = i
				}
				continue
			}
			result.WALWrites++
		}

		var err error
		if o.isDelete {
			err = active.Delete(o.key, seq)
		} else {
			err = active.Put(o.key, o.value, seq)
		}
		if err != nil {
			result.Failed++
			if result.Failed == 1 {
				result.FirstErrorKind = errs.KindOf(err)
				result.FirstErrorIndex = i
			}
			continue
		}
		result.Committed++
	}

	if w.cfg.SyncWAL && w.wal != nil && result.WALWrites > 0 {
		w.wal.Sync()
	}
	w.memtables.CheckRotation(active)

	result.CommitTimeUs = elapsedUs(start, w.nowFunc())
	return result
}

func elapsedUs(start, end time.Time) int64 {
	return end.Sub(start).Microseconds()
}
