package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/manifest"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/testutil"
)

// FileName returns the canonical on-disk name for an SSTable at level L
// with the given file id: "level-{L}-{id:06}.sst".
func FileName(lvl int, fileID uint64) string {
	return fmt.Sprintf("level-%d-%06d.sst", lvl, fileID)
}

// runLevel0Flush takes ownership of the oldest Immutable MemTable,
// streams its entries to a new level-0 SSTable, registers the file,
// persists the manifest, then truncates any WAL segments it fully
// covers.
func (s *Scheduler) runLevel0Flush(t *Task) error {
	mt := s.deps.MemTables.PopOldestImmutable()
	if mt == nil {
		return nil // raced with another flush path; nothing to do
	}

	fileID := s.deps.Catalog.AllocFileID()
	path := filepath.Join(s.deps.DataDir, FileName(0, fileID))

	w, err := sstable.NewWriter(path, sstable.DefaultWriterOptions())
	if err != nil {
		return err
	}

	it := mt.NewIterator()
	it.SeekToFirst()
	var minKey, maxKey []byte
	var minSeq, maxSeq dbformat.SequenceNumber = dbformat.MaxSequenceNumber, 0
	var n uint64
	for it.Valid() {
		ik := it.InternalKey()
		key := append([]byte(nil), ik.UserKey()...)
		value := append([]byte(nil), it.Value()...)
		seq := ik.Sequence()
		if err := w.Put(key, value, seq, ik.Kind()); err != nil {
			w.Abort(path)
			return err
		}
		if minKey == nil {
			minKey = key
		}
		maxKey = key
		if seq < minSeq {
			minSeq = seq
		}
		if seq > maxSeq {
			maxSeq = seq
		}
		n++
		it.Next()
	}

	testutil.MaybeKill("Level0Flush.BeforeFinalize")
	if n == 0 {
		w.Abort(path)
		return s.truncateCoveredWAL()
	}
	if err := w.Finalize(); err != nil {
		return err
	}
	testutil.MaybeKill("Level0Flush.AfterFinalize")

	entry := manifest.FileEntry{
		Level: 0, FileID: fileID, Size: uint64(w.Offset()),
		MinKey: minKey, MaxKey: maxKey, MinSeq: minSeq, MaxSeq: maxSeq,
	}
	if err := s.deps.Catalog.Apply([]manifest.FileEntry{entry}, nil); err != nil {
		return err
	}
	s.deps.Levels.Add(0, level.File{
		FileID: fileID, Size: entry.Size, MinKey: minKey, MaxKey: maxKey, MinSeq: minSeq, MaxSeq: maxSeq,
	})
	s.deps.Logger.Infof("%sflushed immutable memtable to %s (%d entries)", logging.NSCompact, path, n)

	return s.truncateCoveredWAL()
}

// FlushPending synchronously drains the entire immutable queue, flushing
// each MemTable to a level-0 SSTable in turn. Used on shutdown, after the
// worker pool has stopped, so the final flush doesn't race a background
// worker that is no longer running.
func (s *Scheduler) FlushPending() error {
	for s.deps.MemTables.OldestImmutable() != nil {
		if err := s.runLevel0Flush(&Task{Type: Level0Flush}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) truncateCoveredWAL() error {
	if s.deps.WAL == nil {
		return nil
	}
	ceiling, ok := s.deps.WAL.NextSegmentCeiling()
	if !ok {
		return nil
	}
	if err := s.deps.WAL.RemoveSegmentsUpTo(ceiling); err != nil {
		s.deps.Logger.Warnf("%sfailed to truncate WAL segments up to %d: %v", logging.NSCompact, ceiling, err)
		return nil // WAL truncation failure is not a flush failure; retried on next flush
	}
	return nil
}
