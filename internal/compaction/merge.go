package compaction

import (
	"os"
	"path/filepath"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/manifest"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/testutil"
)

// runLevelNCompaction opens every input file, merge-iterates them by key,
// and emits one or more output SSTables at t.TargetLevel, splitting
// output at the configured target file size. For each unique key only
// the newest Entry survives; at the bottom level tombstones are dropped
// entirely, otherwise they are preserved so shallower reads still see
// them.
func (s *Scheduler) runLevelNCompaction(t *Task) error {
	readers := make([]*sstable.Reader, 0, len(t.SourceFiles)+len(t.OverlapFiles))
	inputPaths := make([]string, 0, cap(readers))
	defer func() {
		for _, r := range readers {
			r.Release()
		}
	}()

	var sources []sourceIter
	for _, f := range t.SourceFiles {
		path := filepath.Join(s.deps.DataDir, FileName(t.SourceLevel, f.FileID))
		r, err := sstable.Open(path, sstable.ReaderOptions{})
		if err != nil {
			return err
		}
		readers = append(readers, r)
		inputPaths = append(inputPaths, path)
		sources = append(sources, r.NewIterator())
	}
	for _, f := range t.OverlapFiles {
		path := filepath.Join(s.deps.DataDir, FileName(t.TargetLevel, f.FileID))
		r, err := sstable.Open(path, sstable.ReaderOptions{})
		if err != nil {
			return err
		}
		readers = append(readers, r)
		inputPaths = append(inputPaths, path)
		sources = append(sources, r.NewIterator())
	}

	mi := NewMergeIterator(sources)
	dropTombstones := t.TargetLevel >= s.cfg.BottomLevel

	var installed []manifest.FileEntry
	var curWriter *sstable.Writer
	var curPath string
	var curFileID uint64
	var curMinKey, curMaxKey []byte
	var curMinSeq, curMaxSeq dbformat.SequenceNumber

	finishCurrent := func() error {
		if curWriter == nil {
			return nil
		}
		if curWriter.EntryCount() == 0 {
			curWriter.Abort(curPath)
			curWriter = nil
			return nil
		}
		if err := curWriter.Finalize(); err != nil {
			return err
		}
		installed = append(installed, manifest.FileEntry{
			Level: t.TargetLevel, FileID: curFileID,
			Size: uint64(curWriter.Offset()), MinKey: curMinKey, MaxKey: curMaxKey,
			MinSeq: curMinSeq, MaxSeq: curMaxSeq,
		})
		curWriter = nil
		return nil
	}

	startNew := func() error {
		curFileID = s.deps.Catalog.AllocFileID()
		curPath = filepath.Join(s.deps.DataDir, FileName(t.TargetLevel, curFileID))
		w, err := sstable.NewWriter(curPath, sstable.DefaultWriterOptions())
		if err != nil {
			return err
		}
		curWriter = w
		curMinKey, curMaxKey = nil, nil
		curMinSeq, curMaxSeq = dbformat.MaxSequenceNumber, 0
		return nil
	}

	var pendingKey []byte
	var pendingNewest sstable.DecodedEntry
	var havePending bool

	emit := func(e sstable.DecodedEntry) error {
		if dropTombstones && e.Kind == dbformat.KindDelete {
			return nil
		}
		if curWriter == nil {
			if err := startNew(); err != nil {
				return err
			}
		}
		if err := curWriter.Put(e.Key, e.Value, e.Sequence, e.Kind); err != nil {
			return err
		}
		if curMinKey == nil {
			curMinKey = append([]byte(nil), e.Key...)
		}
		curMaxKey = append([]byte(nil), e.Key...)
		if e.Sequence < curMinSeq {
			curMinSeq = e.Sequence
		}
		if e.Sequence > curMaxSeq {
			curMaxSeq = e.Sequence
		}
		if curWriter.Offset() >= s.cfg.TargetFileSize {
			return finishCurrent()
		}
		return nil
	}

	for mi.Next() {
		e := mi.Entry()
		if havePending && dbformat.BytewiseCompare(e.Key, pendingKey) == 0 {
			continue // shadowed: mergeHeap yields the highest-sequence entry per key first
		}
		if havePending {
			if err := emit(pendingNewest); err != nil {
				return abortAll(err, curWriter, curPath)
			}
		}
		pendingKey = append([]byte(nil), e.Key...)
		pendingNewest = e
		havePending = true
	}
	if mi.Err() != nil {
		return abortAll(mi.Err(), curWriter, curPath)
	}
	if havePending {
		if err := emit(pendingNewest); err != nil {
			return abortAll(err, curWriter, curPath)
		}
	}
	if err := finishCurrent(); err != nil {
		return abortAll(err, curWriter, curPath)
	}
	testutil.MaybeKill("LevelNCompaction.BeforeManifestApply")

	removeIDs := make([]uint64, 0, len(t.SourceFiles)+len(t.OverlapFiles))
	for _, f := range t.SourceFiles {
		removeIDs = append(removeIDs, f.FileID)
	}
	for _, f := range t.OverlapFiles {
		removeIDs = append(removeIDs, f.FileID)
	}
	if err := s.deps.Catalog.Apply(installed, removeIDs); err != nil {
		return err
	}

	for _, f := range t.SourceFiles {
		s.deps.Levels.Remove(t.SourceLevel, f.FileID)
		if s.deps.Files != nil {
			s.deps.Files.Evict(f.FileID)
		}
	}
	for _, f := range t.OverlapFiles {
		s.deps.Levels.Remove(t.TargetLevel, f.FileID)
		if s.deps.Files != nil {
			s.deps.Files.Evict(f.FileID)
		}
	}
	for _, e := range installed {
		s.deps.Levels.Add(t.TargetLevel, level.File{
			FileID: e.FileID, Size: e.Size, MinKey: e.MinKey, MaxKey: e.MaxKey, MinSeq: e.MinSeq, MaxSeq: e.MaxSeq,
		})
	}

	// Inputs are fully merged and durably registered at the target level;
	// the source files (and any absorbed overlap files) are now obsolete.
	for _, r := range readers {
		r.Release()
	}
	readers = nil
	for _, path := range inputPaths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.deps.Logger.Warnf("%sfailed to unlink obsolete input %s: %v", logging.NSCompact, path, err)
		}
	}

	s.deps.Logger.Infof("%scompacted level %d -> %d: %d inputs, %d outputs", logging.NSCompact, t.SourceLevel, t.TargetLevel, len(inputPaths), len(installed))
	return nil
}

func abortAll(err error, w *sstable.Writer, path string) error {
	if w != nil {
		w.Abort(path)
	}
	return err
}
