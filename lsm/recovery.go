package lsm

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/concordkv/concordkv/internal/compaction"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/wal"
)

var sstFileNamePattern = regexp.MustCompile(`^level-(\d+)-(\d{6})\.sst$`)

// sweepOrphanSSTables removes footer-less partial outputs left by a
// crashed flush or compaction, and any *.sst the manifest no longer
// references: abandoned partial compaction outputs are cleaned on next
// open.
func (db *DB) sweepOrphanSSTables() error {
	entries, err := os.ReadDir(db.dataDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(errs.IO, "lsm.sweepOrphanSSTables", err).WithPath(db.dataDir)
	}

	live := make(map[uint64]bool)
	for _, f := range db.catalog.Files() {
		live[f.FileID] = true
	}

	var staleManifestIDs []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := sstFileNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		fileID, err := strconv.ParseUint(m[2], 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(db.dataDir, e.Name())

		if !live[fileID] {
			if err := os.Remove(path); err != nil {
				db.logger.Warnf("%sfailed to remove orphan %s: %v", logging.NSLSM, path, err)
			}
			continue
		}
		r, err := sstable.Open(path, sstable.ReaderOptions{})
		if err != nil {
			db.logger.Warnf("%sdropping manifest entry for unreadable file %s: %v", logging.NSLSM, path, err)
			os.Remove(path)
			staleManifestIDs = append(staleManifestIDs, fileID)
			continue
		}
		r.Release()
	}

	if len(staleManifestIDs) > 0 {
		return db.catalog.Apply(nil, staleManifestIDs)
	}
	return nil
}

// loadLiveFiles registers every manifest-listed file with the level
// manager and opens (and caches) a reader for it.
func (db *DB) loadLiveFiles() error {
	for _, e := range db.catalog.Files() {
		path := filepath.Join(db.dataDir, compaction.FileName(e.Level, e.FileID))
		r, err := db.files.Acquire(e.FileID, path)
		if err != nil {
			return err
		}
		r.Release()

		db.levels.Add(e.Level, level.File{
			FileID: e.FileID, Size: e.Size,
			MinKey: e.MinKey, MaxKey: e.MaxKey,
			MinSeq: e.MinSeq, MaxSeq: e.MaxSeq,
		})
	}
	return nil
}

// replayWAL enumerates every WAL segment in creation order and applies
// its records directly to the Active MemTable at their original sequence
// numbers, then advances the sequence allocator past the highest one
// seen.
func (db *DB) replayWAL() error {
	ids, err := wal.ListSegmentIDs(db.walDir.Path())
	if err != nil {
		return err
	}

	active := db.memtables.Active()
	var maxSeq dbformat.SequenceNumber
	var replayed int64

	for _, id := range ids {
		path := wal.SegmentPath(db.walDir.Path(), id)
		r, closeFn, err := wal.NewReader(path, wal.NopReporter{})
		if err != nil {
			return err
		}
		for {
			rec, err := r.ReadRecord()
			if err == io.EOF {
				break
			}
			if err != nil {
				closeFn()
				return err
			}
			var applyErr error
			if rec.Kind == dbformat.KindDelete {
				applyErr = active.Delete(rec.Key, rec.Sequence)
			} else {
				applyErr = active.Put(rec.Key, rec.Value, rec.Sequence)
			}
			if applyErr != nil {
				closeFn()
				return applyErr
			}
			if rec.Sequence > maxSeq {
				maxSeq = rec.Sequence
			}
			replayed++
		}
		closeFn()
	}

	if replayed > 0 {
		db.memtables.SetNextSeq(uint64(maxSeq) + 1)
		db.logger.Infof("%sreplayed %d WAL records across %d segments", logging.NSRecovery, replayed, len(ids))
	}
	db.stats.recoveryCnt.Add(replayed)
	return nil
}
