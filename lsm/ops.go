package lsm

import (
	"path/filepath"
	"sort"

	"github.com/concordkv/concordkv/internal/compaction"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/memtable"
)

const notFound = memtable.NotFound

// valueOrNil turns a MemTable lookup result into the facade's
// (value, found, err) return shape: a tombstone is reported as
// NotFound, terminating the read without consulting lower layers.
func valueOrNil(v []byte, r memtable.LookupResult) ([]byte, bool, error) {
	if r == memtable.FoundTombstone {
		return nil, false, nil
	}
	return v, true, nil
}

// Put writes key/value.
func (db *DB) Put(key, value []byte) error {
	if err := db.write(key, value, false); err != nil {
		return err
	}
	db.stats.writes.Add(1)
	return nil
}

// Delete writes a tombstone for key.
func (db *DB) Delete(key []byte) error {
	if err := db.write(key, nil, true); err != nil {
		return err
	}
	db.stats.deletes.Add(1)
	return nil
}

func (db *DB) write(key, value []byte, isDelete bool) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return errs.New(errs.InvalidParam, "lsm: empty key")
	}

	db.memtables.WaitForRoom()

	db.mu.Lock()
	defer db.mu.Unlock()

	seq := db.memtables.NextSeq(1)
	active := db.memtables.Active()

	if db.walDir != nil {
		kind := dbformat.KindPut
		if isDelete {
			kind = dbformat.KindDelete
		}
		if _, err := db.walDir.Append(key, value, kind, seq); err != nil {
			return err
		}
	}

	var err error
	if isDelete {
		err = active.Delete(key, seq)
	} else {
		err = active.Put(key, value, seq)
	}
	if err != nil {
		return err
	}

	db.memtables.CheckRotation(active)
	return nil
}

// Get reads key, traversing Active → Immutables (newest→oldest) →
// level-0 files (newest→oldest by creation) → level 1..N files (one file
// per level via range lookup). A tombstone encountered anywhere along the
// way terminates the search with found=false.
func (db *DB) Get(key []byte) (value []byte, found bool, err error) {
	if err := db.checkOpen(); err != nil {
		return nil, false, err
	}
	db.stats.reads.Add(1)

	db.mu.RLock()
	active, immutables := db.memtables.Snapshot()
	db.mu.RUnlock()

	if v, r := active.Get(key, dbformat.MaxSequenceNumber); r != notFound {
		return valueOrNil(v, r)
	}
	for _, mt := range immutables {
		if v, r := mt.Get(key, dbformat.MaxSequenceNumber); r != notFound {
			return valueOrNil(v, r)
		}
	}

	l0 := db.levels.Files(0)
	sort.Slice(l0, func(i, j int) bool { return l0[i].CreatedSeq > l0[j].CreatedSeq })
	for _, f := range l0 {
		v, kind, ok, err := db.getFromFile(0, f, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if kind == dbformat.KindDelete {
			return nil, false, nil
		}
		return v, true, nil
	}

	for lvl := 1; lvl < level.MaxLevels; lvl++ {
		f, ok := db.levels.FindFile(lvl, key)
		if !ok {
			continue
		}
		v, kind, ok, err := db.getFromFile(lvl, f, key)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if kind == dbformat.KindDelete {
			return nil, false, nil
		}
		return v, true, nil
	}

	return nil, false, nil
}

func (db *DB) getFromFile(lvl int, f level.File, key []byte) (value []byte, kind dbformat.Kind, found bool, err error) {
	path := filepath.Join(db.dataDir, compaction.FileName(lvl, f.FileID))
	r, err := db.files.Acquire(f.FileID, path)
	if err != nil {
		return nil, 0, false, err
	}
	defer r.Release()

	v, k, _, getErr := r.Get(key, dbformat.MaxSequenceNumber)
	if getErr != nil {
		if errs.KindOf(getErr) == errs.NotFound {
			return nil, 0, false, nil
		}
		return nil, 0, false, getErr
	}
	return v, k, true, nil
}

// Flush force-rotates the Active MemTable to Immutable and synchronously
// drains the entire immutable queue to level-0 SSTables.
func (db *DB) Flush() error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	db.memtables.FreezeActive()
	return db.scheduler.FlushPending()
}

// Compact submits a compaction task. A negative lvl runs the scheduler's
// trigger check, submitting a task for every condition that currently
// triggers (a pending flush, level 0 over its file limit, each level ≥1
// over its byte target), and waits for all of them; a
// non-negative lvl force-submits a LevelN compaction at that level
// regardless of whether it currently exceeds its trigger. Returns nil
// without error if nothing was submitted (nothing to do, or inputs
// already claimed by an in-flight task).
func (db *DB) Compact(lvl int) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if lvl < 0 {
		tasks := db.scheduler.TriggerCheck()
		for _, t := range tasks {
			if res := t.Wait(); res.Err != nil {
				return res.Err
			}
		}
		return nil
	}
	if lvl >= level.MaxLevels {
		return errs.New(errs.InvalidParam, "lsm: level out of range")
	}
	t := db.scheduler.CompactLevel(lvl)
	if t == nil {
		return nil
	}
	return t.Wait().Err
}
