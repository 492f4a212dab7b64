package lsm

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/concordkv/concordkv/internal/batch"
	"github.com/concordkv/concordkv/internal/errs"
)

func mustOpen(t *testing.T, opts Options) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

// S1 basic roundtrip: put, put, delete, get.
func TestS1BasicRoundtrip(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	if err := db.Put([]byte("apple"), []byte("red")); err != nil {
		t.Fatalf("put apple: %v", err)
	}
	if err := db.Put([]byte("banana"), []byte("yellow")); err != nil {
		t.Fatalf("put banana: %v", err)
	}
	if err := db.Delete([]byte("apple")); err != nil {
		t.Fatalf("delete apple: %v", err)
	}

	if _, found, err := db.Get([]byte("apple")); err != nil || found {
		t.Fatalf("get apple: found=%v err=%v, want NotFound", found, err)
	}
	v, found, err := db.Get([]byte("banana"))
	if err != nil || !found || string(v) != "yellow" {
		t.Fatalf("get banana: v=%q found=%v err=%v, want yellow", v, found, err)
	}
}

// Read-your-writes and tombstone shadowing.
func TestReadYourWritesAndResurrection(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if v, found, _ := db.Get([]byte("k")); !found || string(v) != "v1" {
		t.Fatalf("read-your-writes: got %q/%v", v, found)
	}

	if err := db.Delete([]byte("k")); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := db.Get([]byte("k")); found {
		t.Fatalf("tombstone shadowing: key still found after delete")
	}

	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if v, found, _ := db.Get([]byte("k")); !found || string(v) != "v2" {
		t.Fatalf("resurrection: got %q/%v", v, found)
	}
}

// S4 WAL recovery: write and delete, "crash" (abandon without Close), reopen.
func TestS4WALRecovery(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.SyncWrites = true // fsync every append so an abandoned DB still left durable records

	db1, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("wal_key_%d", i))
		if err := db1.Put(key, []byte(fmt.Sprintf("val_%d", i))); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	if err := db1.Delete([]byte("wal_key_5")); err != nil {
		t.Fatal(err)
	}
	if err := db1.Delete([]byte("wal_key_7")); err != nil {
		t.Fatal(err)
	}
	// No Close(): simulates a crash with only durably-synced WAL records
	// surviving.

	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	if _, found, _ := db2.Get([]byte("wal_key_5")); found {
		t.Fatalf("wal_key_5: expected NotFound after recovery")
	}
	if _, found, _ := db2.Get([]byte("wal_key_7")); found {
		t.Fatalf("wal_key_7: expected NotFound after recovery")
	}
	for i := 0; i < 10; i++ {
		if i == 5 || i == 7 {
			continue
		}
		key := []byte(fmt.Sprintf("wal_key_%d", i))
		want := fmt.Sprintf("val_%d", i)
		v, found, err := db2.Get(key)
		if err != nil || !found || string(v) != want {
			t.Fatalf("%s: got %q/%v want %q", key, v, found, want)
		}
	}
	if db2.Stats().RecoveryCount == 0 {
		t.Fatalf("expected recovery_count > 0 after crash recovery")
	}
}

// S5 compaction correctness: small memtable forces several level-0 files,
// then a full compaction, and every key must still be retrievable.
func TestS5CompactionCorrectness(t *testing.T) {
	opts := DefaultOptions()
	opts.MemtableSize = 8 << 10 // tiny, forces many rotations
	opts.MaxImmutable = 8
	opts.EnableBackgroundCompaction = false // drive flush/compaction explicitly
	opts.Level0FileLimit = 4

	db := mustOpen(t, opts)
	defer db.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key_%05d", i))
		val := []byte(fmt.Sprintf("value_%05d_payload", i))
		if err := db.Put(key, val); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if err := db.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for i := 0; i < 20 && db.levels.FileCount(0) >= opts.Level0FileLimit; i++ {
		if err := db.Compact(-1); err != nil {
			t.Fatalf("compact: %v", err)
		}
	}

	if db.levels.FileCount(0) >= opts.Level0FileLimit {
		t.Fatalf("level-0 file count %d still at/above limit %d after compaction",
			db.levels.FileCount(0), opts.Level0FileLimit)
	}

	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key_%05d", i))
		want := fmt.Sprintf("value_%05d_payload", i)
		v, found, err := db.Get(key)
		if err != nil || !found || string(v) != want {
			t.Fatalf("%s: got %q/%v want %q", key, v, found, want)
		}
	}
}

func TestSequenceMonotonicity(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	var last uint64
	for i := 0; i < 100; i++ {
		db.mu.Lock()
		seq := db.memtables.NextSeq(1)
		db.mu.Unlock()
		if uint64(seq) <= last {
			t.Fatalf("sequence not monotonic: %d <= %d", seq, last)
		}
		last = uint64(seq)
	}
}

func TestGetOnMissingKey(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	if _, found, err := db.Get([]byte("nope")); err != nil || found {
		t.Fatalf("expected NotFound, got found=%v err=%v", found, err)
	}
}

func TestPutEmptyKeyRejected(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	err := db.Put(nil, []byte("v"))
	if errs.KindOf(err) != errs.InvalidParam {
		t.Fatalf("expected InvalidParam, got %v", err)
	}
}

func TestCloseThenOperationsFail(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := db.Put([]byte("k2"), []byte("v2")); errs.KindOf(err) != errs.InvalidState {
		t.Fatalf("expected InvalidState after close, got %v", err)
	}
	if err := db.Close(); errs.KindOf(err) != errs.InvalidState {
		t.Fatalf("double close should report InvalidState, got %v", err)
	}
}

func TestReopenAfterCleanClose(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()

	db1, err := Open(dir, opts)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("clean_%d", i))
		if err := db1.Put(key, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := db1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(dir, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("clean_%d", i))
		if _, found, err := db2.Get(key); err != nil || !found {
			t.Fatalf("%s missing after clean reopen: found=%v err=%v", key, found, err)
		}
	}
	// Idempotent recovery: a clean shutdown leaves no WAL records to replay.
	if db2.Stats().RecoveryCount != 0 {
		t.Fatalf("expected no replay after clean close, got recovery_count=%d", db2.Stats().RecoveryCount)
	}
}

// S2 dedup batch: three Puts to the same key with dedup on collapse to
// entry_count=1, and the last value wins.
func TestS2DedupBatch(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	bw := db.NewBatch(batch.DefaultConfig())
	bw.Put([]byte("k"), []byte("v1"))
	bw.Put([]byte("k"), []byte("v2"))
	bw.Put([]byte("k"), []byte("v3"))

	if n, _ := bw.Status(); n != 1 {
		t.Fatalf("status entry_count = %d, want 1", n)
	}

	res := bw.Commit()
	if res.Committed != 1 || res.Failed != 0 {
		t.Fatalf("commit result: %+v", res)
	}
	if v, found, err := db.Get([]byte("k")); err != nil || !found || string(v) != "v3" {
		t.Fatalf("get k: v=%q found=%v err=%v, want v3", v, found, err)
	}
}

// S3 PUT/DELETE/PUT dedup: the final operation per key wins after sort+dedup.
func TestS3PutDeletePutDedup(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	bw := db.NewBatch(batch.DefaultConfig())
	bw.Put([]byte("k"), []byte("v"))
	bw.Delete([]byte("k"))
	bw.Put([]byte("k"), []byte("v"))

	res := bw.Commit()
	if res.Committed != 1 {
		t.Fatalf("commit result: %+v", res)
	}
	if v, found, err := db.Get([]byte("k")); err != nil || !found || string(v) != "v" {
		t.Fatalf("get k: v=%q found=%v err=%v, want v", v, found, err)
	}
}

// Batch atomicity: a concurrent reader never sees a proper subset of a
// committed batch.
func TestBatchAtomicVisibility(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	bw := db.NewBatch(batch.DefaultConfig())
	for i := 0; i < 50; i++ {
		bw.Put([]byte(fmt.Sprintf("batch_%03d", i)), []byte("v"))
	}
	res := bw.Commit()
	if res.Committed != 50 {
		t.Fatalf("committed = %d, want 50", res.Committed)
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("batch_%03d", i))
		if _, found, err := db.Get(key); err != nil || !found {
			t.Fatalf("%s: found=%v err=%v after commit", key, found, err)
		}
	}
}

func TestStatsCounters(t *testing.T) {
	db := mustOpen(t, DefaultOptions())
	defer db.Close()

	if err := db.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.Get([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := db.Delete([]byte("a")); err != nil {
		t.Fatal(err)
	}

	st := db.Stats()
	if st.Writes != 1 || st.Deletes != 1 || st.Reads != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
}

func TestDataDirLayout(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	walDir := filepath.Join(dir, "wal")
	if _, err := filepathGlob(walDir); err != nil {
		t.Fatalf("wal dir missing: %v", err)
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}
