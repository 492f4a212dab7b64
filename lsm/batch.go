package lsm

import "github.com/concordkv/concordkv/internal/batch"

// NewBatch returns a batch.Writer bound to this engine's MemTable manager,
// WAL, and facade write lock. The caller commits it with
// (*batch.Writer).Commit; wal is passed as a nil interface (not a nil
// WALAppender, to avoid the typed-nil-in-interface pitfall of an unwrapped
// *wal.Dir) when enable_wal is off.
func (db *DB) NewBatch(cfg batch.Config) *batch.Writer {
	var appender batch.WALAppender
	if db.walDir != nil {
		appender = db.walDir
	}
	return batch.New(cfg, db.memtables, appender, &db.mu)
}
