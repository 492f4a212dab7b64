package lsm

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/concordkv/concordkv/internal/compaction"
	"github.com/concordkv/concordkv/internal/errs"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/manifest"
	"github.com/concordkv/concordkv/internal/memtable"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/wal"
)

// DB is the open ConcordKV engine: one facade lock guarding the Active
// MemTable pointer and WAL appends, a MemTable manager, a WAL directory,
// a manifest catalog, a level manager, and a compaction scheduler. Locks
// nest facade lock → manager lock → level manager lock → per-SSTable
// readers, always in that order.
type DB struct {
	dataDir string
	opts    Options
	logger  logging.Logger

	mu sync.RWMutex // facade lock; embeds Lock/Unlock for batch.Locker

	memtables *memtable.Manager
	walDir    *wal.Dir
	catalog   *manifest.Catalog
	levels    *level.Manager
	files     *sstable.Cache
	scheduler *compaction.Scheduler
	truncator *walBoundary

	closed atomic.Bool

	stats dbStats
}

type dbStats struct {
	writes       atomic.Int64
	reads        atomic.Int64
	deletes      atomic.Int64
	recoveryCnt  atomic.Int64
}

// Open creates data_dir and data_dir/wal if missing, loads the manifest
// (or initializes a fresh one), opens every live SSTable, replays the WAL
// into a fresh MemTable, sweeps orphaned partial outputs, and starts the
// background scheduler.
func Open(dataDir string, opts Options) (*DB, error) {
	if dataDir == "" {
		return nil, errs.New(errs.InvalidParam, "lsm: empty data_dir")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "lsm.Open", err).WithPath(dataDir)
	}

	cat, err := manifest.OpenCatalog(dataDir)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dataDir:   dataDir,
		opts:      opts,
		logger:    opts.Logger,
		memtables: memtable.NewManager(opts.memtableConfig()),
		catalog:   cat,
		levels:    level.NewManager(opts.levelConfig()),
		files:     sstable.NewCache(sstable.ReaderOptions{}),
	}

	if err := db.sweepOrphanSSTables(); err != nil {
		return nil, err
	}
	if err := db.loadLiveFiles(); err != nil {
		return nil, err
	}

	if opts.EnableWAL {
		walDir, err := wal.Open(filepath.Join(dataDir, "wal"), opts.walSyncMode(), opts.WALSizeLimit)
		if err != nil {
			return nil, err
		}
		db.walDir = walDir
		db.truncator = newWALBoundary(walDir)
		db.memtables.SetRotateHook(func() {
			db.truncator.recordBoundary(walDir.CurrentSegmentID())
		})
		if err := db.replayWAL(); err != nil {
			return nil, err
		}
	}

	cfg := compaction.DefaultConfig()
	cfg.Workers = opts.BackgroundThreads
	cfg.TargetFileSize = opts.TargetFileSize
	var truncator compaction.WALTruncator
	if db.truncator != nil {
		truncator = db.truncator
	}
	db.scheduler = compaction.New(cfg, compaction.Deps{
		DataDir:   dataDir,
		Levels:    db.levels,
		MemTables: db.memtables,
		Catalog:   db.catalog,
		WAL:       truncator,
		Files:     db.files,
		Logger:    db.logger,
	})
	if opts.EnableBackgroundCompaction {
		db.scheduler.Start()
	}

	return db, nil
}

// Close stops the scheduler, flushes the Active MemTable if non-empty,
// truncates the fully-covered WAL, and closes the WAL directory. SSTable
// readers held in the file cache are not closed.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return errs.New(errs.InvalidState, "lsm: already closed")
	}

	db.scheduler.Stop()

	db.memtables.FreezeActive()
	if err := db.scheduler.FlushPending(); err != nil {
		db.logger.Errorf("%sfinal flush on close failed: %v", logging.NSLSM, err)
	}

	if db.walDir != nil {
		if db.truncator != nil {
			if err := db.truncator.FinalizeShutdown(); err != nil {
				db.logger.Warnf("%sfailed to truncate WAL on close: %v", logging.NSLSM, err)
			}
		}
		if err := db.walDir.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) checkOpen() error {
	if db.closed.Load() {
		return errs.New(errs.InvalidState, "lsm: engine is closed")
	}
	return nil
}
