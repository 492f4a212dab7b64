// Package lsm implements ConcordKV's facade: open/close, the put/delete/get
// read-write surface, and stats aggregation, wiring together the memtable
// manager, WAL, manifest catalog, level manager, and compaction scheduler.
//
// The facade lock guards the Active MemTable pointer and WAL appends; the
// level manager and manifest catalog guard themselves.
package lsm

import (
	"github.com/concordkv/concordkv/internal/compression"
	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/memtable"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/wal"
)

// Options configures Open: the core-relevant subset of configuration
// knobs.
type Options struct {
	MemtableSize     int64 // memtable_size
	MaxImmutable     int   // max_immutable_count
	EnableWAL        bool  // enable_wal
	SyncWrites       bool  // sync_writes
	WALSizeLimit     int64 // wal_size_limit

	Level0FileLimit     int     // level0_file_limit
	LevelSizeMultiplier float64 // level_size_multiplier
	BaseLevelBytes      uint64  // max_level_bytes[1]

	BackgroundThreads          int  // background_thread_count
	EnableBackgroundCompaction bool // enable_background_compaction
	TargetFileSize             int64

	Compression           compression.Type
	EnableBloomFilter     bool
	BloomFilterBitsPerKey float64
	BlockSize             int

	Logger logging.Logger
}

// DefaultOptions returns the documented defaults across every knob.
func DefaultOptions() Options {
	lc := level.DefaultConfig()
	return Options{
		MemtableSize:               memtable.DefaultConfig().MaxSize,
		MaxImmutable:               memtable.DefaultConfig().MaxImmutable,
		EnableWAL:                  true,
		SyncWrites:                 false,
		WALSizeLimit:               64 << 20,
		Level0FileLimit:            lc.Level0FileLimit,
		LevelSizeMultiplier:        lc.LevelSizeMultiplier,
		BaseLevelBytes:             lc.BaseLevelBytes,
		BackgroundThreads:          4,
		EnableBackgroundCompaction: true,
		TargetFileSize:             64 << 20,
		Compression:                compression.None,
		EnableBloomFilter:          true,
		BloomFilterBitsPerKey:      10,
		BlockSize:                  4096,
	}
}

func (o Options) walSyncMode() wal.SyncMode {
	if o.SyncWrites {
		return wal.Sync
	}
	return wal.Buffered
}

func (o Options) writerOptions() sstable.WriterOptions {
	wo := sstable.DefaultWriterOptions()
	wo.BlockSize = o.BlockSize
	wo.Compression = o.Compression
	wo.EnableBloom = o.EnableBloomFilter
	if o.EnableBloomFilter {
		wo.BloomTargetFPRate = bitsPerKeyToFPRate(o.BloomFilterBitsPerKey)
	}
	return wo
}

// bitsPerKeyToFPRate approximates the false-positive rate implied by a
// bits-per-key budget, using the standard bloom relation fp ≈ 0.6185^(m/n).
func bitsPerKeyToFPRate(bitsPerKey float64) float64 {
	if bitsPerKey <= 0 {
		return 0.01
	}
	fp := 1.0
	const base = 0.6185
	for i := 0.0; i < bitsPerKey; i++ {
		fp *= base
	}
	return fp
}

func (o Options) memtableConfig() memtable.Config {
	return memtable.Config{MaxSize: o.MemtableSize, MaxImmutable: o.MaxImmutable}
}

func (o Options) levelConfig() level.Config {
	return level.Config{
		Level0FileLimit:     o.Level0FileLimit,
		LevelSizeMultiplier: o.LevelSizeMultiplier,
		BaseLevelBytes:      o.BaseLevelBytes,
	}
}
