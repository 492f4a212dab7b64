package lsm

// Stats aggregates the facade's operation counters (writes, reads,
// deletes, cache hits/misses, recovery_count) and every scheduler
// counter.
type Stats struct {
	Writes        int64
	Reads         int64
	Deletes       int64
	CacheHits     int64
	CacheMisses   int64
	RecoveryCount int64

	FlushesOK         int64
	FlushesFailed     int64
	CompactionsOK     int64
	CompactionsFailed int64
}

// Stats returns a point-in-time snapshot of the engine's counters.
func (db *DB) Stats() Stats {
	hits, misses := db.files.AggregateCacheStats()
	return Stats{
		Writes:        db.stats.writes.Load(),
		Reads:         db.stats.reads.Load(),
		Deletes:       db.stats.deletes.Load(),
		CacheHits:     hits,
		CacheMisses:   misses,
		RecoveryCount: db.stats.recoveryCnt.Load(),

		FlushesOK:         db.scheduler.Stats.FlushesOK.Load(),
		FlushesFailed:     db.scheduler.Stats.FlushesFailed.Load(),
		CompactionsOK:     db.scheduler.Stats.CompactionsOK.Load(),
		CompactionsFailed: db.scheduler.Stats.CompactionsFailed.Load(),
	}
}
