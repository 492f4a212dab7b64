// Package compaction implements the background flush/merge scheduler:
// a priority work queue feeding a fixed-size worker pool.
//
// The dequeue-with-timeout idiom and partial-output cleanup on
// abandonment are exercised through kill-point testing hooks in
// internal/testutil, which this package calls at fixed seams (task start,
// before and after a level-0 SSTable is finalized, and before a level-N
// compaction applies its manifest update) so crash-injection tests can
// exercise the scheduler.
package compaction

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/concordkv/concordkv/internal/level"
	"github.com/concordkv/concordkv/internal/logging"
	"github.com/concordkv/concordkv/internal/manifest"
	"github.com/concordkv/concordkv/internal/memtable"
	"github.com/concordkv/concordkv/internal/sstable"
	"github.com/concordkv/concordkv/internal/testutil"
)

// WALTruncator lets the scheduler remove WAL segments once a flush has
// made their records redundant, without depending on the wal package
// directly — the facade wires the concrete implementation, since it is
// the layer that knows which segment each MemTable's writes landed in.
type WALTruncator interface {
	// NextSegmentCeiling returns the WAL segment id that was current when
	// the next (oldest) Immutable MemTable due to be flushed was frozen,
	// without consuming that record. ok is false if WAL is disabled or
	// no boundary was recorded (nothing to truncate).
	NextSegmentCeiling() (segmentID uint64, ok bool)
	// RemoveSegmentsUpTo deletes every WAL segment with id < segmentID,
	// other than the one being written, and consumes that boundary.
	RemoveSegmentsUpTo(segmentID uint64) error
}

// Stats accumulates scheduler-wide counters, surfaced by the facade's
// stats() operation.
type Stats struct {
	FlushesOK      atomic.Int64
	FlushesFailed  atomic.Int64
	CompactionsOK  atomic.Int64
	CompactionsFailed atomic.Int64
}

// Config bounds the scheduler's behavior.
type Config struct {
	Workers        int   // background_thread_count, default 4
	TargetFileSize int64 // default_file_size per compaction output, default 64 MiB
	BottomLevel    int   // level at which tombstones are dropped entirely
	ShutdownGrace  time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		TargetFileSize: 64 << 20,
		BottomLevel:    level.MaxLevels - 1,
		ShutdownGrace:  5 * time.Second,
	}
}

// Deps are the scheduler's collaborators, all already constructed by the
// facade at Open time.
type Deps struct {
	DataDir   string
	Levels    *level.Manager
	MemTables *memtable.Manager
	Catalog   *manifest.Catalog
	WAL       WALTruncator
	Files     *sstable.Cache // shared reader registry; evicted entries on compaction removal
	Logger    logging.Logger
}

// Scheduler runs the priority task queue and its worker pool.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	queue    taskQueue
	inFlight map[inputKey]bool
	nextSeq  uint64
	nextID   uint64

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	Stats Stats
}

// New creates a Scheduler. Call Start to launch its worker pool.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.TargetFileSize <= 0 {
		cfg.TargetFileSize = DefaultConfig().TargetFileSize
	}
	if cfg.BottomLevel <= 0 {
		cfg.BottomLevel = DefaultConfig().BottomLevel
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewDefaultLogger(logging.LevelWarn)
	}
	return &Scheduler{
		cfg:      cfg,
		deps:     deps,
		inFlight: make(map[inputKey]bool),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

// Stop signals every worker to finish its current task and return, then
// waits up to the configured grace period; on timeout it logs a warning
// and proceeds. Stop does not close submission: a task submitted after
// Stop is queued, but no worker runs it.
func (s *Scheduler) Stop() {
	close(s.stop)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownGrace):
		s.deps.Logger.Warnf("%sscheduler shutdown grace period elapsed, proceeding", logging.NSCompact)
	}
}

// Submit enqueues t with priority, assigning it a submission sequence for
// FIFO tie-breaking.
func (s *Scheduler) submit(t *Task) *Task {
	s.mu.Lock()
	s.nextID++
	t.ID = s.nextID
	s.nextSeq++
	t.seq = s.nextSeq
	t.done = make(chan struct{})
	s.queue.push(t)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t
}

// TriggerCheck scans the MemTable manager and level manager for
// actionable conditions and submits at most one task per condition.
// A LevelN task claims its input files, and a LevelN condition whose
// files are already claimed is skipped. A Level0Flush task records no
// claim on its MemTable, so repeated calls can queue more than one flush
// while an Immutable is pending; each flush pops its own Immutable, and
// one that finds the queue empty does nothing.
func (s *Scheduler) TriggerCheck() []*Task {
	var submitted []*Task

	if mt := s.deps.MemTables.OldestImmutable(); mt != nil {
		s.mu.Lock()
		claimed := s.inFlight[inputKey{memtable: mt}]
		s.mu.Unlock()
		if !claimed {
			submitted = append(submitted, s.submit(&Task{Type: Level0Flush, Priority: High}))
		}
	}

	if s.deps.Levels.NeedsCompaction(0) {
		if t := s.trySubmitLevelN(0); t != nil {
			submitted = append(submitted, t)
		}
	}
	for l := 1; l < s.cfg.BottomLevel; l++ {
		if s.deps.Levels.NeedsCompaction(l) {
			if t := s.trySubmitLevelN(l); t != nil {
				submitted = append(submitted, t)
			}
		}
	}
	return submitted
}

// CompactLevel force-submits a LevelN compaction at srcLevel regardless of
// whether level.Manager.NeedsCompaction would trigger it, for the
// facade's manual compact(level) operation. Returns nil if srcLevel has
// no files or its inputs are already claimed by an in-flight task.
func (s *Scheduler) CompactLevel(srcLevel int) *Task {
	return s.trySubmitLevelN(srcLevel)
}

func (s *Scheduler) trySubmitLevelN(srcLevel int) *Task {
	victim := s.deps.Levels.SelectVictim(srcLevel)
	if len(victim.SourceFiles) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, f := range victim.SourceFiles {
		if s.inFlight[inputKey{level: srcLevel, fileID: f.FileID}] {
			s.mu.Unlock()
			return nil
		}
	}
	for _, f := range victim.OverlapFiles {
		if s.inFlight[inputKey{level: victim.TargetLevel, fileID: f.FileID}] {
			s.mu.Unlock()
			return nil
		}
	}
	for _, f := range victim.SourceFiles {
		s.inFlight[inputKey{level: srcLevel, fileID: f.FileID}] = true
	}
	for _, f := range victim.OverlapFiles {
		s.inFlight[inputKey{level: victim.TargetLevel, fileID: f.FileID}] = true
	}
	s.mu.Unlock()

	priority := Normal
	if srcLevel == 0 {
		priority = High
	}
	return s.submit(&Task{
		Type:         LevelN,
		Priority:     priority,
		SourceLevel:  srcLevel,
		TargetLevel:  victim.TargetLevel,
		SourceFiles:  victim.SourceFiles,
		OverlapFiles: victim.OverlapFiles,
	})
}

func (s *Scheduler) releaseInFlight(t *Task) {
	if t.Type != LevelN {
		return
	}
	s.mu.Lock()
	for _, f := range t.SourceFiles {
		delete(s.inFlight, inputKey{level: t.SourceLevel, fileID: f.FileID})
	}
	for _, f := range t.OverlapFiles {
		delete(s.inFlight, inputKey{level: t.TargetLevel, fileID: f.FileID})
	}
	s.mu.Unlock()
}

func (s *Scheduler) workerLoop() {
	defer s.wg.Done()
	for {
		task := s.dequeue()
		if task == nil {
			select {
			case <-s.stop:
				return
			default:
				continue
			}
		}
		s.runTask(task)
	}
}

// dequeue waits for a task with a timeout, so a worker checking s.stop
// periodically can shut down cleanly even with an empty queue.
func (s *Scheduler) dequeue() *Task {
	s.mu.Lock()
	t := s.queue.pop()
	s.mu.Unlock()
	if t != nil {
		return t
	}
	select {
	case <-s.wake:
		s.mu.Lock()
		t = s.queue.pop()
		s.mu.Unlock()
		return t
	case <-time.After(200 * time.Millisecond):
		return nil
	case <-s.stop:
		return nil
	}
}

func (s *Scheduler) runTask(t *Task) {
	t.status = StatusRunning
	testutil.MaybeKill("Scheduler.runTask:0")

	var err error
	switch t.Type {
	case Level0Flush:
		err = s.runLevel0Flush(t)
	case LevelN:
		err = s.runLevelNCompaction(t)
	}
	s.releaseInFlight(t)

	if err != nil {
		t.status = StatusFailed
		t.result = Result{Err: err}
		if t.Type == Level0Flush {
			s.Stats.FlushesFailed.Add(1)
		} else {
			s.Stats.CompactionsFailed.Add(1)
		}
		s.deps.Logger.Errorf("%stask %d (%s) failed: %v", logging.NSCompact, t.ID, t.Type, err)
	} else {
		t.status = StatusDone
		if t.Type == Level0Flush {
			s.Stats.FlushesOK.Add(1)
		} else {
			s.Stats.CompactionsOK.Add(1)
		}
	}
	close(t.done)
}
