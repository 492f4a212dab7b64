// Package level tracks live SSTable metadata per level and decides when
// a level needs compaction.
//
// It uses a file-count trigger for level 0 and a size-ratio trigger for
// level ≥1, with geometric level_max_bytes[L] = base_bytes *
// multiplier^(L-1) growth (level 1's target is base_bytes), and a "pick everything overlapping, then extend
// into the next level" victim selection shape. There is no
// BeingCompacted bookkeeping here — the scheduler tracks in-flight
// inputs itself, see internal/compaction — and no universal or FIFO
// compaction styles, leveled only.
package level

import (
	"sort"
	"sync"

	"github.com/concordkv/concordkv/internal/dbformat"
)

// MaxLevels bounds the number of levels the manager tracks (level 0
// through MaxLevels-1).
const MaxLevels = 7

// File describes one live SSTable's metadata, as the level manager needs
// it without opening the file itself.
type File struct {
	FileID     uint64
	Size       uint64
	MinKey     []byte
	MaxKey     []byte
	MinSeq     dbformat.SequenceNumber
	MaxSeq     dbformat.SequenceNumber
	CreatedSeq uint64 // monotonic creation order, used for oldest-file tie-breaking
}

// Config holds the manager's compaction trigger thresholds.
type Config struct {
	Level0FileLimit    int     // default 4
	LevelSizeMultiplier float64 // default 10
	BaseLevelBytes     uint64  // level 1's target size, default 256 MiB
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Level0FileLimit:     4,
		LevelSizeMultiplier: 10,
		BaseLevelBytes:      256 * 1024 * 1024,
	}
}

// Manager tracks, per level, the list of live SSTable metadata entries.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	levels [MaxLevels][]File
	seqCtr uint64
}

// NewManager returns an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Add registers sst as live at level. Level-0 files are kept in
// creation order (append-only, since they may overlap); levels ≥1 are
// kept sorted by MinKey to support binary search and disjointness
// checks.
func (m *Manager) Add(level int, sst File) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqCtr++
	if sst.CreatedSeq == 0 {
		sst.CreatedSeq = m.seqCtr
	}
	m.levels[level] = append(m.levels[level], sst)
	if level > 0 {
		sort.Slice(m.levels[level], func(i, j int) bool {
			return dbformat.BytewiseCompare(m.levels[level][i].MinKey, m.levels[level][j].MinKey) < 0
		})
	}
}

// Remove drops fileID from level. It is a no-op if the file is not
// present (idempotent, so a retried manifest replay is harmless).
func (m *Manager) Remove(level int, fileID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := m.levels[level]
	for i, f := range files {
		if f.FileID == fileID {
			m.levels[level] = append(files[:i], files[i+1:]...)
			return
		}
	}
}

// FileCount returns the number of live files at level.
func (m *Manager) FileCount(level int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.levels[level])
}

// TotalBytes returns the sum of live file sizes at level.
func (m *Manager) TotalBytes(level int) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, f := range m.levels[level] {
		total += f.Size
	}
	return total
}

// Files returns a copy of level's live file list.
func (m *Manager) Files(level int) []File {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]File, len(m.levels[level]))
	copy(out, m.levels[level])
	return out
}

// maxBytesForLevel returns level_max_bytes[L] = base_bytes *
// multiplier^(L-1) for L >= 1; level 0 has no byte-size trigger.
func (m *Manager) maxBytesForLevel(level int) uint64 {
	size := float64(m.cfg.BaseLevelBytes)
	for i := 1; i < level; i++ {
		size *= m.cfg.LevelSizeMultiplier
	}
	return uint64(size)
}

// NeedsCompaction reports whether level currently exceeds its trigger:
// file count for level 0, total byte size for level ≥1.
func (m *Manager) NeedsCompaction(level int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if level == 0 {
		return len(m.levels[0]) >= m.cfg.Level0FileLimit
	}
	var total uint64
	for _, f := range m.levels[level] {
		total += f.Size
	}
	return total > m.maxBytesForLevel(level)
}

// BusiestLevel returns the level ≥1 with the highest size-ratio score,
// and whether any level ≥1 needs compaction at all. Level 0 is checked
// separately by the caller since it has priority: a level-0 flush is a
// distinct, higher-priority task type from a level-N merge.
func (m *Manager) BusiestLevel() (level int, score float64, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for l := 1; l < MaxLevels-1; l++ {
		var total uint64
		for _, f := range m.levels[l] {
			total += f.Size
		}
		target := m.maxBytesForLevel(l)
		if target == 0 {
			continue
		}
		s := float64(total) / float64(target)
		if s > score {
			score = s
			level = l
			found = s >= 1.0
		}
	}
	return level, score, found
}

// Victim is the result of SelectVictim: the chosen source files at
// level and the overlapping files one level down that must merge with
// them to preserve level ≥1 disjointness.
type Victim struct {
	SourceLevel  int
	SourceFiles  []File
	TargetLevel  int
	OverlapFiles []File
}

// SelectVictim picks compaction inputs for level: at level 0, all
// level-0 files plus every level-1 file overlapping their combined key
// range; at level L≥1, the oldest-created file at L plus every
// level-(L+1) file overlapping its range.
func (m *Manager) SelectVictim(level int) Victim {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if level == 0 {
		sources := make([]File, len(m.levels[0]))
		copy(sources, m.levels[0])
		if len(sources) == 0 {
			return Victim{SourceLevel: 0, TargetLevel: 1}
		}
		minKey, maxKey := combinedRange(sources)
		overlap := overlappingLocked(m.levels[1], minKey, maxKey)
		return Victim{SourceLevel: 0, SourceFiles: sources, TargetLevel: 1, OverlapFiles: overlap}
	}

	files := m.levels[level]
	if len(files) == 0 {
		return Victim{SourceLevel: level, TargetLevel: level + 1}
	}
	oldest := files[0]
	for _, f := range files[1:] {
		if f.CreatedSeq < oldest.CreatedSeq {
			oldest = f
		}
	}
	overlap := overlappingLocked(m.levels[level+1], oldest.MinKey, oldest.MaxKey)
	return Victim{
		SourceLevel:  level,
		SourceFiles:  []File{oldest},
		TargetLevel:  level + 1,
		OverlapFiles: overlap,
	}
}

func combinedRange(files []File) (min, max []byte) {
	for _, f := range files {
		if min == nil || dbformat.BytewiseCompare(f.MinKey, min) < 0 {
			min = f.MinKey
		}
		if max == nil || dbformat.BytewiseCompare(f.MaxKey, max) > 0 {
			max = f.MaxKey
		}
	}
	return min, max
}

func overlappingLocked(files []File, minKey, maxKey []byte) []File {
	var out []File
	for _, f := range files {
		if dbformat.BytewiseCompare(f.MaxKey, minKey) < 0 || dbformat.BytewiseCompare(f.MinKey, maxKey) > 0 {
			continue
		}
		out = append(out, f)
	}
	return out
}

// FindFile returns the level ≥1 file (if any) whose key range may
// contain key, via binary search over the level's disjoint, sorted
// files. Level 0 must be scanned linearly by the caller since its files
// may overlap.
func (m *Manager) FindFile(level int, key []byte) (File, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := m.levels[level]
	i := sort.Search(len(files), func(i int) bool {
		return dbformat.BytewiseCompare(files[i].MaxKey, key) >= 0
	})
	if i >= len(files) {
		return File{}, false
	}
	if dbformat.BytewiseCompare(files[i].MinKey, key) > 0 {
		return File{}, false
	}
	return files[i], true
}
