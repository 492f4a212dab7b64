package compaction

import (
	"container/heap"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/sstable"
)

// sourceIter is the subset of *sstable.Iterator the merge iterator needs,
// narrowed for testability.
type sourceIter interface {
	Next() bool
	Entry() sstable.DecodedEntry
	Err() error
}

// mergeItem is one heap slot: the current entry of one source plus which
// source it came from, so ties can prefer the newer source.
type mergeItem struct {
	srcIdx int
	entry  sstable.DecodedEntry
}

// mergeHeap orders by (user key ascending, sequence descending), the same
// ordering dbformat.Comparator defines for internal keys — newer writes
// to the same key surface first so the caller can keep only the newest.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	a, b := h[i].entry, h[j].entry
	if c := dbformat.BytewiseCompare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return h[i].srcIdx < h[j].srcIdx
}
func (h mergeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x any)        { *h = append(*h, x.(mergeItem)) }
func (h *mergeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MergeIterator merges several ascending sstable.Iterators into a single
// ascending stream ordered by (key, sequence desc) using a min-heap over
// the sources, narrowed to forward-only iteration, which is all
// compaction needs.
type MergeIterator struct {
	sources []sourceIter
	h       mergeHeap
	cur     sstable.DecodedEntry
	err     error
	started bool
}

// NewMergeIterator builds a merge iterator over sources, in priority order
// (sources listed first win key-and-sequence ties — used so a newer
// SSTable's entry is preferred over an older one at the same sequence,
// though sequence numbers are globally unique in practice).
func NewMergeIterator(sources []sourceIter) *MergeIterator {
	return &MergeIterator{sources: sources}
}

func (m *MergeIterator) init() {
	m.started = true
	m.h = make(mergeHeap, 0, len(m.sources))
	for i, s := range m.sources {
		if s.Next() {
			m.h = append(m.h, mergeItem{srcIdx: i, entry: s.Entry()})
		} else if s.Err() != nil {
			m.err = s.Err()
			return
		}
	}
	heap.Init(&m.h)
}

// Next advances to the next entry in merged order. It returns false at
// end of stream or on error (check Err()).
func (m *MergeIterator) Next() bool {
	if !m.started {
		m.init()
	}
	if m.err != nil || len(m.h) == 0 {
		return false
	}
	top := heap.Pop(&m.h).(mergeItem)
	m.cur = top.entry

	src := m.sources[top.srcIdx]
	if src.Next() {
		heap.Push(&m.h, mergeItem{srcIdx: top.srcIdx, entry: src.Entry()})
	} else if src.Err() != nil {
		m.err = src.Err()
		return false
	}
	return true
}

// Entry returns the entry at the iterator's current position.
func (m *MergeIterator) Entry() sstable.DecodedEntry { return m.cur }

// Err returns the first error encountered across any source.
func (m *MergeIterator) Err() error { return m.err }
