// Package skiplist implements the ordered, lock-free-read structure backing
// the MemTable. Concurrent reads never block; writes require external
// synchronization (the MemTable's caller holds the write path's lock).
//
// Nodes are never deleted until the whole list is discarded, so an
// iterator holding a reference to a node always sees a consistent view of
// its forward pointers even while other goroutines read concurrently.
package skiplist

import (
	"bytes"
	"math/rand"
	"sync/atomic"
)

const (
	// DefaultMaxHeight bounds how many forward-pointer levels a node can have.
	DefaultMaxHeight = 12

	// DefaultBranchingFactor controls the probability (1/branchingFactor) that
	// a node is promoted to the next level.
	DefaultBranchingFactor = 4
)

// Comparator orders two keys: negative if a < b, positive if a > b, zero if equal.
type Comparator func(a, b []byte) int

// BytewiseComparator orders keys by raw byte value.
func BytewiseComparator(a, b []byte) int {
	return bytes.Compare(a, b)
}

type node struct {
	key  []byte
	next []*atomic.Pointer[node]
}

func newNode(key []byte, height int) *node {
	n := &node{key: key, next: make([]*atomic.Pointer[node], height)}
	for i := range n.next {
		n.next[i] = &atomic.Pointer[node]{}
	}
	return n
}

func (n *node) getNext(level int) *node { return n.next[level].Load() }
func (n *node) setNext(level int, v *node) { n.next[level].Store(v) }

// List is a lock-free-read skip list keyed by arbitrary byte slices.
type List struct {
	head      *node
	maxHeight int32
	compare   Comparator
	rng       *rand.Rand

	kMaxHeight  int
	kBranching  int
	kScaledInvB uint32

	count int64
}

// New creates a skip list ordered by cmp (BytewiseComparator if nil).
func New(cmp Comparator) *List {
	return NewWithParams(cmp, DefaultMaxHeight, DefaultBranchingFactor)
}

// NewWithParams creates a skip list with explicit height and branching parameters.
func NewWithParams(cmp Comparator, maxHeight, branchingFactor int) *List {
	if cmp == nil {
		cmp = BytewiseComparator
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if branchingFactor <= 0 {
		branchingFactor = DefaultBranchingFactor
	}

	return &List{
		head:        newNode(nil, maxHeight),
		maxHeight:   1,
		compare:     cmp,
		rng:         rand.New(rand.NewSource(0xDEADBEEF)),
		kMaxHeight:  maxHeight,
		kBranching:  branchingFactor,
		kScaledInvB: uint32(0xFFFFFFFF) / uint32(branchingFactor),
	}
}

// Insert adds key to the list.
// REQUIRES: external synchronization; key must not already be present.
func (l *List) Insert(key []byte) {
	prev := make([]*node, l.kMaxHeight)
	x := l.findGreaterOrEqual(key, prev)
	if x != nil && l.compare(key, x.key) == 0 {
		return
	}

	height := l.randomHeight()
	maxH := int(atomic.LoadInt32(&l.maxHeight))
	if height > maxH {
		for i := maxH; i < height; i++ {
			prev[i] = l.head
		}
		atomic.StoreInt32(&l.maxHeight, int32(height))
	}

	n := newNode(key, height)
	for i := range height {
		n.setNext(i, prev[i].getNext(i))
		prev[i].setNext(i, n)
	}

	atomic.AddInt64(&l.count, 1)
}

// Contains reports whether key is present in the list.
func (l *List) Contains(key []byte) bool {
	x := l.findGreaterOrEqual(key, nil)
	return x != nil && l.compare(key, x.key) == 0
}

// Count returns the number of entries in the list.
func (l *List) Count() int64 {
	return atomic.LoadInt64(&l.count)
}

func (l *List) findGreaterOrEqual(key []byte, prev []*node) *node {
	x := l.head
	level := int(atomic.LoadInt32(&l.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && l.compare(key, next.key) > 0 {
			x = next
		} else {
			if prev != nil {
				prev[level] = x
			}
			if level == 0 {
				return next
			}
			level--
		}
	}
}

func (l *List) findLessThan(key []byte) *node {
	x := l.head
	level := int(atomic.LoadInt32(&l.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil && l.compare(next.key, key) < 0 {
			x = next
		} else {
			if level == 0 {
				if x == l.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

func (l *List) findLast() *node {
	x := l.head
	level := int(atomic.LoadInt32(&l.maxHeight)) - 1

	for {
		next := x.getNext(level)
		if next != nil {
			x = next
		} else {
			if level == 0 {
				if x == l.head {
					return nil
				}
				return x
			}
			level--
		}
	}
}

func (l *List) randomHeight() int {
	height := 1
	for height < l.kMaxHeight {
		if l.rng.Uint32() < l.kScaledInvB {
			height++
		} else {
			break
		}
	}
	return height
}

// Iterator traverses a List in key order.
type Iterator struct {
	list *List
	node *node
}

// NewIterator returns an iterator over the list. It is not positioned at a
// valid entry until one of the Seek methods is called.
func (l *List) NewIterator() *Iterator {
	return &Iterator{list: l}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.node != nil }

// Key returns the key at the current position.
// REQUIRES: Valid()
func (it *Iterator) Key() []byte {
	if it.node == nil {
		return nil
	}
	return it.node.key
}

// Next advances to the next entry.
// REQUIRES: Valid()
func (it *Iterator) Next() {
	if it.node != nil {
		it.node = it.node.getNext(0)
	}
}

// Prev moves to the previous entry.
// REQUIRES: Valid()
func (it *Iterator) Prev() {
	if it.node != nil {
		it.node = it.list.findLessThan(it.node.key)
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	it.node = it.list.findGreaterOrEqual(target, nil)
}

// SeekForPrev positions the iterator at the last entry with key <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	it.Seek(target)
	if !it.Valid() {
		it.SeekToLast()
	} else if it.list.compare(it.node.key, target) > 0 {
		it.Prev()
	}
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() {
	it.node = it.list.head.getNext(0)
}

// SeekToLast positions the iterator at the last entry.
func (it *Iterator) SeekToLast() {
	it.node = it.list.findLast()
}
