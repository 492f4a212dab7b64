// Package memtable implements the in-memory write buffer and its manager:
// an ordered map of recent writes that is rotated from Active to Immutable
// once it grows past a size threshold, and eventually flushed to an
// SSTable by a compaction worker.
package memtable

import (
	"sync"
	"sync/atomic"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/encoding"
	"github.com/concordkv/concordkv/internal/errs"
	"github.com/concordkv/concordkv/internal/skiplist"
)

// State is a MemTable's lifecycle stage.
type State int

const (
	// Active accepts writes.
	Active State = iota
	// Immutable is read-only, awaiting flush.
	Immutable
)

// entryOverhead approximates per-entry skip list node bookkeeping (key
// slice header, forward-pointer array, etc) added to byte_size accounting.
const entryOverhead = 64

// MemTable is an in-memory ordered buffer of recent writes.
//
// Entries are stored in the backing skip list as:
//
//	internal_key_len : varint32
//	internal_key     : user_key + 9-byte trailer (seq + kind)
//	value_len        : varint32
//	value            : value_len bytes
//
// There are no range tombstones and no merge operator here: a MemTable
// only ever holds Put or Delete entries.
type MemTable struct {
	mu       sync.RWMutex
	skiplist *skiplist.List

	state     atomic.Int32
	byteSize  atomic.Int64
	numEntries atomic.Int64

	firstSeq atomic.Uint64
	lastSeq  atomic.Uint64
}

// New creates an empty, Active MemTable.
func New() *MemTable {
	mt := &MemTable{
		skiplist: skiplist.New(func(a, b []byte) int {
			return compareEntries(a, b)
		}),
	}
	mt.firstSeq.Store(uint64(dbformat.MaxSequenceNumber))
	return mt
}

// State returns the MemTable's current lifecycle stage.
func (mt *MemTable) State() State {
	return State(mt.state.Load())
}

// Freeze transitions the MemTable from Active to Immutable. Idempotent.
func (mt *MemTable) Freeze() {
	mt.state.Store(int32(Immutable))
}

// ByteSize returns the accumulated key+value footprint plus per-entry overhead.
func (mt *MemTable) ByteSize() int64 {
	return mt.byteSize.Load()
}

// EntryCount returns the number of entries written (including tombstones;
// a second write to the same key still counts once per call to Put/Delete,
// matching spec's "size accounting is updated on every mutation").
func (mt *MemTable) EntryCount() int64 {
	return mt.numEntries.Load()
}

// SequenceRange returns the lowest and highest sequence numbers this
// MemTable has accepted.
func (mt *MemTable) SequenceRange() (first, last dbformat.SequenceNumber) {
	return dbformat.SequenceNumber(mt.firstSeq.Load()), dbformat.SequenceNumber(mt.lastSeq.Load())
}

// Put inserts a live value for key at sequence seq.
func (mt *MemTable) Put(key, value []byte, seq dbformat.SequenceNumber) error {
	return mt.add(key, value, seq, dbformat.KindPut)
}

// Delete inserts a tombstone for key at sequence seq.
func (mt *MemTable) Delete(key []byte, seq dbformat.SequenceNumber) error {
	return mt.add(key, nil, seq, dbformat.KindDelete)
}

func (mt *MemTable) add(key, value []byte, seq dbformat.SequenceNumber, kind dbformat.Kind) error {
	if mt.State() != Active {
		return errs.New(errs.ReadOnly, "memtable: write to frozen memtable")
	}

	internalKey := dbformat.NewInternalKey(key, seq, kind)

	entry := make([]byte, 0, len(internalKey)+len(value)+10)
	entry = encoding.AppendVarint32(entry, uint32(len(internalKey)))
	entry = append(entry, internalKey...)
	entry = encoding.AppendVarint32(entry, uint32(len(value)))
	entry = append(entry, value...)

	mt.mu.Lock()
	mt.skiplist.Insert(entry)
	mt.mu.Unlock()

	mt.byteSize.Add(int64(len(key) + len(value) + entryOverhead))
	mt.numEntries.Add(1)

	for {
		cur := mt.firstSeq.Load()
		if uint64(seq) >= cur {
			break
		}
		if mt.firstSeq.CompareAndSwap(cur, uint64(seq)) {
			break
		}
	}
	for {
		cur := mt.lastSeq.Load()
		if uint64(seq) <= cur {
			break
		}
		if mt.lastSeq.CompareAndSwap(cur, uint64(seq)) {
			break
		}
	}
	return nil
}

// LookupResult is the outcome of a MemTable Get.
type LookupResult int

const (
	// NotFound means the key has no entry in this MemTable at all.
	NotFound LookupResult = iota
	// FoundValue means a live value was found.
	FoundValue
	// FoundTombstone means the most recent entry for the key is a delete.
	FoundTombstone
)

// Get looks up key as of sequence seq (entries with a higher sequence
// number are not visible to this read).
func (mt *MemTable) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, result LookupResult) {
	lookupKey := dbformat.NewInternalKey(key, seq, dbformat.KindPut)

	mt.mu.RLock()
	iter := mt.skiplist.NewIterator()
	iter.Seek(lookupEntryPrefix(lookupKey))
	var entryKey, entryValue []byte
	var ok bool
	if iter.Valid() {
		entryKey, entryValue, ok = parseEntry(iter.Key())
	}
	mt.mu.RUnlock()

	if !ok {
		return nil, NotFound
	}

	ik := dbformat.InternalKey(entryKey)
	if dbformat.BytewiseCompare(ik.UserKey(), key) != 0 {
		return nil, NotFound
	}
	if ik.Sequence() > seq {
		return nil, NotFound
	}

	if ik.Kind() == dbformat.KindDelete {
		return nil, FoundTombstone
	}
	return entryValue, FoundValue
}

// Iterator walks every entry in the MemTable in internal-key order (user
// key ascending, sequence number descending).
type Iterator struct {
	it *skiplist.Iterator
}

// NewIterator returns a fresh iterator positioned before the first entry.
func (mt *MemTable) NewIterator() *Iterator {
	mt.mu.RLock()
	it := mt.skiplist.NewIterator()
	mt.mu.RUnlock()
	return &Iterator{it: it}
}

// SeekToFirst positions the iterator at the first entry.
func (it *Iterator) SeekToFirst() { it.it.SeekToFirst() }

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Next advances the iterator.
func (it *Iterator) Next() { it.it.Next() }

// InternalKey returns the current entry's internal key.
func (it *Iterator) InternalKey() dbformat.InternalKey {
	k, _, _ := parseEntry(it.it.Key())
	return dbformat.InternalKey(k)
}

// Value returns the current entry's value (empty for tombstones).
func (it *Iterator) Value() []byte {
	_, v, _ := parseEntry(it.it.Key())
	return v
}

func parseEntry(entry []byte) (internalKey, value []byte, ok bool) {
	keyLen, n, err := encoding.DecodeVarint32(entry)
	if err != nil || n <= 0 || n+int(keyLen) > len(entry) {
		return nil, nil, false
	}
	internalKey = entry[n : n+int(keyLen)]
	rest := entry[n+int(keyLen):]

	valLen, n2, err := encoding.DecodeVarint32(rest)
	if err != nil || n2 <= 0 || n2+int(valLen) > len(rest) {
		return nil, nil, false
	}
	value = rest[n2 : n2+int(valLen)]
	return internalKey, value, true
}

// lookupEntryPrefix builds a skiplist seek key: an entry with no value,
// whose internal key matches lookupKey. compareEntries only inspects the
// internal key portion, so this is sufficient to position the iterator.
func lookupEntryPrefix(lookupKey dbformat.InternalKey) []byte {
	entry := make([]byte, 0, len(lookupKey)+6)
	entry = encoding.AppendVarint32(entry, uint32(len(lookupKey)))
	entry = append(entry, lookupKey...)
	entry = encoding.AppendVarint32(entry, 0)
	return entry
}

// compareEntries orders two skiplist entries by their embedded internal
// key, using dbformat's user-key-ascending/sequence-descending rule.
func compareEntries(a, b []byte) int {
	aKey, _, aOK := parseEntry(a)
	bKey, _, bOK := parseEntry(b)
	if !aOK || !bOK {
		return dbformat.BytewiseCompare(a, b)
	}
	return dbformat.Default.Compare(aKey, bKey)
}
