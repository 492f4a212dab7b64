package sstable

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/concordkv/concordkv/internal/bloom"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// Reader opens a finalized SSTable file, keeping its footer, index block,
// and bloom block resident in memory. Data blocks are read on demand and
// cached in a small bounded cache.
type Reader struct {
	path   string
	f      *os.File
	footer Footer
	index  []indexEntry
	filter bloom.Filter

	refcount atomic.Int64

	cacheMu    sync.Mutex
	cache      map[uint64][]byte
	cacheOrder []uint64
	cacheCap   int
	hits       atomic.Int64
	misses     atomic.Int64
}

// ReaderOptions configures the Reader's data block cache.
type ReaderOptions struct {
	BlockCacheEntries int // 0 disables caching
}

// Open reads and verifies path's footer, then loads its index and bloom
// blocks entirely into memory. A file with no valid footer (a partial
// write left by a crashed flush or compaction) is reported as
// errs.Corruption, which the caller's recovery sweep treats as
// nonexistent and schedules for deletion.
func Open(path string, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "sstable.Open", err).WithPath(path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, "sstable.Open", err).WithPath(path)
	}
	if info.Size() < FooterSize {
		f.Close()
		return nil, errs.New(errs.Corruption, "sstable: file smaller than footer").WithPath(path)
	}

	footerBuf := make([]byte, FooterSize)
	if _, err := f.ReadAt(footerBuf, info.Size()-FooterSize); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, "sstable.Open", err).WithPath(path)
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		f.Close()
		return nil, err
	}

	indexRaw, err := readBlockAt(f, footer.IndexOffset, footer.IndexSize)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.Corruption, "sstable.Open", err).WithPath(path)
	}
	index, err := decodeIndexBlock(indexRaw)
	if err != nil {
		f.Close()
		return nil, err
	}

	var filter bloom.Filter
	if footer.BloomSize > 0 {
		bloomRaw, err := readBlockAt(f, footer.BloomOffset, footer.BloomSize)
		if err != nil {
			f.Close()
			return nil, errs.Wrap(errs.Corruption, "sstable.Open", err).WithPath(path)
		}
		filter, err = decodeBloomPayload(bloomRaw)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	cacheCap := opts.BlockCacheEntries
	r := &Reader{
		path:     path,
		f:        f,
		footer:   footer,
		index:    index,
		filter:   filter,
		cacheCap: cacheCap,
	}
	if cacheCap > 0 {
		r.cache = make(map[uint64][]byte, cacheCap)
	}
	r.refcount.Store(1)
	return r, nil
}

func readBlockAt(f *os.File, offset uint64, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(offset)); err != nil {
		return nil, err
	}
	raw, _, err := decodeBlock(buf)
	return raw, err
}

// MayContain consults the bloom filter. A false result is a definitive
// "not in this file"; a true result means "maybe".
func (r *Reader) MayContain(key []byte) bool {
	if r.filter == nil {
		return true
	}
	return r.filter.MayContain(key)
}

// Get returns the newest Entry for key in this file, or errs.NotFound.
// seq bounds visibility: entries with a higher sequence number than seq
// are not returned (used for snapshot-style reads; pass
// dbformat.MaxSequenceNumber for "latest").
func (r *Reader) Get(key []byte, seq dbformat.SequenceNumber) (value []byte, kind dbformat.Kind, foundSeq dbformat.SequenceNumber, err error) {
	if !r.MayContain(key) {
		return nil, 0, 0, errs.New(errs.NotFound, "sstable: bloom filter excludes key")
	}

	lookupKey := dbformat.NewInternalKey(key, seq, dbformat.KindPut)
	entry, ok := findDataBlock(r.index, lookupKey)
	if !ok {
		return nil, 0, 0, errs.New(errs.NotFound, "sstable: empty index")
	}

	raw, err := r.readDataBlock(entry)
	if err != nil {
		return nil, 0, 0, err
	}

	it := NewEntryIterator(raw)
	var best *DecodedEntry
	for it.Next() {
		e := it.Entry()
		if dbformat.BytewiseCompare(e.Key, key) != 0 {
			continue
		}
		if e.Sequence > seq {
			continue
		}
		if best == nil || e.Sequence > best.Sequence {
			cp := e
			cp.Key = append([]byte(nil), e.Key...)
			cp.Value = append([]byte(nil), e.Value...)
			best = &cp
		}
	}
	if it.Err() != nil {
		return nil, 0, 0, errs.Wrap(errs.Corruption, "sstable.Get", it.Err()).WithPath(r.path)
	}
	if best == nil {
		return nil, 0, 0, errs.New(errs.NotFound, "sstable: key absent from candidate block")
	}
	return best.Value, best.Kind, best.Sequence, nil
}

func (r *Reader) readDataBlock(e indexEntry) ([]byte, error) {
	if r.cacheCap > 0 {
		r.cacheMu.Lock()
		if raw, ok := r.cache[e.Offset]; ok {
			r.cacheMu.Unlock()
			r.hits.Add(1)
			return raw, nil
		}
		r.cacheMu.Unlock()
	}
	r.misses.Add(1)

	buf := make([]byte, e.Size)
	if _, err := r.f.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, errs.Wrap(errs.IO, "sstable.readDataBlock", err).WithPath(r.path)
	}
	raw, _, err := decodeBlock(buf)
	if err != nil {
		return nil, errs.Wrap(errs.Corruption, "sstable.readDataBlock", err).WithPath(r.path)
	}

	if r.cacheCap > 0 {
		r.cacheMu.Lock()
		if _, exists := r.cache[e.Offset]; !exists {
			if len(r.cacheOrder) >= r.cacheCap {
				oldest := r.cacheOrder[0]
				r.cacheOrder = r.cacheOrder[1:]
				delete(r.cache, oldest)
			}
			r.cache[e.Offset] = raw
			r.cacheOrder = append(r.cacheOrder, e.Offset)
		}
		r.cacheMu.Unlock()
	}
	return raw, nil
}

// NewIterator returns an iterator over every entry in the file in
// ascending key order, used by compaction's merge iterator.
func (r *Reader) NewIterator() *Iterator {
	return &Iterator{r: r}
}

// Iterator walks an entire SSTable file's entries in storage order.
type Iterator struct {
	r          *Reader
	blockIdx   int
	entryIter  *EntryIterator
	cur        DecodedEntry
	err        error
	exhausted  bool
}

// Next advances to the next entry, returning false at end of file or on
// a decode/IO error (check Err()).
func (it *Iterator) Next() bool {
	if it.exhausted || it.err != nil {
		return false
	}
	for {
		if it.entryIter != nil && it.entryIter.Next() {
			it.cur = it.entryIter.Entry()
			return true
		}
		if it.entryIter != nil && it.entryIter.Err() != nil {
			it.err = it.entryIter.Err()
			return false
		}
		if it.blockIdx >= len(it.r.index) {
			it.exhausted = true
			return false
		}
		raw, err := it.r.readDataBlock(it.r.index[it.blockIdx])
		if err != nil {
			it.err = err
			return false
		}
		it.blockIdx++
		it.entryIter = NewEntryIterator(raw)
	}
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() DecodedEntry { return it.cur }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Footer exposes the file's footer summary (min/max seq, entry count).
func (r *Reader) Footer() Footer { return r.footer }

// MinKey returns the smallest key in the file, read lazily from disk on
// first access (it is small and rarely needed outside of level-manager
// range checks).
func (r *Reader) MinKey() ([]byte, error) {
	return r.readKeyBlob(r.footer.MinKeyOffset, r.footer.MinKeyLen)
}

// MaxKey returns the largest key in the file.
func (r *Reader) MaxKey() ([]byte, error) {
	return r.readKeyBlob(r.footer.MaxKeyOffset, r.footer.MaxKeyLen)
}

func (r *Reader) readKeyBlob(offset uint64, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if _, err := r.f.ReadAt(buf, int64(offset)); err != nil {
		return nil, errs.Wrap(errs.IO, "sstable.readKeyBlob", err).WithPath(r.path)
	}
	return buf, nil
}

// CacheStats returns the reader's data-block cache hit/miss counters.
func (r *Reader) CacheStats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

// Acquire increments the reader's reference count. SSTable file handles
// are reference-counted so the file stays open while any holder is still
// using it.
func (r *Reader) Acquire() { r.refcount.Add(1) }

// Release decrements the reference count and, if it reaches zero, closes
// the underlying file. It does not unlink the file: a compaction unlinks
// its obsolete input files after removing them from the level manager.
func (r *Reader) Release() error {
	if r.refcount.Add(-1) == 0 {
		return r.f.Close()
	}
	return nil
}

// Refcount returns the current reference count, for tests and diagnostics.
func (r *Reader) Refcount() int64 { return r.refcount.Load() }
