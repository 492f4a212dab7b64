package sstable

import (
	"bufio"
	"os"

	"github.com/concordkv/concordkv/internal/bloom"
	"github.com/concordkv/concordkv/internal/compression"
	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// WriterOptions configures a new SSTable's block size, compression, and
// bloom filter.
type WriterOptions struct {
	BlockSize         int // target data block size before closing it, default 4 KiB
	Compression       compression.Type
	EnableBloom       bool
	BloomVariant      bloom.Variant
	BloomHashFamily   bloom.HashFamily
	BloomTargetFPRate float64 // e.g. 0.01 for 1%
	ExpectedEntries   int     // not read by Writer: Finalize sizes the bloom filter from the number of keys actually put.
}

// DefaultWriterOptions returns the documented defaults.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		BlockSize:         4096,
		Compression:       compression.None,
		EnableBloom:       true,
		BloomVariant:      bloom.VariantBlocked,
		BloomHashFamily:   bloom.HashXXH3,
		BloomTargetFPRate: 0.01,
	}
}

// Writer builds one immutable SSTable file. Put must be called with keys
// in strictly ascending order (the MemTable flush path and the
// compaction merge iterator both guarantee this); Finalize closes out the
// index, bloom, and footer and fsyncs the file.
type Writer struct {
	opts WriterOptions
	f    *os.File
	buf  *bufio.Writer

	offset int64

	curBlock    []byte // raw (uncompressed) entries accumulated so far
	curCount    int
	curMaxSeq   dbformat.SequenceNumber
	curFirstKey []byte

	index []indexEntry

	keys [][]byte // all keys seen, buffered for the bloom filter

	hasLast  bool
	lastKey  []byte
	minKey   []byte
	maxKey   []byte
	minSeq   dbformat.SequenceNumber
	maxSeq   dbformat.SequenceNumber
	total    uint64
	finished bool
}

// NewWriter creates path and returns a Writer for it.
func NewWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultWriterOptions().BlockSize
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "sstable.NewWriter", err).WithPath(path)
	}
	return &Writer{opts: opts, f: f, buf: bufio.NewWriter(f), minSeq: dbformat.MaxSequenceNumber}, nil
}

// Put appends one entry. keys must arrive in strictly ascending order;
// an out-of-order key returns errs.InvalidParam without modifying state
// further.
func (w *Writer) Put(key, value []byte, seq dbformat.SequenceNumber, kind dbformat.Kind) error {
	if w.finished {
		return errs.New(errs.InvalidState, "sstable: put after finalize")
	}
	if len(key) == 0 {
		return errs.New(errs.InvalidParam, "sstable: empty key")
	}
	if w.hasLast && dbformat.BytewiseCompare(key, w.lastKey) <= 0 {
		return errs.New(errs.InvalidParam, "sstable: keys must be strictly ascending")
	}

	if len(w.curBlock) == 0 {
		w.curFirstKey = append([]byte(nil), key...)
	}
	w.curBlock = appendEntry(w.curBlock, key, value, seq, kind)
	w.curCount++
	if seq > w.curMaxSeq {
		w.curMaxSeq = seq
	}

	if w.minKey == nil || dbformat.BytewiseCompare(key, w.minKey) < 0 {
		w.minKey = append([]byte(nil), key...)
	}
	if w.maxKey == nil || dbformat.BytewiseCompare(key, w.maxKey) > 0 {
		w.maxKey = append([]byte(nil), key...)
	}
	if seq < w.minSeq {
		w.minSeq = seq
	}
	if seq > w.maxSeq {
		w.maxSeq = seq
	}
	w.total++
	w.hasLast = true
	w.lastKey = append([]byte(nil), key...)
	w.keys = append(w.keys, append([]byte(nil), key...))

	if len(w.curBlock) >= w.opts.BlockSize {
		return w.flushDataBlock()
	}
	return nil
}

func (w *Writer) flushDataBlock() error {
	if len(w.curBlock) == 0 {
		return nil
	}
	encoded, err := encodeBlock(BlockData, w.opts.Compression, w.curCount, w.curBlock)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(encoded); err != nil {
		return errs.Wrap(errs.IO, "sstable.flushDataBlock", err)
	}
	w.index = append(w.index, indexEntry{
		Key:    w.curFirstKey,
		Offset: uint64(w.offset),
		Size:   uint32(len(encoded)),
		MaxSeq: w.curMaxSeq,
	})
	w.offset += int64(len(encoded))
	w.curBlock = w.curBlock[:0]
	w.curCount = 0
	w.curMaxSeq = 0
	w.curFirstKey = nil
	return nil
}

// Finalize flushes any pending data block, writes the index block, bloom
// block, min/max-key blob, and footer, then fsyncs the file. The Writer
// must not be used afterward.
func (w *Writer) Finalize() error {
	if w.finished {
		return errs.New(errs.InvalidState, "sstable: already finalized")
	}
	w.finished = true

	if err := w.flushDataBlock(); err != nil {
		return err
	}

	var indexRaw []byte
	for _, e := range w.index {
		indexRaw = appendIndexEntry(indexRaw, e)
	}
	indexEncoded, err := encodeBlock(BlockIndex, compression.None, len(w.index), indexRaw)
	if err != nil {
		return err
	}
	indexOffset := w.offset
	if _, err := w.buf.Write(indexEncoded); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}
	w.offset += int64(len(indexEncoded))

	var bloomOffset int64
	var bloomSize int
	if w.opts.EnableBloom && len(w.keys) > 0 {
		params := bloom.Derive(len(w.keys), w.opts.BloomTargetFPRate)
		filter := bloom.Build(w.opts.BloomVariant, w.opts.BloomHashFamily, params)
		for _, k := range w.keys {
			filter.Add(k)
		}
		payload, err := encodeBloomPayload(w.opts.BloomVariant, w.opts.BloomHashFamily, params, filter)
		if err != nil {
			return err
		}
		bloomEncoded, err := encodeBlock(BlockBloom, compression.None, len(w.keys), payload)
		if err != nil {
			return err
		}
		bloomOffset = w.offset
		bloomSize = len(bloomEncoded)
		if _, err := w.buf.Write(bloomEncoded); err != nil {
			return errs.Wrap(errs.IO, "sstable.Finalize", err)
		}
		w.offset += int64(bloomSize)
	}

	minKeyOffset := w.offset
	if _, err := w.buf.Write(w.minKey); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}
	w.offset += int64(len(w.minKey))
	maxKeyOffset := w.offset
	if _, err := w.buf.Write(w.maxKey); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}
	w.offset += int64(len(w.maxKey))

	footer := Footer{
		FormatVersion: FormatVersion,
		IndexOffset:   uint64(indexOffset),
		IndexSize:     uint32(len(indexEncoded)),
		BloomOffset:   uint64(bloomOffset),
		BloomSize:     uint32(bloomSize),
		MinKeyOffset:  uint64(minKeyOffset),
		MinKeyLen:     uint32(len(w.minKey)),
		MaxKeyOffset:  uint64(maxKeyOffset),
		MaxKeyLen:     uint32(len(w.maxKey)),
		MinSeq:        w.minSeq,
		MaxSeq:        w.maxSeq,
		TotalEntries:  w.total,
	}
	if _, err := w.buf.Write(footer.Encode()); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}

	if err := w.buf.Flush(); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}
	if err := w.f.Sync(); err != nil {
		return errs.Wrap(errs.IO, "sstable.Finalize", err)
	}
	return w.f.Close()
}

// Abort closes and removes a partially written file, used when a
// compaction or flush task is cancelled mid-write: partially written
// output files must never be left behind as live data.
func (w *Writer) Abort(path string) error {
	w.f.Close()
	return os.Remove(path)
}

// MinMaxKey returns the smallest and largest user keys written so far.
func (w *Writer) MinMaxKey() (min, max []byte) { return w.minKey, w.maxKey }

// EntryCount returns the number of entries written so far.
func (w *Writer) EntryCount() uint64 { return w.total }

// Offset returns the current uncommitted file offset (useful for callers
// that want to cap output file size around a target_file_size during
// compaction, default 64 MiB).
func (w *Writer) Offset() int64 { return w.offset }
