package sstable

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// entryHeaderSize is key_len(4) + value_len(4) + sequence(8) + kind(1).
const entryHeaderSize = 4 + 4 + 8 + 1

// appendEntry appends one data-block record: {key_len, value_len,
// sequence, kind, key, value}.
func appendEntry(dst []byte, key, value []byte, seq dbformat.SequenceNumber, kind dbformat.Kind) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(key)))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(value)))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(seq))
	dst = append(dst, byte(kind))
	dst = append(dst, key...)
	dst = append(dst, value...)
	return dst
}

// DecodedEntry is one parsed data-block record.
type DecodedEntry struct {
	Key      []byte
	Value    []byte
	Sequence dbformat.SequenceNumber
	Kind     dbformat.Kind
}

// decodeEntry parses one record at the start of data, returning the
// record and the number of bytes it occupied.
func decodeEntry(data []byte) (DecodedEntry, int, error) {
	if len(data) < entryHeaderSize {
		return DecodedEntry{}, 0, errs.New(errs.Corruption, "sstable: truncated entry header")
	}
	keyLen := binary.LittleEndian.Uint32(data[0:4])
	valLen := binary.LittleEndian.Uint32(data[4:8])
	seq := binary.LittleEndian.Uint64(data[8:16])
	kind := dbformat.Kind(data[16])

	total := entryHeaderSize + int(keyLen) + int(valLen)
	if len(data) < total {
		return DecodedEntry{}, 0, errs.New(errs.Corruption, "sstable: truncated entry body")
	}
	key := data[entryHeaderSize : entryHeaderSize+int(keyLen)]
	value := data[entryHeaderSize+int(keyLen) : total]
	return DecodedEntry{Key: key, Value: value, Sequence: dbformat.SequenceNumber(seq), Kind: kind}, total, nil
}

// EntryIterator walks the decoded entries of one data block's raw
// (decompressed) payload in storage order (ascending by key).
type EntryIterator struct {
	data []byte
	pos  int
	cur  DecodedEntry
	err  error
}

// NewEntryIterator returns an iterator over raw, positioned before the
// first entry.
func NewEntryIterator(raw []byte) *EntryIterator {
	return &EntryIterator{data: raw}
}

// Next advances to the next entry, returning false at end of block or on
// a decode error (check Err()).
func (it *EntryIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.data) {
		return false
	}
	e, n, err := decodeEntry(it.data[it.pos:])
	if err != nil {
		it.err = err
		return false
	}
	it.cur = e
	it.pos += n
	return true
}

// Entry returns the entry at the iterator's current position.
func (it *EntryIterator) Entry() DecodedEntry { return it.cur }

// Err returns the first decode error encountered, if any.
func (it *EntryIterator) Err() error { return it.err }
