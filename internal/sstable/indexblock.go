package sstable

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/dbformat"
	"github.com/concordkv/concordkv/internal/errs"
)

// indexEntryHeaderSize is key_len(4) + offset(8) + size(4) + sequence(8).
const indexEntryHeaderSize = 4 + 8 + 4 + 8

// indexEntry points at one data block, keyed by that block's smallest key.
type indexEntry struct {
	Key      []byte
	Offset   uint64
	Size     uint32
	MaxSeq   dbformat.SequenceNumber
}

func appendIndexEntry(dst []byte, e indexEntry) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Key)))
	dst = binary.LittleEndian.AppendUint64(dst, e.Offset)
	dst = binary.LittleEndian.AppendUint32(dst, e.Size)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(e.MaxSeq))
	dst = append(dst, e.Key...)
	return dst
}

func decodeIndexEntry(data []byte) (indexEntry, int, error) {
	if len(data) < indexEntryHeaderSize {
		return indexEntry{}, 0, errs.New(errs.Corruption, "sstable: truncated index entry header")
	}
	keyLen := binary.LittleEndian.Uint32(data[0:4])
	offset := binary.LittleEndian.Uint64(data[4:12])
	size := binary.LittleEndian.Uint32(data[12:16])
	seq := binary.LittleEndian.Uint64(data[16:24])

	total := indexEntryHeaderSize + int(keyLen)
	if len(data) < total {
		return indexEntry{}, 0, errs.New(errs.Corruption, "sstable: truncated index entry key")
	}
	key := data[indexEntryHeaderSize:total]
	return indexEntry{Key: key, Offset: offset, Size: size, MaxSeq: dbformat.SequenceNumber(seq)}, total, nil
}

// decodeIndexBlock parses every entry of an index block's raw payload.
func decodeIndexBlock(raw []byte) ([]indexEntry, error) {
	var entries []indexEntry
	pos := 0
	for pos < len(raw) {
		e, n, err := decodeIndexEntry(raw[pos:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		pos += n
	}
	return entries, nil
}

// findDataBlock binary-searches entries (sorted by smallest key ascending)
// for the block whose range may cover key: the last entry whose key is <=
// the user key of internalKey.
func findDataBlock(entries []indexEntry, internalKey []byte) (indexEntry, bool) {
	target := dbformat.ExtractUserKey(internalKey)
	lo, hi := 0, len(entries)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if dbformat.BytewiseCompare(entries[mid].Key, target) <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best < 0 {
		// key is smaller than every block's smallest key; still worth
		// trying the first block in case of an off-by-one in comparator
		// semantics around user-key equality.
		if len(entries) == 0 {
			return indexEntry{}, false
		}
		return entries[0], true
	}
	return entries[best], true
}
