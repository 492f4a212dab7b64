// Package sstable implements the immutable on-disk sorted run: a
// concatenation of data blocks, one index block, one bloom block, and a
// fixed footer, each protected by CRC32 and optionally compressed.
//
// The entry layout is a plain fixed-field record with no prefix
// compression and no restart points: a fixed footer, per-block CRC32,
// and index/bloom offset+size pairs.
package sstable

import (
	"encoding/binary"

	"github.com/concordkv/concordkv/internal/checksum"
	"github.com/concordkv/concordkv/internal/compression"
	"github.com/concordkv/concordkv/internal/errs"
)

// BlockType identifies the kind of block a header precedes.
type BlockType uint8

const (
	// BlockData holds a run of entry records.
	BlockData BlockType = 1
	// BlockIndex holds one record per data block.
	BlockIndex BlockType = 2
	// BlockBloom holds the encoded bloom filter.
	BlockBloom BlockType = 3
	// BlockFooter is recorded in the header enum for completeness; the
	// footer itself is a distinct, simpler fixed layout (see footer.go)
	// and is never wrapped in a generic block header.
	BlockFooter BlockType = 4
)

// blockMagic identifies the start of a block header, guarding against
// misinterpreting arbitrary file offsets as a block.
const blockMagic uint32 = 0x53535442 // "SSTB"

// headerSize is magic(4) + type(1) + compression(1) + reserved(2) +
// entry_count(4) + uncompressed_size(4) + compressed_size(4) + crc32(4).
const headerSize = 4 + 1 + 1 + 2 + 4 + 4 + 4 + 4

type blockHeader struct {
	Type             BlockType
	Compression      compression.Type
	EntryCount       uint32
	UncompressedSize uint32
	CompressedSize   uint32
	CRC32            uint32
}

func encodeHeader(h blockHeader) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], blockMagic)
	buf[4] = byte(h.Type)
	buf[5] = byte(h.Compression)
	// buf[6:8] reserved, left zero
	binary.LittleEndian.PutUint32(buf[8:12], h.EntryCount)
	binary.LittleEndian.PutUint32(buf[12:16], h.UncompressedSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC32)
	return buf
}

func decodeHeader(buf []byte) (blockHeader, error) {
	if len(buf) < headerSize {
		return blockHeader{}, errs.New(errs.Corruption, "sstable: block header too short")
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != blockMagic {
		return blockHeader{}, errs.New(errs.Corruption, "sstable: bad block magic")
	}
	return blockHeader{
		Type:             BlockType(buf[4]),
		Compression:      compression.Type(buf[5]),
		EntryCount:       binary.LittleEndian.Uint32(buf[8:12]),
		UncompressedSize: binary.LittleEndian.Uint32(buf[12:16]),
		CompressedSize:   binary.LittleEndian.Uint32(buf[16:20]),
		CRC32:            binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// encodeBlock writes a header + (optionally compressed) payload for raw,
// returning the full on-disk bytes for this block.
func encodeBlock(typ BlockType, compType compression.Type, entryCount int, raw []byte) ([]byte, error) {
	compressed, err := compression.Compress(compType, raw)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "sstable.encodeBlock", err)
	}
	h := blockHeader{
		Type:             typ,
		Compression:      compType,
		EntryCount:       uint32(entryCount),
		UncompressedSize: uint32(len(raw)),
		CompressedSize:   uint32(len(compressed)),
		CRC32:            checksum.Value(compressed),
	}
	out := make([]byte, 0, headerSize+len(compressed))
	out = append(out, encodeHeader(h)...)
	out = append(out, compressed...)
	return out, nil
}

// decodeBlock parses a header-prefixed block, verifies its checksum, and
// returns the decompressed payload.
func decodeBlock(data []byte) ([]byte, blockHeader, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, h, err
	}
	body := data[headerSize:]
	if uint32(len(body)) < h.CompressedSize {
		return nil, h, errs.New(errs.Corruption, "sstable: block body truncated")
	}
	body = body[:h.CompressedSize]
	if checksum.Value(body) != h.CRC32 {
		return nil, h, errs.New(errs.Corruption, "sstable: block checksum mismatch")
	}
	raw, err := compression.Decompress(h.Compression, body, int(h.UncompressedSize))
	if err != nil {
		return nil, h, errs.Wrap(errs.Corruption, "sstable.decodeBlock", err)
	}
	return raw, h, nil
}
