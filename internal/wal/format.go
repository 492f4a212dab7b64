// Package wal implements the write-ahead log: append-only segments of
// fixed-layout mutation records consulted for crash recovery.
//
// Record format, one per mutation, no cross-block fragmentation:
//
//	magic (2B) | length (4B) | kind (1B) | sequence (8B) |
//	key_len (4B) | value_len (4B) | key | value | crc32 (4B)
//
// length covers everything after itself (kind through crc32). The crc32
// covers kind through value, so flipping any bit
// in the payload is caught on replay without needing to trust length.
//
// There is no 32KB block-fragmentation scheme here: this WAL has exactly
// one record per mutation, so there is nothing to fragment across block
// boundaries.
package wal

import "errors"

// Magic identifies a ConcordKV WAL record header.
const Magic uint16 = 0x434B // "CK"

// HeaderSize is magic(2) + length(4).
const HeaderSize = 2 + 4

// RecordOverhead is kind(1) + sequence(8) + key_len(4) + value_len(4) + crc32(4).
const RecordOverhead = 1 + 8 + 4 + 4 + 4

var (
	// ErrBadMagic means the record header's magic bytes don't match,
	// which on replay is treated the same as a torn/corrupt tail: stop
	// reading, don't fail recovery.
	ErrBadMagic = errors.New("wal: bad record magic")

	// ErrChecksumMismatch means the record's CRC32 didn't match its
	// payload.
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")

	// ErrShortRecord means the file ended before a full record's bytes
	// (header says N bytes follow, file has fewer) — a torn tail write.
	ErrShortRecord = errors.New("wal: short record")
)
