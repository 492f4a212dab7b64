// Package checksum provides the checksum and hashing primitives used by
// every on-disk format in ConcordKV.
//
// Block and record payloads are protected with a plain CRC32 (IEEE
// polynomial, via the standard library). Bloom filter hashing uses XXH3-64
// from github.com/zeebo/xxh3.
package checksum

import "hash/crc32"

// Value computes the CRC32 (IEEE) checksum of data.
func Value(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Extend computes the CRC32 of concat(A, data) where initCRC is the CRC32 of A.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, crc32.IEEETable, data)
}
