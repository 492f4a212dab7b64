package checksum

import "github.com/zeebo/xxh3"

// XXH3 computes the 64-bit XXH3 hash of data.
func XXH3(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3Seed computes the 64-bit XXH3 hash of data with an explicit seed,
// used by the bloom filter's xxHash hash family to derive independent
// hash values from a single input.
func XXH3Seed(data []byte, seed uint64) uint64 {
	return xxh3.HashSeed(data, seed)
}
